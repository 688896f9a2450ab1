// Package ring implements the shared-memory producer/consumer ring
// (PSRDADA HDU) attachment used to publish captured packet data to a
// downstream reader. This package never creates or destroys the ring's
// shared-memory segment — only the external coordinator that created it
// owns that lifecycle; ring only attaches, writes, and disconnects.
package ring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/behrlich/rocecap/internal/constants"
	"github.com/behrlich/rocecap/internal/logging"
	"github.com/behrlich/rocecap/internal/verbs"
)

// BlockState reports whether a ring block has room for more writes,
// collapsing the separate decrement-count and is-full queries into a
// single return value.
type BlockState int

const (
	BlockPartial BlockState = iota
	BlockFull
)

// BlockHandle identifies a currently-acquired writable ring block.
type BlockHandle struct {
	index int
	data  []byte
}

// Bytes returns the writable memory backing this block, used by the
// capture engine's staged-copy strategy as the copy destination and by
// DirectToRing as the scatter-gather target registered with the NIC.
func (h BlockHandle) Bytes() []byte { return h.data }

// NewBlockHandle builds a BlockHandle for Producer implementations
// outside this package, such as the in-memory MockProducer used in
// tests.
func NewBlockHandle(index int, data []byte) BlockHandle {
	return BlockHandle{index: index, data: data}
}

// Producer is the ring's writer-side interface: attach, block
// acquisition and accounting, publication, occupancy queries, and the
// EOD handshake.
type Producer interface {
	Attach(ctx context.Context, key uint32) error
	AcquireNextWritableBlock(ctx context.Context) (BlockHandle, error)
	NoteBatchWritten(h BlockHandle, n int) (BlockState, error)
	Publish(h BlockHandle) error
	UsedBytes() int64
	FreeBytes() int64
	BlockSize() int64
	SendEODAndDisconnect(ctx context.Context) error
}

// HDUProducer is the concrete Producer implementation, speaking
// PSRDADA's HDU writer protocol.
type HDUProducer struct {
	mu sync.Mutex

	key       uint32
	blockSize int64
	nBufs     int

	seg    *attachedSegment
	lock   *writerLock
	qp     verbs.QueuePair
	mr     *verbs.MRSet
	header Header

	blocks     [][]byte
	currentIdx int
	writeCount int64
	readCount  int64

	writesPerBlock  int
	remainingWrites int

	freeBlocks freeBlockWaiter

	attached bool

	dump *DebugDump // non-nil only when --dump-dir is set
}

// Config configures an HDUProducer.
type Config struct {
	BlockSize      int64
	NBufs          int
	WritesPerBlock int
	Header         Header
	QueuePair      verbs.QueuePair // nil is valid: registration is skipped (tests, dry-run)
	Dump           *DebugDump      // nil disables the --dump-dir mirror
}

// NewHDUProducer creates an unattached producer. Attach must be called
// before any other method.
func NewHDUProducer(cfg Config) *HDUProducer {
	return &HDUProducer{
		blockSize:      cfg.BlockSize,
		nBufs:          cfg.NBufs,
		writesPerBlock: cfg.WritesPerBlock,
		qp:             cfg.QueuePair,
		header:         cfg.Header,
		dump:           cfg.Dump,
	}
}

// Attach connects to the existing HDU by 32-bit hex key, takes the
// writer lock, carves the segment into nBufs blocks, and writes the
// header record once.
func (p *HDUProducer) Attach(ctx context.Context, key uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger := logging.Default()

	if p.attached {
		return fmt.Errorf("rocecap/ring: already attached to key %#x", p.key)
	}
	if p.nBufs <= 0 || p.blockSize <= 0 {
		return fmt.Errorf("rocecap/ring: invalid nbufs=%d blockSize=%d", p.nBufs, p.blockSize)
	}

	totalSize := HeaderSize + int(p.blockSize)*p.nBufs
	seg, err := attachSharedMemory(key, totalSize)
	if err != nil {
		return err
	}

	lock, err := acquireWriterLock(key)
	if err != nil {
		seg.detach()
		return err
	}

	p.key = key
	p.seg = seg
	p.lock = lock
	p.blocks = make([][]byte, p.nBufs)
	for i := 0; i < p.nBufs; i++ {
		start := HeaderSize + i*int(p.blockSize)
		p.blocks[i] = seg.data[start : start+int(p.blockSize)]
	}

	hdrBytes, err := p.header.Encode()
	if err != nil {
		lock.release()
		seg.detach()
		return err
	}
	copy(seg.data[:HeaderSize], hdrBytes)

	if p.qp != nil {
		mr, fellBack, err := verbs.RegisterRing(p.qp, p.blocks)
		if err != nil {
			lock.release()
			seg.detach()
			return fmt.Errorf("rocecap/ring: mr registration failed: %w", err)
		}
		p.mr = mr
		if fellBack {
			logger.Warn("whole-ring MR registration failed, using per-block registration")
		}
	}

	p.freeBlocks = &sysvFreeBlockSem{semID: lock.semID}
	p.attached = true
	p.currentIdx = -1
	logger.Info("attached to ring", "key", fmt.Sprintf("%#x", key), "nbufs", p.nBufs, "block_size", p.blockSize)
	return nil
}

// AcquireNextWritableBlock wraps ipcbuf_get_next_write: blocks on the
// free-block semaphore until the reader has drained a slot, then
// advances to the next block index and resets remaining_writes to
// writes_per_block. Blocking here is the backpressure path, not an
// error.
//
// The semaphore wait happens outside the mutex: it may block for an
// arbitrary time waiting on the reader, and must not hold the lock other
// methods (UsedBytes, FreeBytes, SendEODAndDisconnect) need in the
// meantime.
func (p *HDUProducer) AcquireNextWritableBlock(ctx context.Context) (BlockHandle, error) {
	p.mu.Lock()
	if !p.attached {
		p.mu.Unlock()
		return BlockHandle{}, fmt.Errorf("rocecap/ring: not attached")
	}
	waiter := p.freeBlocks
	p.mu.Unlock()

	if waiter == nil {
		waiter = noWaitFreeBlocks{}
	}
	if err := waiter.wait(ctx); err != nil {
		return BlockHandle{}, fmt.Errorf("rocecap/ring: waiting for free block: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.attached {
		return BlockHandle{}, fmt.Errorf("rocecap/ring: not attached")
	}

	p.currentIdx = (p.currentIdx + 1) % p.nBufs
	p.remainingWrites = p.writesPerBlock

	return BlockHandle{index: p.currentIdx, data: p.blocks[p.currentIdx]}, nil
}

// NoteBatchWritten decrements remaining_writes by n and reports whether
// the block is now Full. Invariant: remaining_writes never goes negative.
func (p *HDUProducer) NoteBatchWritten(h BlockHandle, n int) (BlockState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.index != p.currentIdx {
		return BlockPartial, fmt.Errorf("rocecap/ring: stale block handle (index %d, current %d)", h.index, p.currentIdx)
	}

	p.remainingWrites -= n
	if p.remainingWrites < 0 {
		p.remainingWrites = 0
	}
	if p.remainingWrites == 0 {
		return BlockFull, nil
	}
	return BlockPartial, nil
}

// Publish wraps ipcbuf_mark_filled: advances write_count by one block
// and mirrors the new count into the segment's control trailer so the
// reader can observe publication progress.
func (p *HDUProducer) Publish(h BlockHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.index != p.currentIdx {
		return fmt.Errorf("rocecap/ring: publish of stale block handle")
	}
	p.writeCount++
	if p.seg != nil {
		writeControlCount(p.seg.data, uint64(p.writeCount))
	}
	if p.dump != nil {
		p.dump.Record(h.index, h.data)
	}
	return nil
}

// UsedBytes returns write_count - read_count in bytes, clamped to
// [0, capacity].
func (p *HDUProducer) UsedBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	used := (p.writeCount - p.readCount) * p.blockSize
	return clamp64(used, 0, p.blockSize*int64(p.nBufs))
}

// FreeBytes is the complement of UsedBytes.
func (p *HDUProducer) FreeBytes() int64 {
	return p.BlockSize()*int64(p.nBufs) - p.UsedBytes()
}

// BlockSize returns the configured ring block size.
func (p *HDUProducer) BlockSize() int64 {
	return p.blockSize
}

// MRStrategy reports how ring memory was registered with the NIC after
// Attach: MRWholeRing if the blocks were virtually contiguous, MRPerBlock
// on fallback. A per-block fallback forces staged-copy mode regardless
// of the requested receive mode, since DirectToRing requires a single
// whole-ring lkey to scatter into. Returns MRWholeRing with no memory
// region at all (qp was nil, e.g. in tests).
func (p *HDUProducer) MRStrategy() verbs.MRStrategy {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mr == nil {
		return verbs.MRWholeRing
	}
	return p.mr.Strategy()
}

// Dump returns the debug-dump mirror, or nil if --dump-dir was not set.
func (p *HDUProducer) Dump() *DebugDump {
	return p.dump
}

// SendEODAndDisconnect signals EOD, waits the drain interval, deregisters
// memory regions, releases the writer lock, and disconnects the local
// handle, in that exact order. It never destroys the shared-memory
// segment itself.
func (p *HDUProducer) SendEODAndDisconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.attached {
		return nil
	}

	logger := logging.Default()

	// The EOD flag is the externally observable half of this handshake:
	// the reader polls the segment's control trailer and treats the
	// block count beside a raised flag as final. Raised before the drain
	// interval so the reader has the full window to react.
	if p.seg != nil {
		writeControlCount(p.seg.data, uint64(p.writeCount))
		writeControlEOD(p.seg.data)
	}
	logger.Info("sending EOD", "blocks_published", p.writeCount)

	select {
	case <-ctx.Done():
	case <-time.After(constants.EODDrainDelay):
	}

	if p.mr != nil {
		if err := p.mr.UnregisterAll(); err != nil {
			logger.Warn("mr deregistration error during shutdown", "error", err)
		}
	}

	if err := p.lock.release(); err != nil {
		logger.Warn("writer lock release error during shutdown", "error", err)
	}

	if err := p.seg.detach(); err != nil {
		logger.Warn("segment detach error during shutdown", "error", err)
	}

	p.attached = false
	return nil
}

func clamp64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var _ Producer = (*HDUProducer)(nil)
