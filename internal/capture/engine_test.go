package capture

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/rocecap/internal/ring"
	"github.com/behrlich/rocecap/internal/verbs"
)

// fakeQP is a minimal QueuePair double: PostSGRecv "DMAs" an
// incrementing marker byte into the posted scatter-gather entries and
// immediately queues a success completion for it, so the test can
// drive the engine's receive loop without real hardware.
type fakeQP struct {
	mu       sync.Mutex
	pending  []verbs.Completion
	fillByte byte
}

func (f *fakeQP) Close() error { return nil }

func (f *fakeQP) PostRecv(wrID uint64, buf []byte) error {
	return f.PostSGRecv(wrID, [][]byte{buf})
}

func (f *fakeQP) PostSGRecv(wrID uint64, sges [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fillByte++
	n := 0
	for _, s := range sges {
		for i := range s {
			s[i] = f.fillByte
		}
		n += len(s)
	}
	f.pending = append(f.pending, verbs.Completion{WRID: wrID, Status: verbs.StatusSuccess, Bytes: uint32(n)})
	return nil
}

func (f *fakeQP) FlushPosts() (uint32, error) { return 0, nil }

func (f *fakeQP) PollCompletions(burst int) ([]verbs.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	n := burst
	if n > len(f.pending) {
		n = len(f.pending)
	}
	out := f.pending[:n]
	f.pending = f.pending[n:]
	return out, nil
}

func (f *fakeQP) RegisterMR([]byte) (verbs.MRHandle, error) { return nil, nil }
func (f *fakeQP) DeregisterMR(verbs.MRHandle) error          { return nil }
func (f *fakeQP) CreateFlow() error                          { return nil }
func (f *fakeQP) EnablePromiscuous() error                    { return nil }
func (f *fakeQP) PostSend([]byte) error                       { return nil }

// fakeProducer is a minimal in-memory ring.Producer double for driving
// the engine without real shared memory.
type fakeProducer struct {
	blockSize      int64
	writesPerBlock int
	blocks         [][]byte

	currentIdx      int
	remainingWrites int
	publishCount    int
	onPublish       func()
}

func newFakeProducer(nBufs int, blockSize int64, writesPerBlock int) *fakeProducer {
	blocks := make([][]byte, nBufs)
	for i := range blocks {
		blocks[i] = make([]byte, blockSize)
	}
	return &fakeProducer{blockSize: blockSize, writesPerBlock: writesPerBlock, blocks: blocks, currentIdx: -1}
}

func (p *fakeProducer) Attach(ctx context.Context, key uint32) error { return nil }

func (p *fakeProducer) AcquireNextWritableBlock(ctx context.Context) (ring.BlockHandle, error) {
	p.currentIdx = (p.currentIdx + 1) % len(p.blocks)
	p.remainingWrites = p.writesPerBlock
	return ring.NewBlockHandle(p.currentIdx, p.blocks[p.currentIdx]), nil
}

func (p *fakeProducer) NoteBatchWritten(h ring.BlockHandle, n int) (ring.BlockState, error) {
	p.remainingWrites -= n
	if p.remainingWrites <= 0 {
		p.remainingWrites = 0
		return ring.BlockFull, nil
	}
	return ring.BlockPartial, nil
}

func (p *fakeProducer) Publish(h ring.BlockHandle) error {
	p.publishCount++
	if p.onPublish != nil {
		p.onPublish()
	}
	return nil
}

func (p *fakeProducer) UsedBytes() int64                             { return 0 }
func (p *fakeProducer) FreeBytes() int64                             { return 0 }
func (p *fakeProducer) BlockSize() int64                             { return p.blockSize }
func (p *fakeProducer) SendEODAndDisconnect(ctx context.Context) error { return nil }

var _ ring.Producer = (*fakeProducer)(nil)
var _ verbs.QueuePair = (*fakeQP)(nil)

// Both tests size the block to hold exactly four batches of two packets
// (writes_per_block=4), so that in staged-copy mode the W=4*SendN work
// requests primed at startup exactly cover one block: the block fills
// and publishes without needing to observe a repost, keeping the test
// deterministic regardless of how completions are batched into a single
// PollCompletions burst.

func TestEngineStagedCopyFillsBlockInOrder(t *testing.T) {
	params := DefaultParams()
	params.PktSize = 8
	params.NSGE = 1
	params.SendN = 2
	params.GPU = 0 // requesting GPU staging forces staged-copy mode
	params.BlockSize = 64 // four batches of two packets per block
	// geometry is deliberately below Validate's minimums to keep the
	// byte-level assertions small; the engine itself imposes no floor
	require.True(t, params.UsesStagedCopy())

	qp := &fakeQP{}
	prod := newFakeProducer(2, params.BlockSize, params.WritesPerBlock())

	ctx, cancel := context.WithCancel(context.Background())
	prod.onPublish = cancel

	e := NewEngine(params, qp, prod, nil)
	require.NoError(t, e.Run(ctx))

	require.Equal(t, 1, prod.publishCount)
	block := prod.blocks[0]
	require.Equal(t, byte(1), block[0])
	require.Equal(t, byte(2), block[8])
	require.Equal(t, byte(7), block[48])
	require.Equal(t, byte(8), block[56])
}

func TestEngineDirectToRingWritesIntoRingMemory(t *testing.T) {
	params := DefaultParams()
	params.PktSize = 8
	params.NSGE = 1
	params.SendN = 2
	params.GPU = -1 // no GPU staging requested triggers DirectToRing
	params.BlockSize = 64
	require.False(t, params.UsesStagedCopy())

	qp := &fakeQP{}
	prod := newFakeProducer(2, params.BlockSize, params.WritesPerBlock())

	ctx, cancel := context.WithCancel(context.Background())
	prod.onPublish = cancel

	e := NewEngine(params, qp, prod, nil)
	require.NoError(t, e.Run(ctx))

	require.Equal(t, 1, prod.publishCount)
	block := prod.blocks[0]
	require.Equal(t, byte(1), block[0])
	require.Equal(t, byte(2), block[8])
	require.Equal(t, byte(7), block[48])
	require.Equal(t, byte(8), block[56])
}
