package rocecap

import (
	"context"
	"sync"

	"github.com/behrlich/rocecap/internal/ring"
)

// MockProducer is an in-memory ring.Producer: a testing double that
// implements the full interface and tracks method calls for
// verification, so callers can exercise a Capture session without real
// shared memory or hardware.
type MockProducer struct {
	mu sync.Mutex

	blockSize      int64
	writesPerBlock int
	blocks         [][]byte

	currentIdx      int
	remainingWrites int

	attachCalls  int
	publishedLog []int
	eodCalled    bool
	lastKey      uint32
}

// NewMockProducer creates a mock ring with nBufs blocks of blockSize
// bytes, each accepting writesPerBlock writes before rotating.
func NewMockProducer(nBufs int, blockSize int64, writesPerBlock int) *MockProducer {
	blocks := make([][]byte, nBufs)
	for i := range blocks {
		blocks[i] = make([]byte, blockSize)
	}
	return &MockProducer{
		blockSize:      blockSize,
		writesPerBlock: writesPerBlock,
		blocks:         blocks,
		currentIdx:     -1,
	}
}

// Attach implements ring.Producer.
func (m *MockProducer) Attach(ctx context.Context, key uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachCalls++
	m.lastKey = key
	return nil
}

// AcquireNextWritableBlock implements ring.Producer.
func (m *MockProducer) AcquireNextWritableBlock(ctx context.Context) (ring.BlockHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentIdx = (m.currentIdx + 1) % len(m.blocks)
	m.remainingWrites = m.writesPerBlock
	return ring.NewBlockHandle(m.currentIdx, m.blocks[m.currentIdx]), nil
}

// NoteBatchWritten implements ring.Producer.
func (m *MockProducer) NoteBatchWritten(h ring.BlockHandle, n int) (ring.BlockState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remainingWrites -= n
	if m.remainingWrites <= 0 {
		m.remainingWrites = 0
		return ring.BlockFull, nil
	}
	return ring.BlockPartial, nil
}

// Publish implements ring.Producer.
func (m *MockProducer) Publish(h ring.BlockHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedLog = append(m.publishedLog, m.currentIdx)
	return nil
}

// UsedBytes implements ring.Producer.
func (m *MockProducer) UsedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.publishedLog)) * m.blockSize
}

// FreeBytes implements ring.Producer.
func (m *MockProducer) FreeBytes() int64 {
	return m.blockSize*int64(len(m.blocks)) - m.UsedBytes()
}

// BlockSize implements ring.Producer.
func (m *MockProducer) BlockSize() int64 {
	return m.blockSize
}

// SendEODAndDisconnect implements ring.Producer.
func (m *MockProducer) SendEODAndDisconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eodCalled = true
	return nil
}

// Call-tracking accessors for test assertions.

// PublishedBlocks returns the block indices published, in order.
func (m *MockProducer) PublishedBlocks() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.publishedLog))
	copy(out, m.publishedLog)
	return out
}

// EODSent reports whether SendEODAndDisconnect has been called.
func (m *MockProducer) EODSent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eodCalled
}

// BlockData returns a copy of the current contents of block i, for
// assertions against what the capture engine wrote.
func (m *MockProducer) BlockData(i int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.blocks[i]))
	copy(out, m.blocks[i])
	return out
}

var _ ring.Producer = (*MockProducer)(nil)
