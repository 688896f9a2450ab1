package capture

import (
	"sync"

	"github.com/behrlich/rocecap/internal/constants"
)

// stagingPool is a fixed pool of pinned intermediate buffers used by
// the staged-copy receive strategy: one slot per outstanding work
// request, carved out of a single contiguous allocation so the whole
// pool can be registered as one NIC memory region at startup. Sized
// once and never grown, so that registration stays valid for the
// lifetime of the engine.
type stagingPool struct {
	mu      sync.Mutex
	arena   []byte
	slots   [][]byte
	free    []int
	slotLen int
}

// newStagingPool allocates n slots of slotLen bytes each, rounded up to
// at least constants.StagingBufferSlotSize so a single packet (however
// many nsge fragments its SGE list splits it into) always fits one slot.
func newStagingPool(n int, slotLen int) *stagingPool {
	if slotLen < constants.StagingBufferSlotSize {
		slotLen = constants.StagingBufferSlotSize
	}
	p := &stagingPool{
		arena:   make([]byte, n*slotLen),
		slots:   make([][]byte, n),
		slotLen: slotLen,
	}
	for i := range p.slots {
		p.slots[i] = p.arena[i*slotLen : (i+1)*slotLen]
		p.free = append(p.free, i)
	}
	return p
}

// acquire returns an unused slot and its index, or ok=false if the pool
// is exhausted (should not happen: the engine never has more than W
// work requests outstanding, and the pool is sized to W).
func (p *stagingPool) acquire() (buf []byte, idx int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, 0, false
	}
	idx = p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return p.slots[idx], idx, true
}

// release returns a slot to the free list once its data has been copied
// out into the ring and it's ready to be re-posted for a new receive.
func (p *stagingPool) release(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, idx)
}

// backing returns the contiguous region underlying every slot, used once
// at startup to register a single MR spanning the whole pool.
func (p *stagingPool) backing() []byte {
	return p.arena
}
