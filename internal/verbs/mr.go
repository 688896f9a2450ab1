package verbs

import "fmt"

// MRStrategy selects whether the ring is registered as one contiguous
// memory region or as one region per block.
type MRStrategy int

const (
	MRWholeRing MRStrategy = iota
	MRPerBlock
)

// MRSet manages the memory regions backing a set of ring blocks. A
// single MR spanning the whole ring is attempted first and requires the
// blocks to be virtually contiguous; any contiguity violation, or a
// failure from the device itself, falls back to one MR per block.
type MRSet struct {
	qp       QueuePair
	strategy MRStrategy
	handles  []MRHandle
	blocks   [][]byte
}

// RegisterRing attempts whole-ring registration over blocks, falling back
// to per-block registration. Returns the resulting MRSet and whether a
// fallback occurred (so the caller can record a degraded-startup metric).
func RegisterRing(qp QueuePair, blocks [][]byte) (*MRSet, bool, error) {
	if len(blocks) == 0 {
		return nil, false, fmt.Errorf("rocecap/verbs: no ring blocks to register")
	}

	if contiguous(blocks) {
		whole := joinContiguous(blocks)
		h, err := qp.RegisterMR(whole)
		if err == nil {
			return &MRSet{qp: qp, strategy: MRWholeRing, handles: []MRHandle{h}, blocks: blocks}, false, nil
		}
	}

	handles := make([]MRHandle, len(blocks))
	for i, b := range blocks {
		h, err := qp.RegisterMR(b)
		if err != nil {
			for j := 0; j < i; j++ {
				_ = qp.DeregisterMR(handles[j])
			}
			return nil, true, fmt.Errorf("rocecap/verbs: per-block MR registration failed at block %d: %w", i, err)
		}
		handles[i] = h
	}
	return &MRSet{qp: qp, strategy: MRPerBlock, handles: handles, blocks: blocks}, true, nil
}

// Strategy reports which registration strategy is in effect.
func (s *MRSet) Strategy() MRStrategy {
	return s.strategy
}

// UnregisterAll deregisters every memory region held by this set. Called
// during shutdown before the ring is released.
func (s *MRSet) UnregisterAll() error {
	var firstErr error
	for _, h := range s.handles {
		if err := s.qp.DeregisterMR(h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.handles = nil
	return firstErr
}

// contiguous reports whether each block's backing slice immediately
// follows the previous one in memory, which is required for whole-ring
// registration to be a single valid virtual range.
func contiguous(blocks [][]byte) bool {
	for i := 1; i < len(blocks); i++ {
		prevEnd := addrOf(blocks[i-1]) + len(blocks[i-1])
		if addrOf(blocks[i]) != prevEnd {
			return false
		}
	}
	return true
}

func joinContiguous(blocks [][]byte) []byte {
	start := addrOf(blocks[0])
	end := addrOf(blocks[len(blocks)-1]) + len(blocks[len(blocks)-1])
	return unsafeSliceFromRange(blocks[0], start, end)
}
