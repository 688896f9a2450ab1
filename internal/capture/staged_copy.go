package capture

import (
	"context"
	"fmt"

	"github.com/behrlich/rocecap/internal/verbs"
)

// stagedCopyStrategy receives into a pool of pinned staging buffers and
// copies each completed packet into ring memory, for configurations
// without a pre-registered, directly-scatterable ring (a --gpu value
// other than -1, or a per-block MR fallback forcing this mode). The
// staging pool is ordinary host memory; it is not placed on a GPU.
//
// Unlike DirectToRing, a staging slot's destination in the ring block
// isn't known at post time (the NIC writes into the staging buffer, not
// the block), so the W work requests are primed up front pointing only
// at staging memory. Each completion is copied to the block at the
// engine's current write cursor and the same slot is reposted
// immediately, independent of how many other completions are still
// in flight toward the batch.
type stagedCopyStrategy struct {
	e    *Engine
	pool *stagingPool
	mr   verbs.MRHandle

	// cursor is the next packet position to write within the current
	// block. Resynced to e.packetsDone whenever a batch closes, since
	// that's authoritative for both the partial-block and just-rotated
	// cases. A completion's wr_id identifies which staging buffer holds
	// its data, not where in the block it lands; placement follows
	// arrival order.
	cursor int64
}

func newStagedCopyStrategy(e *Engine) *stagedCopyStrategy {
	return &stagedCopyStrategy{
		e:    e,
		pool: newStagingPool(e.params.WRRingSize(), e.params.PktSize),
	}
}

// prime registers the staging pool's contiguous backing region as a
// single MR, then posts W work requests against freshly acquired
// staging buffers.
func (s *stagedCopyStrategy) prime(ctx context.Context) error {
	mr, err := s.e.qp.RegisterMR(s.pool.backing())
	if err != nil {
		return fmt.Errorf("rocecap/capture: registering staging buffer: %w", err)
	}
	s.mr = mr

	w := s.e.params.WRRingSize()
	for i := 0; i < w; i++ {
		buf, _, ok := s.pool.acquire()
		if !ok {
			return fmt.Errorf("rocecap/capture: staging pool exhausted priming")
		}
		sges := splitEven(buf, s.e.params.NSGE)
		wrID := s.e.slots.alloc(sges)
		if err := s.e.qp.PostSGRecv(wrID, sges); err != nil {
			return err
		}
	}
	return nil
}

// handle copies one completed packet out of its staging slot and into
// the ring block at the current write cursor, reposts that same slot
// immediately (it's free the instant its data is copied out, no need to
// wait for the rest of the batch), then accounts the completion toward
// the in-flight batch.
func (s *stagedCopyStrategy) handle(ctx context.Context, c verbs.Completion) error {
	sl, ok := s.e.slots.get(c.WRID)
	if !ok {
		return fmt.Errorf("rocecap/capture: unknown wr_id %d", c.WRID)
	}
	sges := sl.buf

	offset := s.cursor * s.e.writeSize
	dst := s.e.current.Bytes()[offset : offset+s.e.writeSize]
	var pos int64
	for _, frag := range sges {
		pos += int64(copy(dst[pos:], frag))
	}
	s.cursor++

	s.e.slots.retire(c.WRID)
	newWrID := s.e.slots.alloc(sges)
	if err := s.e.qp.PostSGRecv(newWrID, sges); err != nil {
		return err
	}

	full, err := s.e.completePacket(ctx)
	if err != nil {
		return err
	}
	if full {
		s.cursor = s.e.packetsDone
	}
	return nil
}

// close deregisters the staging-buffer MR. Runs on worker exit, before
// the ring producer's own MR teardown and strictly before the queue
// pair is destroyed.
func (s *stagedCopyStrategy) close() error {
	if s.mr == nil {
		return nil
	}
	err := s.e.qp.DeregisterMR(s.mr)
	s.mr = nil
	return err
}

var _ receiveStrategy = (*stagedCopyStrategy)(nil)
