package ring

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/behrlich/rocecap/internal/constants"
)

// freeBlockWaiter blocks a caller until a ring block has been drained by
// the reader and is available for reuse. AcquireNextWritableBlock
// consumes exactly one permit per call: the receive worker never blocks
// on the ring for more than one block acquisition, and a full ring
// blocking that call is backpressure, not an error.
type freeBlockWaiter interface {
	wait(ctx context.Context) error
}

// noWaitFreeBlocks never blocks, used when a producer is built without a
// real semaphore set (tests).
type noWaitFreeBlocks struct{}

func (noWaitFreeBlocks) wait(ctx context.Context) error { return nil }

const freeBlockSemNum = 1

// sysvFreeBlockSem waits on semaphore index 1 of the ring's writer-lock
// semaphore set, following PSRDADA's ipcbuf_get_next_write blocking on
// the reader's "block consumed" semaphore until nbuf_read advances past
// the writer's cursor. The external administrative tool that creates the
// ring's semaphore set is responsible for sizing it to 2 semaphores
// (0: writer mutex, 1: free-block count, initialized to nbufs) and for
// the reader process posting semaphore 1 once per block it finishes
// draining.
type sysvFreeBlockSem struct {
	semID int
}

func (s *sysvFreeBlockSem) wait(ctx context.Context) error {
	op := []unix.Sembuf{{SemNum: freeBlockSemNum, SemOp: -1, SemFlg: unix.IPC_NOWAIT}}
	for {
		if err := unix.Semop(s.semID, op, nil); err == nil {
			return nil
		} else if err != unix.EAGAIN {
			return fmt.Errorf("rocecap/ring: semop wait free block: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(constants.FreeBlockPollInterval):
		}
	}
}
