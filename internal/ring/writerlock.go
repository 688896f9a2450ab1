package ring

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// writerLock is a SysV semaphore-backed lock guarding single-writer
// access to the ring, following PSRDADA's ipcbuf writer-lock semantics:
// Attach takes the lock, SendEODAndDisconnect releases it, and it is
// released strictly before the ring handle is disconnected.
//
// The same semaphore set carries a second semaphore (index 1, see
// backpressure.go) counting free blocks; the external administrative
// tool that provisions the ring is responsible for creating the set with
// both semaphores.
type writerLock struct {
	semID int
}

func acquireWriterLock(key uint32) (*writerLock, error) {
	semID, err := unix.Semget(int(key), 2, 0)
	if err != nil {
		return nil, fmt.Errorf("rocecap/ring: semget key=%#x: %w", key, err)
	}

	op := []unix.Sembuf{{SemNum: 0, SemOp: -1, SemFlg: 0}}
	if err := unix.Semop(semID, op, nil); err != nil {
		return nil, fmt.Errorf("rocecap/ring: semop acquire: %w", err)
	}

	return &writerLock{semID: semID}, nil
}

func (w *writerLock) release() error {
	if w == nil {
		return nil
	}
	op := []unix.Sembuf{{SemNum: 0, SemOp: 1, SemFlg: 0}}
	if err := unix.Semop(w.semID, op, nil); err != nil {
		return fmt.Errorf("rocecap/ring: semop release: %w", err)
	}
	return nil
}
