package ring

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// attachedSegment is a System V shared-memory segment mapped into this
// process's address space; SysV shared memory is the IPC mechanism
// PSRDADA uses for the ring's data blocks.
type attachedSegment struct {
	id   int
	data []byte
}

// attachSharedMemory attaches to an existing SysV shared-memory segment
// identified by key (ftok-style 32-bit hex key from --key), sized size
// bytes. The segment must already exist; this process never creates or
// destroys it.
func attachSharedMemory(key uint32, size int) (*attachedSegment, error) {
	id, err := unix.SysvShmGet(int(key), size, 0)
	if err != nil {
		return nil, fmt.Errorf("rocecap/ring: shmget key=%#x: %w", key, err)
	}

	data, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("rocecap/ring: shmat id=%d: %w", id, err)
	}

	return &attachedSegment{id: id, data: data}, nil
}

// detach unmaps the segment from this process without marking it for
// destruction; the segment's lifecycle belongs to the external
// coordinator that created it.
func (s *attachedSegment) detach() error {
	if s.data == nil {
		return nil
	}
	if err := unix.SysvShmDetach(s.data); err != nil {
		return fmt.Errorf("rocecap/ring: shmdt: %w", err)
	}
	s.data = nil
	return nil
}
