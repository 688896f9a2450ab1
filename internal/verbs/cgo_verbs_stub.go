//go:build !(linux && cgo)

package verbs

const cgoAvailable = false

// newCGOQueuePair is unavailable without cgo; there is no pure-Go
// raw-syscall path for ibverbs (unlike io_uring, whose ring ABI the
// teacher's minimal.go hand-rolls, uverbs' ioctl/mmap surface is not a
// stable target to reimplement without libibverbs).
func newCGOQueuePair(cfg Config) (QueuePair, error) {
	return nil, ErrCGORequired
}
