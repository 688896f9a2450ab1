// Package verbs provides the NIC/QP setup, flow steering, memory
// registration, and batched work-request submission needed to capture
// RoCEv2 traffic on a raw-Ethernet queue pair.
package verbs

import (
	"errors"

	"github.com/behrlich/rocecap/internal/logging"
)

// ErrRingFull is returned when the work-request submission queue is full.
// In normal capture operation this should never happen: the engine keeps
// at most W work requests outstanding and completions strictly gate
// re-posts.
var ErrRingFull = errors.New("work request ring full")

// ErrCGORequired is returned by NewQueuePair when the binary was built
// without cgo, since there is no pure-Go raw-syscall path for verbs.
var ErrCGORequired = errors.New("verbs support requires building with cgo")

// FiveTuple identifies the flow to steer into this queue pair.
type FiveTuple struct {
	SrcMAC [6]byte
	DstMAC [6]byte
	SrcIP  [4]byte
	DstIP  [4]byte
	SrcPort uint16
	DstPort uint16
}

// Config configures a QueuePair.
type Config struct {
	DeviceIndex int       // IB device index, must be < MaxDeviceID
	PortNum     uint8     // IB port number, 1-indexed
	WRRingSize  uint32    // number of outstanding receive work requests (W)
	NSGE        int       // scatter-gather entries per work request
	Flow        FiveTuple // 5-tuple to steer via flow-create
}

// QueuePair is the interface the capture engine depends on for NIC I/O.
// The PostRecv/FlushPosts split lets many work requests be prepared and
// submitted with a single syscall, and PostSGRecv lets the DirectToRing
// strategy scatter directly into ring block memory instead of a staging
// buffer.
type QueuePair interface {
	// Close tears down the queue pair and releases its completion queue.
	Close() error

	// PostRecv prepares a receive work request scattering into buf,
	// tagged with wrID, without submitting it to the device. Returns
	// ErrRingFull if W work requests are already prepared-but-unflushed.
	PostRecv(wrID uint64, buf []byte) error

	// PostSGRecv is PostRecv generalized to multiple scatter-gather
	// entries in a single work request, used by DirectToRing to
	// scatter one WR across several ring-block offsets.
	PostSGRecv(wrID uint64, sges [][]byte) error

	// FlushPosts submits every prepared-but-unflushed work request with
	// a single ibv_post_recv call and returns how many were submitted.
	FlushPosts() (uint32, error)

	// PollCompletions polls the completion queue for up to burst
	// completions without blocking; it returns an empty slice when none
	// are ready.
	PollCompletions(burst int) ([]Completion, error)

	// RegisterMR registers a memory region spanning buf and returns an
	// opaque handle for DeregisterMR. Scatter entries posted later pick up
	// the lkey of whichever registered region covers their address.
	RegisterMR(buf []byte) (MRHandle, error)

	// DeregisterMR releases a previously registered memory region.
	DeregisterMR(h MRHandle) error

	// CreateFlow attempts to steer the configured 5-tuple to this queue
	// pair. On failure the caller should fall back to promiscuous mode;
	// CreateFlow itself does not fall back.
	CreateFlow() error

	// EnablePromiscuous puts the queue pair into promiscuous receive
	// mode, used as the fallback when CreateFlow fails.
	EnablePromiscuous() error

	// PostSend submits a single send work request carrying buf and
	// blocks until its own completion arrives; there is no timeout.
	// Used only by the synthetic test-traffic helper, never by the
	// production receive path.
	PostSend(buf []byte) error
}

// MRHandle is an opaque handle to a registered memory region.
type MRHandle interface{}

// Completion is one entry from the completion queue.
type Completion struct {
	WRID   uint64 // opaque work-request id, never treated as an index
	Status CompletionStatus
	Bytes  uint32 // bytes received/sent
}

// CompletionStatus mirrors ibv_wc_status's success/failure distinction
// without exposing the full verbs error enumeration.
type CompletionStatus int

const (
	StatusSuccess CompletionStatus = iota
	StatusError
)

// Batch allows batching multiple receive posts before a single flush.
type Batch interface {
	AddRecv(wrID uint64, buf []byte) error
	Submit() (uint32, error)
	Len() int
}

// Features describes what this build of the verbs backend supports.
type Features struct {
	CGOAvailable    bool
	FlowSteering    bool
	DirectToGPUMem  bool
}

// GetFeatures reports which verbs features this build supports.
func GetFeatures() Features {
	return Features{
		CGOAvailable:   cgoAvailable,
		FlowSteering:   cgoAvailable,
		DirectToGPUMem: cgoAvailable,
	}
}

// NewQueuePair creates a QueuePair for the given configuration.
func NewQueuePair(cfg Config) (QueuePair, error) {
	logger := logging.Default()
	logger.Debug("creating queue pair", "device", cfg.DeviceIndex, "wr_ring_size", cfg.WRRingSize)

	qp, err := newCGOQueuePair(cfg)
	if err != nil {
		logger.Error("failed to create queue pair", "error", err)
		return nil, err
	}

	logger.Info("created queue pair", "device", cfg.DeviceIndex)
	return qp, nil
}
