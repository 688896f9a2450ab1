package constants

import "time"

// Default configuration constants.
const (
	// DefaultPollN is the default completion-queue poll burst size.
	// Independent of the batch size B (SendN) — this only bounds how many
	// completions a single PollCompletions call returns.
	DefaultPollN = 8

	// DefaultNSGE is the default scatter-gather entry count per work
	// request. 0 on the CLI normalizes to this value.
	DefaultNSGE = 4

	// DefaultPktSize is the default payload size in bytes per packet.
	DefaultPktSize = 4096

	// DefaultSendN is the default number of packets per work-request batch.
	DefaultSendN = 8

	// DefaultNBufs is the default number of ring blocks. It sets the ring
	// geometry and is not written into the header record.
	DefaultNBufs = 8

	// MaxStagingWR caps the staged-copy work-request ring size W at
	// min(4*B, MaxStagingWR).
	MaxStagingWR = 8192

	// AutoAssignGPU indicates no GPU-resident staging buffer is used.
	AutoAssignGPU = -1

	// UnpinnedCPU leaves the capture worker's CPU affinity to the
	// scheduler.
	UnpinnedCPU = -1
)

// Boundary validation limits for capture parameters.
const (
	MinPktSize  = 64  // pkt_size must be > this
	MinSendN    = 8   // send_n must be >= this
	MaxGPUID    = 6   // gpu must be < this
	MaxDeviceID = 4   // device must be < this
	MaxCPUID    = 384 // cpu must be < this
)

// Timing constants for the capture/ring lifecycle.
//
// The attach/capture/EOD protocol requires strict ordering:
//  1. Attach to the HDU and take the writer lock.
//  2. Register memory regions against ring blocks (or per-block on fallback).
//  3. Post the initial batch of receive work requests.
//  4. On shutdown: signal EOD, wait EODDrainDelay, deregister MRs,
//     release the writer lock, disconnect.
//
// Without the EOD drain delay, a reader may see a truncated final block.
const (
	// EODDrainDelay is how long to wait after signalling EOD before
	// deregistering memory regions, giving any reader time to observe the
	// EOD marker before the writer tears down.
	EODDrainDelay = 2 * time.Second

	// CQPollTimeout is a per-call bound for completion-queue polling.
	// Nothing in this module applies it: PollCompletions makes a single
	// non-blocking ibv_poll_cq call.
	CQPollTimeout = 100 * time.Millisecond

	// FlowStatePollInterval is an interval for re-checking the
	// port-active state. QP bring-up checks the port state once and does
	// not poll, so nothing reads this value.
	FlowStatePollInterval = 10 * time.Millisecond

	// FreeBlockPollInterval is how often AcquireNextWritableBlock retries
	// its non-blocking semaphore wait while the ring is full: backpressure
	// blocks the acquire call, not the whole engine.
	FreeBlockPollInterval = 5 * time.Millisecond
)

// Memory allocation constants.
const (
	// StagingBufferSlotSize is the pinned staging buffer size allocated
	// per outstanding work request in staged-copy mode (64KB).
	StagingBufferSlotSize = 64 * 1024
)
