package rocecap

import "github.com/behrlich/rocecap/internal/constants"

// Re-exported defaults, so callers never need to import an internal
// package just to read a default value.
const (
	DefaultPollN   = constants.DefaultPollN
	DefaultNSGE    = constants.DefaultNSGE
	DefaultPktSize = constants.DefaultPktSize
	DefaultSendN   = constants.DefaultSendN
	DefaultNBufs   = constants.DefaultNBufs
	AutoAssignGPU  = constants.AutoAssignGPU
	UnpinnedCPU    = constants.UnpinnedCPU
	MinPktSize     = constants.MinPktSize
	MinSendN       = constants.MinSendN
	MaxGPUID       = constants.MaxGPUID
	MaxDeviceID    = constants.MaxDeviceID
	MaxCPUID       = constants.MaxCPUID
)
