package capture

import (
	"errors"
	"fmt"

	"github.com/behrlich/rocecap/internal/constants"
	"github.com/behrlich/rocecap/internal/verbs"
)

// ErrBlockSizeMismatch is returned by Params.Validate when block_size is
// not an exact multiple of pkt_size*send_n (one batch's worth of
// bytes). Accepting such a ring would publish blocks with an
// uninitialized tail after the final write, so the configuration is
// rejected outright at startup.
var ErrBlockSizeMismatch = errors.New("rocecap: block size is not an exact multiple of pkt_size*send_n")

// Params collects every CLI-tunable capture parameter.
type Params struct {
	Device int
	Port   uint8

	Flow verbs.FiveTuple

	PktSize int
	SendN   int
	NSGE    int

	Key uint32

	GPU int
	CPU int

	NBufs     int
	BlockSize int64
	FileBytes int64

	DumpDir    string
	DumpHeader string // path to the reader's header template file
	Debug      bool
}

// DefaultParams returns the parameter set implied by the CLI defaults
// table, before flag parsing overrides any of them.
func DefaultParams() Params {
	return Params{
		Port:      1,
		PktSize:   constants.DefaultPktSize,
		SendN:     constants.DefaultSendN,
		NSGE:      constants.DefaultNSGE,
		GPU:       constants.AutoAssignGPU,
		CPU:       constants.UnpinnedCPU,
		NBufs:     constants.DefaultNBufs,
		BlockSize: int64(constants.DefaultPktSize * constants.DefaultSendN),
	}
}

// Validate checks every boundary condition named in the external
// interface, normalizing nsge==0 to its default and returning a
// startup-fatal error identifying the first offending flag otherwise.
// The flow-steering 5-tuple and the header template path are required:
// a capture with no flow to steer or no template to write is a
// misconfiguration, not a degraded mode.
func (p *Params) Validate() error {
	if p.NSGE == 0 {
		p.NSGE = constants.DefaultNSGE
	}

	if err := p.validateFlow(); err != nil {
		return err
	}
	if p.DumpHeader == "" {
		return fmt.Errorf("rocecap: --dump-header (header template path) is required")
	}

	if p.Device < 0 || p.Device >= constants.MaxDeviceID {
		return fmt.Errorf("rocecap: --device must be in [0, %d): got %d", constants.MaxDeviceID, p.Device)
	}
	if p.PktSize <= constants.MinPktSize {
		return fmt.Errorf("rocecap: --pkt_size must be > %d: got %d", constants.MinPktSize, p.PktSize)
	}
	if p.SendN < constants.MinSendN {
		return fmt.Errorf("rocecap: --send_n must be >= %d: got %d", constants.MinSendN, p.SendN)
	}
	if p.GPU != constants.AutoAssignGPU && p.GPU >= constants.MaxGPUID {
		return fmt.Errorf("rocecap: --gpu must be < %d or -1: got %d", constants.MaxGPUID, p.GPU)
	}
	if p.CPU < constants.UnpinnedCPU || p.CPU >= constants.MaxCPUID {
		return fmt.Errorf("rocecap: --cpu must be in [0, %d) or -1 for unpinned: got %d", constants.MaxCPUID, p.CPU)
	}
	if p.NBufs <= 0 {
		return fmt.Errorf("rocecap: --nbufs must be positive: got %d", p.NBufs)
	}

	batchBytes := int64(p.PktSize * p.SendN)
	if batchBytes <= 0 || p.BlockSize%batchBytes != 0 {
		return fmt.Errorf("%w: block_size=%d not a multiple of pkt_size*send_n=%d",
			ErrBlockSizeMismatch, p.BlockSize, batchBytes)
	}

	return nil
}

// validateFlow requires the full steering 5-tuple: every field of
// --smac/--dmac/--sip/--dip/--sport/--dport must be supplied.
func (p *Params) validateFlow() error {
	var zeroMAC [6]byte
	var zeroIP [4]byte

	switch {
	case p.Flow.SrcMAC == zeroMAC:
		return fmt.Errorf("rocecap: missing required network parameter --smac")
	case p.Flow.DstMAC == zeroMAC:
		return fmt.Errorf("rocecap: missing required network parameter --dmac")
	case p.Flow.SrcIP == zeroIP:
		return fmt.Errorf("rocecap: missing required network parameter --sip")
	case p.Flow.DstIP == zeroIP:
		return fmt.Errorf("rocecap: missing required network parameter --dip")
	case p.Flow.SrcPort == 0:
		return fmt.Errorf("rocecap: missing required network parameter --sport")
	case p.Flow.DstPort == 0:
		return fmt.Errorf("rocecap: missing required network parameter --dport")
	}
	return nil
}

// WritesPerBlock is how many batches of B (SendN) completions fill one
// ring block, valid only after Validate has succeeded. nsge never enters
// this accounting: it only controls how many scatter-gather entries a
// single packet's pkt_size-byte buffer is split across on the wire, not
// how much ring space a packet occupies.
func (p *Params) WritesPerBlock() int {
	return int(p.BlockSize / int64(p.PktSize*p.SendN))
}

// UsesStagedCopy reports whether packets are copied through a pinned
// intermediate buffer rather than scattered straight into ring memory.
// GPU residency only ever applies to the staging buffer, never to the
// ring itself, so requesting a GPU (a non-default --gpu value) implies
// a staging buffer exists, i.e. staged-copy mode. With no GPU requested
// (-1, AutoAssignGPU) the engine starts in DirectToRing mode and only
// falls back to host-memory staged-copy if ring-memory registration
// can't produce a single whole-ring MR (see Engine.ForceStagedCopy,
// invoked once that's known after Attach).
func (p *Params) UsesStagedCopy() bool {
	return p.GPU != constants.AutoAssignGPU
}

// WRRingSize is W, the number of posted receive descriptors tracked by
// the NIC: exactly B in DirectToRing mode, otherwise
// min(4*B, MaxStagingWR).
func (p *Params) WRRingSize() int {
	if !p.UsesStagedCopy() {
		return p.SendN
	}
	w := 4 * p.SendN
	if w > constants.MaxStagingWR {
		w = constants.MaxStagingWR
	}
	return w
}
