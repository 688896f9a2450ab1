package capture

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/rocecap/internal/verbs"
)

// validParams is DefaultParams plus the required flow tuple and header
// template path, the minimum a capture invocation must always supply.
func validParams() Params {
	p := DefaultParams()
	p.Flow = verbs.FiveTuple{
		SrcMAC:  [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:  [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		SrcIP:   [4]byte{10, 0, 0, 1},
		DstIP:   [4]byte{10, 0, 0, 2},
		SrcPort: 4791,
		DstPort: 4791,
	}
	p.DumpHeader = "header.template"
	return p
}

func TestValidateAcceptsFullyConfiguredParams(t *testing.T) {
	p := validParams()
	require.NoError(t, p.Validate())
}

func TestValidateRequiresFlowTuple(t *testing.T) {
	p := validParams()
	p.Flow.SrcMAC = [6]byte{}
	err := p.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "--smac")

	p = validParams()
	p.Flow.DstIP = [4]byte{}
	err = p.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "--dip")

	p = validParams()
	p.Flow.DstPort = 0
	err = p.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "--dport")
}

func TestValidateRequiresHeaderTemplatePath(t *testing.T) {
	p := validParams()
	p.DumpHeader = ""
	err := p.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "--dump-header")
}

func TestValidateNormalizesZeroNSGE(t *testing.T) {
	p := validParams()
	p.NSGE = 0
	p.BlockSize = int64(p.PktSize * p.SendN)
	require.NoError(t, p.Validate())
	require.Equal(t, 4, p.NSGE)
}

func TestValidateRejectsDeviceOutOfRange(t *testing.T) {
	p := validParams()
	p.Device = 4
	require.Error(t, p.Validate())
}

func TestValidateRejectsSmallPktSize(t *testing.T) {
	p := validParams()
	p.PktSize = 64
	require.Error(t, p.Validate())
}

func TestValidateRejectsSmallSendN(t *testing.T) {
	p := validParams()
	p.SendN = 7
	require.Error(t, p.Validate())
}

func TestValidateRejectsGPUOutOfRange(t *testing.T) {
	p := validParams()
	p.GPU = 6
	require.Error(t, p.Validate())
}

func TestValidateAllowsAutoAssignGPU(t *testing.T) {
	p := validParams()
	p.GPU = -1
	require.NoError(t, p.Validate())
}

func TestValidateRejectsCPUOutOfRange(t *testing.T) {
	p := validParams()
	p.CPU = 384
	require.Error(t, p.Validate())
}

func TestValidateAllowsUnpinnedCPU(t *testing.T) {
	p := validParams()
	p.CPU = -1
	require.NoError(t, p.Validate())

	p.CPU = -2
	require.Error(t, p.Validate())
}

func TestValidateRejectsBlockSizeMismatch(t *testing.T) {
	p := validParams()
	p.BlockSize = int64(p.PktSize*p.SendN) + 1
	err := p.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBlockSizeMismatch))
}

func TestWritesPerBlock(t *testing.T) {
	p := validParams()
	require.NoError(t, p.Validate())
	require.Equal(t, int(p.BlockSize)/(p.PktSize*p.SendN), p.WritesPerBlock())
}

func TestWRRingSizeDirectVsStaged(t *testing.T) {
	p := validParams()
	p.GPU = -1
	require.False(t, p.UsesStagedCopy())
	require.Equal(t, p.SendN, p.WRRingSize())

	p.GPU = 0
	require.True(t, p.UsesStagedCopy())
	require.Equal(t, 4*p.SendN, p.WRRingSize())

	p.SendN = 4096
	require.Equal(t, 8192, p.WRRingSize())
}
