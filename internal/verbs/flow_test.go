package verbs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildFlowAttrLayout(t *testing.T) {
	tuple := FiveTuple{
		SrcMAC:  [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:  [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		SrcIP:   [4]byte{10, 0, 0, 1},
		DstIP:   [4]byte{10, 0, 0, 2},
		SrcPort: 4791,
		DstPort: 4792,
	}

	raw := BuildFlowAttr(1, tuple)

	require.Equal(t, flowAttrSize+flowSpecEthSize+flowSpecIPv4Size+flowSpecUDPSize, len(raw))
	// attr.size covers the attr plus every spec
	require.Equal(t, uint16(len(raw)), binary.LittleEndian.Uint16(raw[8:10]))
	// num_of_specs lives at byte 12 of the attr, port at byte 13
	require.Equal(t, byte(3), raw[12])
	require.Equal(t, byte(1), raw[13])

	eth := raw[flowAttrSize:]
	require.Equal(t, flowSpecEth, binary.LittleEndian.Uint32(eth[0:4]))
	require.Equal(t, uint16(flowSpecEthSize), binary.LittleEndian.Uint16(eth[4:6]))
	require.Equal(t, tuple.DstMAC[:], eth[6:12])
	require.Equal(t, tuple.SrcMAC[:], eth[12:18])
	// EtherType IPv4 matched exactly, network byte order
	require.Equal(t, uint16(0x0800), binary.BigEndian.Uint16(eth[18:20]))
	require.Equal(t, uint16(0xffff), binary.BigEndian.Uint16(eth[34:36]))

	ip := raw[flowAttrSize+flowSpecEthSize:]
	require.Equal(t, flowSpecIPv4, binary.LittleEndian.Uint32(ip[0:4]))
	require.Equal(t, tuple.SrcIP[:], ip[8:12])
	require.Equal(t, tuple.DstIP[:], ip[12:16])

	udp := raw[flowAttrSize+flowSpecEthSize+flowSpecIPv4Size:]
	require.Equal(t, flowSpecUDP, binary.LittleEndian.Uint32(udp[0:4]))
	// tcp_udp filter carries dst_port before src_port
	require.Equal(t, tuple.DstPort, binary.BigEndian.Uint16(udp[6:8]))
	require.Equal(t, tuple.SrcPort, binary.BigEndian.Uint16(udp[8:10]))
}

func TestBuildFlowAttrVariesWithTuple(t *testing.T) {
	a := BuildFlowAttr(1, FiveTuple{SrcPort: 1000, DstPort: 2000})
	b := BuildFlowAttr(1, FiveTuple{SrcPort: 1001, DstPort: 2000})
	require.NotEqual(t, a, b)
}

func TestBuildSnifferFlowAttrHasNoSpecs(t *testing.T) {
	raw := BuildSnifferFlowAttr(1)
	require.Equal(t, flowAttrSize, len(raw))
	require.Equal(t, flowAttrSniffer, binary.LittleEndian.Uint32(raw[4:8]))
	require.Equal(t, byte(0), raw[12]) // num_of_specs
	require.Equal(t, byte(1), raw[13]) // port
}
