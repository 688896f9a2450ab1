package capture

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/rocecap/internal/verbs"
)

func TestBuildUDPPacketLayout(t *testing.T) {
	flow := verbs.FiveTuple{
		SrcMAC:  [6]byte{0, 1, 2, 3, 4, 5},
		DstMAC:  [6]byte{6, 7, 8, 9, 10, 11},
		SrcIP:   [4]byte{10, 0, 0, 1},
		DstIP:   [4]byte{10, 0, 0, 2},
		SrcPort: 1234,
		DstPort: 5678,
	}
	payload := []byte("hello rocecap")

	pkt := buildUDPPacket(flow, payload)
	require.Len(t, pkt, 14+20+8+len(payload))
	require.Equal(t, flow.DstMAC[:], pkt[0:6])
	require.Equal(t, flow.SrcMAC[:], pkt[6:12])
	require.Equal(t, byte(0x08), pkt[12])
	require.Equal(t, byte(0x00), pkt[13])
	require.Equal(t, byte(0x45), pkt[14]) // IPv4, IHL 5
	require.Equal(t, payload, pkt[14+20+8:])
}

func TestIPv4ChecksumValidatesToZero(t *testing.T) {
	flow := verbs.FiveTuple{SrcIP: [4]byte{192, 168, 1, 1}, DstIP: [4]byte{192, 168, 1, 2}}
	pkt := buildUDPPacket(flow, []byte("x"))
	ip := pkt[14:34]

	var sum uint32
	for i := 0; i+1 < len(ip); i += 2 {
		sum += uint32(ip[i])<<8 | uint32(ip[i+1])
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	require.Equal(t, uint32(0xFFFF), sum)
}

func TestSendTestPacketPostsOverQueuePair(t *testing.T) {
	qp := &fakeQP{}
	flow := verbs.FiveTuple{SrcPort: 1, DstPort: 2}
	require.NoError(t, sendTestPacket(qp, flow, []byte("payload")))
}
