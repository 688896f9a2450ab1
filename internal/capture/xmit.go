package capture

import (
	"encoding/binary"

	"github.com/behrlich/rocecap/internal/verbs"
)

// sendTestPacket builds a minimal UDP packet over the configured
// 5-tuple and posts it as a single send work request, blocking until
// its own completion arrives. A best-effort way to inject synthetic
// traffic for exercising the receive path in tests, never part of the
// production capture data plane (the CLI never wires this in;
// production capture is receive-only).
func sendTestPacket(qp verbs.QueuePair, flow verbs.FiveTuple, payload []byte) error {
	pkt := buildUDPPacket(flow, payload)
	return qp.PostSend(pkt)
}

// buildUDPPacket assembles an Ethernet/IPv4/UDP frame carrying payload,
// with a correct IPv4 header checksum and a zero UDP checksum (valid
// per RFC 768 for IPv4).
func buildUDPPacket(flow verbs.FiveTuple, payload []byte) []byte {
	const ethHdrLen = 14
	const ipHdrLen = 20
	const udpHdrLen = 8

	total := ethHdrLen + ipHdrLen + udpHdrLen + len(payload)
	pkt := make([]byte, total)

	copy(pkt[0:6], flow.DstMAC[:])
	copy(pkt[6:12], flow.SrcMAC[:])
	binary.BigEndian.PutUint16(pkt[12:14], 0x0800) // EtherType IPv4

	ip := pkt[ethHdrLen : ethHdrLen+ipHdrLen]
	ip[0] = 0x45 // version 4, IHL 5
	ip[1] = 0
	binary.BigEndian.PutUint16(ip[2:4], uint16(ipHdrLen+udpHdrLen+len(payload)))
	binary.BigEndian.PutUint16(ip[4:6], 0) // identification
	binary.BigEndian.PutUint16(ip[6:8], 0) // flags/fragment offset
	ip[8] = 64                             // TTL
	ip[9] = 17                             // protocol UDP
	copy(ip[12:16], flow.SrcIP[:])
	copy(ip[16:20], flow.DstIP[:])
	binary.BigEndian.PutUint16(ip[10:12], ipv4Checksum(ip))

	udp := pkt[ethHdrLen+ipHdrLen:]
	binary.BigEndian.PutUint16(udp[0:2], flow.SrcPort)
	binary.BigEndian.PutUint16(udp[2:4], flow.DstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpHdrLen+len(payload)))
	binary.BigEndian.PutUint16(udp[6:8], 0) // checksum: 0 is valid over IPv4
	copy(udp[udpHdrLen:], payload)

	return pkt
}

// ipv4Checksum computes the standard one's-complement header checksum
// over a 20-byte IPv4 header with the checksum field itself zeroed.
func ipv4Checksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		if i == 10 {
			continue // skip the checksum field itself
		}
		sum += uint32(binary.BigEndian.Uint16(header[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
