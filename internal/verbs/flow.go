package verbs

import "encoding/binary"

// Flow specification type identifiers, matching ibv_flow_spec_type.
const (
	flowSpecEth  uint32 = 0x20
	flowSpecIPv4 uint32 = 0x30
	flowSpecUDP  uint32 = 0x41
)

// Flow attribute types, matching ibv_flow_attr_type.
const (
	flowAttrNormal  uint32 = 0x0
	flowAttrSniffer uint32 = 0x3
)

// Marshaled sizes of the libibverbs API structs (x86-64 layout: 4-byte
// enums, natural member alignment, sizeof rounded to the struct's
// alignment). ibv_create_flow consumes an ibv_flow_attr followed
// contiguously by its specs, so these offsets must mirror the C layout
// exactly.
const (
	flowAttrSize     = 20 // struct ibv_flow_attr
	flowSpecEthSize  = 40 // struct ibv_flow_spec_eth
	flowSpecIPv4Size = 24 // struct ibv_flow_spec_ipv4
	flowSpecUDPSize  = 16 // struct ibv_flow_spec_tcp_udp
)

const etherTypeIPv4 = 0x0800

// BuildFlowAttr marshals the raw-Ethernet 3-spec flow attribute (eth,
// ipv4, udp) used to steer a 5-tuple to this queue pair, with exact
// field masks: every configured field is matched exactly, not
// wildcarded. Scalar header fields are host-endian per the C ABI, while
// MACs, IPs, and ports are carried in network byte order as the filter
// structs expect.
func BuildFlowAttr(port uint8, t FiveTuple) []byte {
	buf := make([]byte, flowAttrSize+flowSpecEthSize+flowSpecIPv4Size+flowSpecUDPSize)

	// struct ibv_flow_attr: comp_mask, type, size, priority,
	// num_of_specs, port, pad, flags
	binary.LittleEndian.PutUint32(buf[0:4], 0) // comp_mask
	binary.LittleEndian.PutUint32(buf[4:8], flowAttrNormal)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(buf)))
	binary.LittleEndian.PutUint16(buf[10:12], 0) // priority
	buf[12] = 3                                  // num_of_specs
	buf[13] = port
	binary.LittleEndian.PutUint32(buf[16:20], 0) // flags

	off := flowAttrSize
	putEthSpec(buf[off:off+flowSpecEthSize], t)
	off += flowSpecEthSize
	putIPv4Spec(buf[off:off+flowSpecIPv4Size], t)
	off += flowSpecIPv4Size
	putUDPSpec(buf[off:off+flowSpecUDPSize], t)

	return buf
}

// BuildSnifferFlowAttr marshals a zero-spec sniffer flow attribute, the
// promiscuous fallback: the queue pair receives every packet on the
// port and the application discards unwanted frames.
func BuildSnifferFlowAttr(port uint8) []byte {
	buf := make([]byte, flowAttrSize)
	binary.LittleEndian.PutUint32(buf[4:8], flowAttrSniffer)
	binary.LittleEndian.PutUint16(buf[8:10], flowAttrSize)
	buf[13] = port
	return buf
}

// putEthSpec fills struct ibv_flow_spec_eth. The eth filter is
// {dst_mac[6], src_mac[6], ether_type, vlan_tag}; both MACs and the
// IPv4 EtherType are matched exactly, the VLAN tag is wildcarded.
func putEthSpec(b []byte, t FiveTuple) {
	binary.LittleEndian.PutUint32(b[0:4], flowSpecEth)
	binary.LittleEndian.PutUint16(b[4:6], flowSpecEthSize)

	copy(b[6:12], t.DstMAC[:])
	copy(b[12:18], t.SrcMAC[:])
	binary.BigEndian.PutUint16(b[18:20], etherTypeIPv4)
	// vlan_tag val stays zero

	for i := 22; i < 34; i++ {
		b[i] = 0xff // dst_mac + src_mac masks
	}
	binary.BigEndian.PutUint16(b[34:36], 0xffff) // ether_type mask
	// vlan_tag mask stays zero
}

// putIPv4Spec fills struct ibv_flow_spec_ipv4. The ipv4 filter's
// {src_ip, dst_ip} pair is 4-byte aligned, leaving 2 pad bytes after
// the size field.
func putIPv4Spec(b []byte, t FiveTuple) {
	binary.LittleEndian.PutUint32(b[0:4], flowSpecIPv4)
	binary.LittleEndian.PutUint16(b[4:6], flowSpecIPv4Size)

	copy(b[8:12], t.SrcIP[:])
	copy(b[12:16], t.DstIP[:])
	for i := 16; i < 24; i++ {
		b[i] = 0xff
	}
}

// putUDPSpec fills struct ibv_flow_spec_tcp_udp. The tcp_udp filter
// puts dst_port before src_port, both in network byte order.
func putUDPSpec(b []byte, t FiveTuple) {
	binary.LittleEndian.PutUint32(b[0:4], flowSpecUDP)
	binary.LittleEndian.PutUint16(b[4:6], flowSpecUDPSize)

	binary.BigEndian.PutUint16(b[6:8], t.DstPort)
	binary.BigEndian.PutUint16(b[8:10], t.SrcPort)
	binary.BigEndian.PutUint16(b[10:12], 0xffff)
	binary.BigEndian.PutUint16(b[12:14], 0xffff)
}
