// Package tcpsyn is the reference TCP SYN probe module: it builds a
// bare Ethernet+IPv4+TCP SYN packet per destination, validates replies
// by re-deriving the validation tag, and classifies a reply as success
// unless the RST flag is set.
//
// Packets are built and parsed as a preallocated byte slice with
// constants for header lengths and PutUint*/Uint* at fixed offsets,
// rather than a struct-based codec.
package tcpsyn

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/cvsouth/tscan/probe"
	"github.com/cvsouth/tscan/validate"
)

const (
	ethHeaderLen  = 14
	ipHeaderLen   = 20
	tcpHeaderLen  = 20
	icmpHeaderLen = 8

	// PacketLen is the total on-wire length of one SYN probe.
	PacketLen = ethHeaderLen + ipHeaderLen + tcpHeaderLen

	flagFIN = 0x01
	flagSYN = 0x02
	flagRST = 0x04

	etherTypeIPv4 = 0x0800
	protoTCP      = 6
	protoICMP     = 1

	icmpTypeDestUnreachable = 3
)

// Module implements probe.Module for TCP SYN scanning.
type Module struct{}

var _ probe.Module = Module{}

func (Module) PacketLength() int { return PacketLen }
func (Module) PcapSnaplen() int  { return 8192 }

// PcapFilter admits SYN|ACK or RST replies.
func (Module) PcapFilter() string {
	return "tcp && tcp[13] & 4 != 0 || tcp[13] == 18"
}

// PcapFilterICMP extends PcapFilter to also admit ICMP destination-
// unreachable replies, for the opt-in --icmp path.
func (Module) PcapFilterICMP() string {
	return "(" + Module{}.PcapFilter() + ") || (icmp && icmp[0] == 3)"
}

// ThreadState caches the static template bytes for one sender thread;
// MakePacket patches only dst IP, source port, seq, and the two
// checksums per probe.
type ThreadState struct {
	template []byte // PacketLen bytes
	srcIP    [4]byte
}

func (Module) ThreadInit(srcMAC, gwMAC net.HardwareAddr, srcIP uint32, cfg probe.Config) (probe.ThreadState, error) {
	if len(srcMAC) != 6 || len(gwMAC) != 6 {
		return nil, fmt.Errorf("tcpsyn: MAC addresses must be 6 bytes")
	}
	ts := &ThreadState{template: make([]byte, PacketLen)}
	binary.BigEndian.PutUint32(ts.srcIP[:], srcIP)

	buildEthernet(ts.template, srcMAC, gwMAC)
	buildIPv4Template(ts.template[ethHeaderLen:], ts.srcIP)
	buildTCPTemplate(ts.template[ethHeaderLen+ipHeaderLen:], cfg.TargetPort)
	return ts, nil
}

func buildEthernet(buf []byte, src, dst net.HardwareAddr) {
	copy(buf[0:6], dst)
	copy(buf[6:12], src)
	binary.BigEndian.PutUint16(buf[12:14], etherTypeIPv4)
}

func buildIPv4Template(buf []byte, srcIP [4]byte) {
	buf[0] = 0x45 // version 4, IHL 5
	buf[1] = 0    // TOS
	binary.BigEndian.PutUint16(buf[2:4], ipHeaderLen+tcpHeaderLen)
	binary.BigEndian.PutUint16(buf[4:6], 54321) // id
	binary.BigEndian.PutUint16(buf[6:8], 0)     // flags/frag_off
	buf[8] = 255                                // TTL
	buf[9] = protoTCP
	binary.BigEndian.PutUint16(buf[10:12], 0) // checksum, patched per packet
	copy(buf[12:16], srcIP[:])
	// buf[16:20] dst IP patched per packet
}

func buildTCPTemplate(buf []byte, targetPort uint16) {
	// buf[0:2] src port patched per packet
	binary.BigEndian.PutUint16(buf[2:4], targetPort)
	// buf[4:8] seq patched per packet
	binary.BigEndian.PutUint32(buf[8:12], 0) // ack
	buf[12] = 5 << 4                         // data offset 5, reserved 0
	buf[13] = flagSYN
	binary.BigEndian.PutUint16(buf[14:16], 65535) // window
	binary.BigEndian.PutUint16(buf[16:18], 0)     // checksum, patched per packet
	binary.BigEndian.PutUint16(buf[18:20], 0)     // urgent ptr
}

func (Module) MakePacket(tsAny probe.ThreadState, dst uint32, tag validate.Tag, probeIndex int, cfg probe.Config) ([]byte, error) {
	ts, ok := tsAny.(*ThreadState)
	if !ok || ts == nil {
		panic("tcpsyn: ThreadInit must be called before MakePacket")
	}

	pkt := make([]byte, PacketLen)
	copy(pkt, ts.template)

	ipBuf := pkt[ethHeaderLen : ethHeaderLen+ipHeaderLen]
	binary.BigEndian.PutUint32(ipBuf[16:20], dst)
	binary.BigEndian.PutUint16(ipBuf[10:12], 0)
	binary.BigEndian.PutUint16(ipBuf[10:12], ipv4Checksum(ipBuf))

	tcpBuf := pkt[ethHeaderLen+ipHeaderLen:]
	srcPort := tag.SourcePort(cfg.SourcePortFirst, cfg.SourcePortLast, probeIndex)
	binary.BigEndian.PutUint16(tcpBuf[0:2], srcPort)
	binary.BigEndian.PutUint32(tcpBuf[4:8], tag.V0)
	binary.BigEndian.PutUint16(tcpBuf[16:18], 0)
	binary.BigEndian.PutUint16(tcpBuf[16:18], tcpChecksum(ts.srcIP, ipBuf[16:20], tcpBuf))

	return pkt, nil
}

func ipv4Checksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(header[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

func tcpChecksum(srcIP, dstIP [4]byte, tcpSeg []byte) uint16 {
	var sum uint32
	add16 := func(v uint16) { sum += uint32(v) }
	add16(binary.BigEndian.Uint16(srcIP[0:2]))
	add16(binary.BigEndian.Uint16(srcIP[2:4]))
	add16(binary.BigEndian.Uint16(dstIP[0:2]))
	add16(binary.BigEndian.Uint16(dstIP[2:4]))
	add16(protoTCP)
	add16(uint16(len(tcpSeg)))

	for i := 0; i+1 < len(tcpSeg); i += 2 {
		add16(binary.BigEndian.Uint16(tcpSeg[i : i+2]))
	}
	if len(tcpSeg)%2 == 1 {
		sum += uint32(tcpSeg[len(tcpSeg)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// parsed is the subset of an Ethernet+IPv4+TCP packet Validate/Classify/
// SourceAddr need.
type parsed struct {
	srcIP, dstIP     uint32
	srcPort, dstPort uint16
	ack              uint32
	flags            byte
}

func parse(pkt []byte) (parsed, bool) {
	if len(pkt) < ethHeaderLen+ipHeaderLen+tcpHeaderLen {
		return parsed{}, false
	}
	if binary.BigEndian.Uint16(pkt[12:14]) != etherTypeIPv4 {
		return parsed{}, false
	}
	ipBuf := pkt[ethHeaderLen:]
	ihl := int(ipBuf[0]&0x0F) * 4
	if ihl < ipHeaderLen || ipBuf[9] != protoTCP {
		return parsed{}, false
	}
	if len(ipBuf) < ihl+tcpHeaderLen {
		return parsed{}, false
	}
	tcpBuf := ipBuf[ihl:]

	return parsed{
		srcIP:   binary.BigEndian.Uint32(ipBuf[12:16]),
		dstIP:   binary.BigEndian.Uint32(ipBuf[16:20]),
		srcPort: binary.BigEndian.Uint16(tcpBuf[0:2]),
		dstPort: binary.BigEndian.Uint16(tcpBuf[2:4]),
		ack:     binary.BigEndian.Uint32(tcpBuf[8:12]),
		flags:   tcpBuf[13],
	}, true
}

// Validate checks tcp.src_port == target_port, tcp.dst_port in the
// admitted source-port window, and tcp.ack == v0+1.
func (Module) Validate(pkt []byte, tag validate.Tag, cfg probe.Config) bool {
	p, ok := parse(pkt)
	if !ok {
		return false
	}
	if p.srcPort != cfg.TargetPort {
		return false
	}
	if !validate.CheckDstPort(uint32(p.dstPort), tag.V1, cfg.SourcePortFirst, cfg.SourcePortLast, cfg.Probes) {
		return false
	}
	return p.ack == tag.V0+1
}

// Classify reports success (true, meaning the port is open — a
// SYN|ACK) unless the RST flag is set.
func (Module) Classify(pkt []byte) bool {
	p, ok := parse(pkt)
	if !ok {
		return false
	}
	return p.flags&flagRST == 0
}

// SourceAddr returns the packet's IP source field (the responder).
func (Module) SourceAddr(pkt []byte) uint32 {
	p, ok := parse(pkt)
	if !ok {
		return 0
	}
	return p.srcIP
}

// ClassifyICMP implements probe.ICMPClassifier: it recognizes an ICMP
// destination-unreachable reply quoting one of our own SYN probes, by
// re-deriving the validation tag from the quoted datagram's addresses
// and checking its quoted source port and sequence number match.
// Returns the responder's address (the original destination we
// probed) and whether the packet validated.
func (Module) ClassifyICMP(pkt []byte, v *validate.Validator, ourIP uint32, cfg probe.Config) (uint32, bool) {
	if len(pkt) < ethHeaderLen+ipHeaderLen+icmpHeaderLen {
		return 0, false
	}
	if binary.BigEndian.Uint16(pkt[12:14]) != etherTypeIPv4 {
		return 0, false
	}
	ipBuf := pkt[ethHeaderLen:]
	ihl := int(ipBuf[0]&0x0F) * 4
	if ihl < ipHeaderLen || ipBuf[9] != protoICMP {
		return 0, false
	}
	icmpBuf := ipBuf[ihl:]
	if len(icmpBuf) < icmpHeaderLen+ipHeaderLen+8 {
		return 0, false
	}
	if icmpBuf[0] != icmpTypeDestUnreachable {
		return 0, false
	}

	quoted := icmpBuf[icmpHeaderLen:]
	quotedIHL := int(quoted[0]&0x0F) * 4
	if quotedIHL < ipHeaderLen || quoted[9] != protoTCP || len(quoted) < quotedIHL+8 {
		return 0, false
	}
	quotedTCP := quoted[quotedIHL:]

	quotedSrcIP := binary.BigEndian.Uint32(quoted[12:16])
	quotedDstIP := binary.BigEndian.Uint32(quoted[16:20])
	if quotedSrcIP != ourIP {
		return 0, false
	}

	tag := v.Gen(ourIP, quotedDstIP)
	srcPort := binary.BigEndian.Uint16(quotedTCP[0:2])
	seq := binary.BigEndian.Uint32(quotedTCP[4:8])
	if seq != tag.V0 {
		return 0, false
	}
	if !validate.CheckDstPort(uint32(srcPort), tag.V1, cfg.SourcePortFirst, cfg.SourcePortLast, cfg.Probes) {
		return 0, false
	}
	return quotedDstIP, true
}
