package tcpsyn

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/cvsouth/tscan/probe"
	"github.com/cvsouth/tscan/validate"
)

func TestMakePacketLengthAndEthertype(t *testing.T) {
	mod := Module{}
	srcMAC := net.HardwareAddr{0, 1, 2, 3, 4, 5}
	gwMAC := net.HardwareAddr{6, 7, 8, 9, 10, 11}
	cfg := probe.Config{SourcePortFirst: 32768, SourcePortLast: 61000, TargetPort: 443, Probes: 1}

	ts, err := mod.ThreadInit(srcMAC, gwMAC, 0x0A000001, cfg)
	if err != nil {
		t.Fatalf("ThreadInit: %v", err)
	}

	tag := validate.Tag{V0: 0x11223344, V1: 100}
	pkt, err := mod.MakePacket(ts, 0xC0A80101, tag, 0, cfg)
	if err != nil {
		t.Fatalf("MakePacket: %v", err)
	}
	if len(pkt) != PacketLen {
		t.Fatalf("packet length = %d, want %d", len(pkt), PacketLen)
	}
	if binary.BigEndian.Uint16(pkt[12:14]) != etherTypeIPv4 {
		t.Fatal("wrong ethertype")
	}
}

func TestValidateRoundTrip(t *testing.T) {
	mod := Module{}
	srcMAC := net.HardwareAddr{0, 1, 2, 3, 4, 5}
	gwMAC := net.HardwareAddr{6, 7, 8, 9, 10, 11}
	cfg := probe.Config{SourcePortFirst: 32768, SourcePortLast: 61000, TargetPort: 443, Probes: 2}

	ts, err := mod.ThreadInit(srcMAC, gwMAC, 0x0A000001, cfg)
	if err != nil {
		t.Fatalf("ThreadInit: %v", err)
	}

	v, err := validate.New()
	if err != nil {
		t.Fatalf("validate.New: %v", err)
	}
	src := uint32(0x0A000001)
	dst := uint32(0xC0A80101)
	tag := v.Gen(src, dst)

	outbound, err := mod.MakePacket(ts, dst, tag, 0, cfg)
	if err != nil {
		t.Fatalf("MakePacket: %v", err)
	}

	// Simulate the reply: swap src/dst, flip SYN->SYN|ACK, set ack=seq+1.
	reply := make([]byte, len(outbound))
	copy(reply, outbound)
	copy(reply[ethHeaderLen+12:ethHeaderLen+16], outbound[ethHeaderLen+16:ethHeaderLen+20]) // ip src = old dst
	copy(reply[ethHeaderLen+16:ethHeaderLen+20], outbound[ethHeaderLen+12:ethHeaderLen+16]) // ip dst = old src
	tcpBuf := reply[ethHeaderLen+ipHeaderLen:]
	origSrcPort := binary.BigEndian.Uint16(outbound[ethHeaderLen+ipHeaderLen : ethHeaderLen+ipHeaderLen+2])
	binary.BigEndian.PutUint16(tcpBuf[0:2], 443)         // tcp src = target port
	binary.BigEndian.PutUint16(tcpBuf[2:4], origSrcPort) // tcp dst = our source port
	binary.BigEndian.PutUint32(tcpBuf[8:12], tag.V0+1)   // ack = v0+1
	tcpBuf[13] = 0x12                                    // SYN|ACK

	replyTag := v.Gen(src, dst) // receiver's Gen(pkt.dst, pkt.src): the reply's dst/src are our original src/dst
	if !mod.Validate(reply, replyTag, cfg) {
		t.Fatal("a correctly-tagged reply should validate")
	}
	if !mod.Classify(reply) {
		t.Fatal("SYN|ACK without RST should classify as success")
	}
	if got := mod.SourceAddr(reply); got != dst {
		t.Fatalf("SourceAddr = %#x, want %#x", got, dst)
	}
}

func TestValidateRejectsWrongAck(t *testing.T) {
	mod := Module{}
	cfg := probe.Config{SourcePortFirst: 32768, SourcePortLast: 61000, TargetPort: 443, Probes: 1}
	srcMAC := net.HardwareAddr{0, 1, 2, 3, 4, 5}
	gwMAC := net.HardwareAddr{6, 7, 8, 9, 10, 11}
	ts, _ := mod.ThreadInit(srcMAC, gwMAC, 0x0A000001, cfg)

	tag := validate.Tag{V0: 100, V1: 5}
	pkt, _ := mod.MakePacket(ts, 0xC0A80101, tag, 0, cfg)
	tcpBuf := pkt[ethHeaderLen+ipHeaderLen:]
	binary.BigEndian.PutUint16(tcpBuf[0:2], 443) // pretend it's a reply shape
	binary.BigEndian.PutUint32(tcpBuf[8:12], 999) // wrong ack

	if mod.Validate(pkt, tag, cfg) {
		t.Fatal("wrong ack should not validate")
	}
}

func TestClassifyRST(t *testing.T) {
	mod := Module{}
	cfg := probe.Config{SourcePortFirst: 32768, SourcePortLast: 61000, TargetPort: 443, Probes: 1}
	srcMAC := net.HardwareAddr{0, 1, 2, 3, 4, 5}
	gwMAC := net.HardwareAddr{6, 7, 8, 9, 10, 11}
	ts, _ := mod.ThreadInit(srcMAC, gwMAC, 0x0A000001, cfg)
	tag := validate.Tag{V0: 100, V1: 5}
	pkt, _ := mod.MakePacket(ts, 0xC0A80101, tag, 0, cfg)
	pkt[ethHeaderLen+ipHeaderLen+13] = flagRST

	if mod.Classify(pkt) {
		t.Fatal("RST must classify as failure")
	}
}

func TestPcapFilterMatchesSpec(t *testing.T) {
	mod := Module{}
	want := "tcp && tcp[13] & 4 != 0 || tcp[13] == 18"
	if got := mod.PcapFilter(); got != want {
		t.Fatalf("PcapFilter = %q, want %q", got, want)
	}
}

func icmpUnreachable(quoted []byte) []byte {
	pkt := make([]byte, ethHeaderLen+ipHeaderLen+icmpHeaderLen+len(quoted))
	binary.BigEndian.PutUint16(pkt[12:14], etherTypeIPv4)
	ipBuf := pkt[ethHeaderLen:]
	ipBuf[0] = 0x45
	ipBuf[9] = protoICMP
	icmpBuf := ipBuf[ipHeaderLen:]
	icmpBuf[0] = icmpTypeDestUnreachable
	copy(icmpBuf[icmpHeaderLen:], quoted)
	return pkt
}

func TestClassifyICMPRecognizesQuotedProbe(t *testing.T) {
	mod := Module{}
	cfg := probe.Config{SourcePortFirst: 32768, SourcePortLast: 61000, TargetPort: 443, Probes: 1}
	srcMAC := net.HardwareAddr{0, 1, 2, 3, 4, 5}
	gwMAC := net.HardwareAddr{6, 7, 8, 9, 10, 11}
	ts, err := mod.ThreadInit(srcMAC, gwMAC, 0x0A000001, cfg)
	if err != nil {
		t.Fatalf("ThreadInit: %v", err)
	}

	v, err := validate.New()
	if err != nil {
		t.Fatalf("validate.New: %v", err)
	}
	ourIP := uint32(0x0A000001)
	dst := uint32(0xC0A80101)
	tag := v.Gen(ourIP, dst)

	probePkt, err := mod.MakePacket(ts, dst, tag, 0, cfg)
	if err != nil {
		t.Fatalf("MakePacket: %v", err)
	}

	icmpPkt := icmpUnreachable(probePkt[ethHeaderLen:])

	addr, ok := mod.ClassifyICMP(icmpPkt, v, ourIP, cfg)
	if !ok {
		t.Fatal("a correctly-quoted probe should classify as ICMP unreachable")
	}
	if addr != dst {
		t.Fatalf("ClassifyICMP addr = %#x, want %#x", addr, dst)
	}
}

func TestClassifyICMPRejectsUnknownQuote(t *testing.T) {
	mod := Module{}
	cfg := probe.Config{SourcePortFirst: 32768, SourcePortLast: 61000, TargetPort: 443, Probes: 1}
	srcMAC := net.HardwareAddr{0, 1, 2, 3, 4, 5}
	gwMAC := net.HardwareAddr{6, 7, 8, 9, 10, 11}
	ts, err := mod.ThreadInit(srcMAC, gwMAC, 0x0A000001, cfg)
	if err != nil {
		t.Fatalf("ThreadInit: %v", err)
	}

	v, err := validate.New()
	if err != nil {
		t.Fatalf("validate.New: %v", err)
	}
	ourIP := uint32(0x0A000001)
	dst := uint32(0xC0A80101)
	tag := validate.Tag{V0: 0xdeadbeef, V1: 7} // not derived from Gen, won't match

	probePkt, err := mod.MakePacket(ts, dst, tag, 0, cfg)
	if err != nil {
		t.Fatalf("MakePacket: %v", err)
	}
	icmpPkt := icmpUnreachable(probePkt[ethHeaderLen:])

	if _, ok := mod.ClassifyICMP(icmpPkt, v, ourIP, cfg); ok {
		t.Fatal("a quote with an unrelated seq/tag should not classify")
	}
}
