// Package probe defines the pluggable contract a probe module
// implements: a protocol-specific packet builder, wire validator, and
// success/failure classifier. probe/tcpsyn implements the reference
// TCP SYN module.
//
// Addresses are host-order uint32s throughout: 32-bit unsigned,
// stored in host byte order internally and converted to network order
// only at packet emission.
package probe

import (
	"net"

	"github.com/cvsouth/tscan/validate"
)

// Config carries the fields a probe module needs to build and validate
// packets but that belong to the CLI configuration rather than the
// module itself.
type Config struct {
	SourcePortFirst, SourcePortLast uint16
	TargetPort                      uint16
	Probes                          int
}

// Module is the per-protocol contract every probe module implements.
type Module interface {
	// PacketLength is the on-wire length of one probe packet.
	PacketLength() int
	// PcapSnaplen is the capture snapshot length to request.
	PcapSnaplen() int
	// PcapFilter is the BPF filter string admitting this module's
	// replies (and nothing else it doesn't know how to validate).
	PcapFilter() string

	// ThreadInit prepares any per-thread cached state (e.g. a
	// template packet to patch in place) for the build-once,
	// patch-per-probe optimization.
	ThreadInit(srcMAC, gwMAC net.HardwareAddr, srcIP uint32, cfg Config) (ThreadState, error)

	// MakePacket returns the wire bytes for one probe to dst, using
	// the validation tag and probe index to fill in the fields the
	// validator/receiver will check.
	MakePacket(ts ThreadState, dst uint32, tag validate.Tag, probeIndex int, cfg Config) ([]byte, error)

	// Validate reports whether pkt is a reply to one of our own
	// probes, using the tag re-derived from the swapped (dst,src)
	// pair (see validate.Validator.Gen's usage on receive).
	Validate(pkt []byte, tag validate.Tag, cfg Config) bool

	// Classify reports success (true) or failure (false) for a
	// packet that already passed Validate.
	Classify(pkt []byte) bool

	// SourceAddr extracts the responder's address (the packet's IP
	// source field) from a validated packet, for dedup and output.
	SourceAddr(pkt []byte) uint32
}

// ThreadState is an opaque, per-sender-thread cache a Module may use
// to avoid rebuilding static packet bytes on every probe.
type ThreadState interface{}

// ICMPClassifier is an optional capability a Module may implement to
// support the opt-in --icmp accounting: recognizing an ICMP reply
// that quotes one of our own probes. Implementations
// re-derive the validation tag from the quoted datagram rather than
// trusting any state, the same as Validate does for direct replies.
type ICMPClassifier interface {
	// ClassifyICMP reports whether pkt is an ICMP reply quoting one of
	// our own probes, using v and ourIP to re-derive and check the tag.
	// Returns the probed address (for dedup/logging) and success.
	ClassifyICMP(pkt []byte, v *validate.Validator, ourIP uint32, cfg Config) (addr uint32, ok bool)
}
