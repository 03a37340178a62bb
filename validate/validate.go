// Package validate derives and checks the response validation tag: a
// 16-byte AES output binding a (src,dst) pair to the process's secret
// key, split into two 32-bit halves used as the TCP sequence number
// and to pick the source port. Because the tag is a pure function of
// (src,dst,key), the receiver can recognize a reply to our own probe
// without keeping any per-probe state.
package validate

import (
	"encoding/binary"

	"github.com/cvsouth/tscan/aesrand"
)

// Tag is the (v0, v1) pair derived from a (src, dst) address pair.
type Tag struct {
	V0 uint32
	V1 uint32
}

// Validator holds the process-wide AES key used as the PRF.
type Validator struct {
	block *aesrand.Block
}

// New draws a fresh validator key from the OS CSPRNG.
func New() (*Validator, error) {
	block, err := aesrand.NewBlock()
	if err != nil {
		return nil, err
	}
	return &Validator{block: block}, nil
}

// Gen computes gen(key, src, dst) = AES(key, src4 || dst4 || 0^8),
// split into big-endian 32-bit halves v0, v1.
func (v *Validator) Gen(src, dst uint32) Tag {
	var in [16]byte
	binary.BigEndian.PutUint32(in[0:4], src)
	binary.BigEndian.PutUint32(in[4:8], dst)
	out := v.block.Encrypt(in)
	return Tag{
		V0: binary.BigEndian.Uint32(out[0:4]),
		V1: binary.BigEndian.Uint32(out[4:8]),
	}
}

// SourcePort derives the outgoing source port for probe index i:
// source_port_first + (v1 + i) mod num_source_ports.
func (t Tag) SourcePort(sourcePortFirst, sourcePortLast uint16, probeIndex int) uint16 {
	numPorts := uint32(sourcePortLast) - uint32(sourcePortFirst) + 1
	offset := (t.V1 + uint32(probeIndex)) % numPorts
	return sourcePortFirst + uint16(offset)
}

// CheckDstPort accepts exactly the `probes` source ports the sender
// would have used for this destination, given the same v1 used on
// send.
func CheckDstPort(p, v1 uint32, sourcePortFirst, sourcePortLast uint16, probes int) bool {
	if p < uint32(sourcePortFirst) || p > uint32(sourcePortLast) {
		return false
	}
	numPorts := uint32(sourcePortLast) - uint32(sourcePortFirst) + 1
	toValidate := p - uint32(sourcePortFirst)
	min := v1 % numPorts
	max := (v1 + uint32(probes) - 1) % numPorts
	return (toValidate+numPorts-min)%numPorts <= (max+numPorts-min)%numPorts
}
