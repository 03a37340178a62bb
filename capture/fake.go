package capture

import "errors"

// ErrNoMorePackets is returned by Fake.ReadPacket once its queue is
// drained, standing in for a capture timeout in tests.
var ErrNoMorePackets = errors.New("capture: no more packets")

// Fake is an in-memory Handle for tests: a queue of pre-built packets
// played back one at a time in place of a live pcap session, used by
// the receiver's unit tests and by dryrun end-to-end scans.
type Fake struct {
	Packets         [][]byte
	pos             int
	Recv, Drop, Ifd uint64
}

func (f *Fake) ReadPacket() ([]byte, error) {
	if f.pos >= len(f.Packets) {
		return nil, ErrNoMorePackets
	}
	pkt := f.Packets[f.pos]
	f.pos++
	return pkt, nil
}

func (f *Fake) Stats() (recv, drop, ifDrop uint64, err error) {
	return f.Recv, f.Drop, f.Ifd, nil
}

func (f *Fake) Close() {}
