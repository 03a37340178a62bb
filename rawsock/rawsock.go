// Package rawsock wraps an AF_PACKET/SOCK_RAW socket bound to an
// interface index, sending pre-built L2 frames straight to a gateway
// MAC via sockaddr_ll.
package rawsock

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Socket is a raw L2 send socket bound to one interface.
type Socket struct {
	fd      int
	ifindex int
}

// Open creates an AF_PACKET/SOCK_RAW/ETH_P_ALL socket.
func Open(ifindex int) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, hostToNetShort(unix.ETH_P_ALL))
	if err != nil {
		return nil, fmt.Errorf("rawsock: socket: %w", err)
	}
	return &Socket{fd: fd, ifindex: ifindex}, nil
}

// hostToNetShort matches the classic htons() used when passing an
// Ethernet protocol number as a socket() domain argument.
func hostToNetShort(proto int) int {
	return int(uint16(proto)<<8 | uint16(proto)>>8)
}

// SendTo transmits pkt out the bound interface to gwMAC, via a
// sockaddr_ll carrying the interface index and destination hardware
// address.
func (s *Socket) SendTo(pkt []byte, gwMAC net.HardwareAddr) error {
	var hwaddr [8]byte
	copy(hwaddr[:6], gwMAC)

	addr := unix.SockaddrLinklayer{
		Protocol: hostToNetShort16(unix.ETH_P_ALL),
		Ifindex:  s.ifindex,
		Halen:    6,
		Addr:     hwaddr,
	}
	return unix.Sendto(s.fd, pkt, 0, &addr)
}

func hostToNetShort16(proto int) uint16 {
	return uint16(proto)<<8 | uint16(proto)>>8
}

// Close releases the underlying file descriptor.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// Sender is the subset of Socket the sender loop depends on, so tests
// can substitute Fake.
type Sender interface {
	SendTo(pkt []byte, gwMAC net.HardwareAddr) error
}

var _ Sender = (*Socket)(nil)
