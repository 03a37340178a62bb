// Package capture wraps packet capture: it opens an interface in
// promiscuous, inbound-only mode, installs a BPF filter, and hands
// back raw frames plus the kernel's recv/drop/ifdrop counters. It is
// backed by github.com/google/gopacket/pcap, the ecosystem-standard
// Go binding for libpcap.
package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket/pcap"
)

// Handle is the subset of a capture session the receiver loop needs.
type Handle interface {
	// ReadPacket blocks for the next captured frame, or returns an
	// error (including timeout) if none arrives.
	ReadPacket() ([]byte, error)
	// Stats returns the kernel's cumulative recv/drop/ifdrop counters.
	Stats() (recv, drop, ifDrop uint64, err error)
	Close()
}

type pcapHandle struct {
	h *pcap.Handle
}

// Open opens iface for inbound capture with the given snaplen and BPF
// filter: snaplen requested by the caller (the probe module's
// PcapSnaplen), promiscuous mode on, direction inbound, no read
// timeout.
func Open(iface string, snaplen int, filter string) (Handle, error) {
	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, fmt.Errorf("capture: create inactive handle on %s: %w", iface, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(snaplen); err != nil {
		return nil, fmt.Errorf("capture: set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(true); err != nil {
		return nil, fmt.Errorf("capture: set promiscuous: %w", err)
	}
	if err := inactive.SetTimeout(pcap.BlockForever); err != nil {
		return nil, fmt.Errorf("capture: set timeout: %w", err)
	}

	h, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("capture: activate %s: %w", iface, err)
	}
	if err := h.SetDirection(pcap.DirectionIn); err != nil {
		h.Close()
		return nil, fmt.Errorf("capture: set inbound direction: %w", err)
	}
	if err := h.SetBPFFilter(filter); err != nil {
		h.Close()
		return nil, fmt.Errorf("capture: set BPF filter %q: %w", filter, err)
	}

	return &pcapHandle{h: h}, nil
}

func (p *pcapHandle) ReadPacket() ([]byte, error) {
	data, _, err := p.h.ZeroCopyReadPacketData()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (p *pcapHandle) Stats() (recv, drop, ifDrop uint64, err error) {
	stats, err := p.h.Stats()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("capture: stats: %w", err)
	}
	return uint64(stats.PacketsReceived), uint64(stats.PacketsDropped), uint64(stats.PacketsIfDropped), nil
}

func (p *pcapHandle) Close() { p.h.Close() }

// StatsRefreshInterval is how often the receiver loop should poll
// Stats.
const StatsRefreshInterval = 1 * time.Second
