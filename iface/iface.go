// Package iface resolves the default NIC and its gateway's MAC address
// when the operator hasn't pinned them via --interface/--gw-mac.
package iface

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"net"
	"os"
	"strconv"
	"strings"
)

// Info describes the NIC a scan will send from.
type Info struct {
	Name  string
	Index int
	MAC   net.HardwareAddr
	IPv4  uint32
}

// Discover resolves name (or, if empty, the interface carrying the
// default IPv4 route) into its index, MAC, and first IPv4 address.
func Discover(name string) (Info, error) {
	if name == "" {
		defaultName, err := defaultRouteInterface()
		if err != nil {
			return Info{}, fmt.Errorf("iface: auto-detect interface: %w", err)
		}
		name = defaultName
	}

	ifc, err := net.InterfaceByName(name)
	if err != nil {
		return Info{}, fmt.Errorf("iface: lookup %s: %w", name, err)
	}
	addrs, err := ifc.Addrs()
	if err != nil {
		return Info{}, fmt.Errorf("iface: addrs of %s: %w", name, err)
	}

	var ipv4 uint32
	found := false
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		v4 := ipNet.IP.To4()
		if v4 == nil {
			continue
		}
		ipv4 = binary.BigEndian.Uint32(v4)
		found = true
		break
	}
	if !found {
		return Info{}, fmt.Errorf("iface: %s has no IPv4 address", name)
	}

	return Info{Name: ifc.Name, Index: ifc.Index, MAC: ifc.HardwareAddr, IPv4: ipv4}, nil
}

// defaultRouteInterface reads /proc/net/route for the interface whose
// destination is 0.0.0.0 with the lowest metric, matching how
// low-level Linux tools resolve the default NIC without netlink.
func defaultRouteInterface() (string, error) {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		return "", fmt.Errorf("open /proc/net/route: %w", err)
	}
	defer f.Close()
	return parseDefaultRouteInterface(f)
}

// DefaultGatewayIP resolves the gateway address configured for
// ifaceName's default route, the address DiscoverGateway then resolves
// to a MAC via the ARP table. Returned in host byte order.
func DefaultGatewayIP(ifaceName string) (uint32, error) {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		return 0, fmt.Errorf("iface: open /proc/net/route: %w", err)
	}
	defer f.Close()
	return parseDefaultGatewayIP(f, ifaceName)
}

func parseDefaultGatewayIP(r io.Reader, ifaceName string) (uint32, error) {
	scanner := bufio.NewScanner(r)
	scanner.Scan() // header line
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 7 {
			continue
		}
		if fields[0] != ifaceName || fields[1] != "00000000" {
			continue
		}
		gw, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			continue
		}
		// /proc/net/route prints the gateway's raw little-endian word
		// as hex, so the byte order needs reversing to get the
		// dotted-quad octet order back.
		return bits.ReverseBytes32(uint32(gw)), nil
	}
	return 0, fmt.Errorf("iface: no default route gateway found for %s", ifaceName)
}

func parseDefaultRouteInterface(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Scan() // header line
	best := ""
	bestMetric := int64(-1)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 7 {
			continue
		}
		if fields[1] != "00000000" { // destination
			continue
		}
		metric, err := strconv.ParseInt(fields[6], 10, 64)
		if err != nil {
			continue
		}
		if bestMetric < 0 || metric < bestMetric {
			best = fields[0]
			bestMetric = metric
		}
	}
	if best == "" {
		return "", fmt.Errorf("no default route found in /proc/net/route")
	}
	return best, nil
}

// DiscoverGateway resolves the default gateway's hardware address via
// the kernel's ARP/neighbor table (/proc/net/arp on Linux). Callers
// that can't resolve it are expected to require --gw-mac explicitly.
func DiscoverGateway(gatewayIP uint32) (net.HardwareAddr, error) {
	f, err := os.Open("/proc/net/arp")
	if err != nil {
		return nil, fmt.Errorf("iface: open /proc/net/arp: %w", err)
	}
	defer f.Close()

	want := net.IPv4(byte(gatewayIP>>24), byte(gatewayIP>>16), byte(gatewayIP>>8), byte(gatewayIP)).String()
	mac, err := parseGatewayMAC(f, want)
	if err != nil {
		return nil, fmt.Errorf("iface: no ARP entry for gateway %s; pass --gw-mac explicitly", want)
	}
	return mac, nil
}

func parseGatewayMAC(r io.Reader, want string) (net.HardwareAddr, error) {
	scanner := bufio.NewScanner(r)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		if fields[0] != want {
			continue
		}
		mac, err := net.ParseMAC(fields[3])
		if err != nil {
			continue
		}
		return mac, nil
	}
	return nil, fmt.Errorf("no ARP entry for %s", want)
}
