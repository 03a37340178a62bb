package config

import (
	"fmt"
	"strconv"
	"strings"
)

// bandwidthOverheadBits is the fixed per-packet overhead attributed to
// preamble, SFD, FCS, and inter-frame gap.
const bandwidthOverheadBits = 192

// minPacketBits is the floor imposed on on-wire packet bits before the
// rate derivation, regardless of how small packetLen is.
const minPacketBits = 672

// BandwidthToRate derives a packets-per-second rate from a bandwidth
// figure:
//
//	bits = max(packetLen*8 + 192, 672)
//	rate = floor(bandwidth / bits), clamped to >= 1 if bandwidth > 0
//
// The bandwidth string accepts a decimal number with an optional
// G/M/K suffix meaning bits/sec * 10^9/10^6/10^3 (e.g. "1G", "500M",
// "64K", or a bare number for bits/sec).
func BandwidthToRate(spec string, packetLen int) (uint64, error) {
	bandwidth, err := parseBandwidth(spec)
	if err != nil {
		return 0, err
	}
	if bandwidth == 0 {
		return 0, nil
	}

	bits := uint64(packetLen)*8 + bandwidthOverheadBits
	if bits < minPacketBits {
		bits = minPacketBits
	}

	rate := bandwidth / bits
	if rate < 1 {
		rate = 1
	}
	return rate, nil
}

func parseBandwidth(spec string) (uint64, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, nil
	}

	multiplier := uint64(1)
	suffix := spec[len(spec)-1]
	numeric := spec
	switch suffix {
	case 'G', 'g':
		multiplier = 1_000_000_000
		numeric = spec[:len(spec)-1]
	case 'M', 'm':
		multiplier = 1_000_000
		numeric = spec[:len(spec)-1]
	case 'K', 'k':
		multiplier = 1_000
		numeric = spec[:len(spec)-1]
	}

	value, err := strconv.ParseFloat(numeric, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth %q: %w", spec, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid bandwidth %q: must be non-negative", spec)
	}

	return uint64(value * float64(multiplier)), nil
}
