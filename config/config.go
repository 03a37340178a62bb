// Package config defines the scanner's CLI surface, backed by
// github.com/jessevdk/go-flags struct tags. Config.Validate is the
// single place configuration errors are caught before any probe is
// sent.
package config

import (
	"fmt"
	"net"

	flags "github.com/jessevdk/go-flags"
)

// Config is the scanner's CLI flags table, validated once at startup.
type Config struct {
	TargetPort  uint16 `short:"p" long:"target-port" default:"443" description:"destination port probed"`
	OutputFile  string `short:"o" long:"output-file" default:"recv.log" description:"text file of responder IPs"`
	BlacklistFile string `short:"b" long:"blacklist-file" description:"CIDR subnets to exclude"`
	WhitelistFile string `short:"w" long:"whitelist-file" description:"CIDR subnets to restrict to"`
	MaxTargets  uint32 `short:"n" long:"max-targets" default:"4294967295" description:"cap probes sent"`
	MaxResults  uint32 `short:"R" long:"max-results" default:"4294967295" description:"cap unique successes"`
	MaxRuntime  uint64 `short:"t" long:"max-runtime" default:"0" description:"send-phase wall-clock cap, seconds (0=infinite)"`
	Rate        uint64 `short:"r" long:"rate" default:"0" description:"per-scan pps (0=uncapped)"`
	Bandwidth   string `short:"B" long:"bandwidth" default:"" description:"pps derived from bits/s with suffix G/M/K; overrides rate"`
	CooldownSecs uint64 `short:"c" long:"cooldown-secs" default:"8" description:"receive-after-send grace period"`
	Seed        uint64 `short:"e" long:"seed" default:"0" description:"permutation seed (0 = OS randomness)"`
	SenderThreads int  `short:"T" long:"sender-threads" default:"1" description:"parallel sender count"`
	Probes      int    `short:"P" long:"probes" default:"1" description:"probes per destination"`
	Dryrun      bool   `short:"d" long:"dryrun" description:"skip syscalls, optionally print each packet"`
	SourcePortFirst uint16 `long:"source-port-first" default:"32768" description:"source port range start"`
	SourcePortLast  uint16 `long:"source-port-last" default:"61000" description:"source port range end"`
	SourceIPFirst string `long:"source-ip-first" default:"0.0.0.0" description:"source IP range start"`
	SourceIPLast  string `long:"source-ip-last" default:"0.0.0.0" description:"source IP range end"`
	Interface   string `short:"i" long:"interface" description:"NIC (auto-detected if empty)"`
	GwMAC       string `short:"G" long:"gw-mac" description:"gateway MAC (auto-detected if zero)"`
	Quiet       bool   `short:"q" long:"quiet" description:"suppress dryrun packet printing"`
	ICMP        bool   `long:"icmp" description:"count ICMP destination-unreachable replies to our probes separately"`
	Verbose     bool   `short:"v" long:"verbose" description:"raise log level to debug"`
}

// Parse parses argv (typically os.Args[1:]) into a Config with
// defaults applied by the struct tags above.
func Parse(argv []string) (*Config, error) {
	cfg := &Config{}
	p := flags.NewParser(cfg, flags.Default)
	if _, err := p.ParseArgs(argv); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration-error class of failures: invalid
// bandwidth suffix, unparsable CIDR-adjacent IPs, source_ip_first !=
// source_ip_last, and so on. It does not touch the filesystem
// (constraint file parsing happens in constraint.Load and surfaces its
// own errors).
func (c *Config) Validate() error {
	if c.Probes < 1 {
		return fmt.Errorf("config: --probes must be >= 1")
	}
	if c.SenderThreads < 1 {
		return fmt.Errorf("config: --sender-threads must be >= 1")
	}
	if c.SourcePortLast < c.SourcePortFirst {
		return fmt.Errorf("config: --source-port-last must be >= --source-port-first")
	}

	srcFirst := net.ParseIP(c.SourceIPFirst)
	if srcFirst == nil || srcFirst.To4() == nil {
		return fmt.Errorf("config: --source-ip-first %q is not a valid IPv4 address", c.SourceIPFirst)
	}
	srcLast := net.ParseIP(c.SourceIPLast)
	if srcLast == nil || srcLast.To4() == nil {
		return fmt.Errorf("config: --source-ip-last %q is not a valid IPv4 address", c.SourceIPLast)
	}
	if !srcFirst.Equal(srcLast) {
		return fmt.Errorf("config: source_ip_first must equal source_ip_last (single source IP only)")
	}

	if c.GwMAC != "" {
		if _, err := net.ParseMAC(c.GwMAC); err != nil {
			return fmt.Errorf("config: --gw-mac %q is invalid: %w", c.GwMAC, err)
		}
	}

	if c.Bandwidth != "" {
		rate, err := BandwidthToRate(c.Bandwidth, PacketLengthFor(c))
		if err != nil {
			return fmt.Errorf("config: --bandwidth: %w", err)
		}
		c.Rate = rate
	}

	return nil
}

// PacketLengthFor returns the on-wire packet length used by the
// bandwidth->rate derivation. The reference probe module (TCP SYN) is
// a fixed 54 bytes; a pluggable probe module would report its own via
// probe.Module.PacketLength, but bandwidth math only needs the number
// so this stays a plain function rather than importing probe here.
func PacketLengthFor(_ *Config) int {
	return 54
}

// SourceIP returns the parsed, validated single source IPv4 address
// as a host-order uint32. Callers must call Validate first.
func (c *Config) SourceIP() uint32 {
	ip := net.ParseIP(c.SourceIPFirst).To4()
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}
