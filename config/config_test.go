package config

import "testing"

func TestBandwidthToRateSuffixes(t *testing.T) {
	cases := []struct {
		spec      string
		packetLen int
		want      uint64
	}{
		{"1G", 54, 1_000_000_000 / 672}, // 54*8+192 = 624 bits, raised to the 672-bit floor
		{"", 54, 0},
		{"500", 54, 1}, // tiny bandwidth still clamps to >= 1 pps
	}
	for _, c := range cases {
		got, err := BandwidthToRate(c.spec, c.packetLen)
		if err != nil {
			t.Fatalf("BandwidthToRate(%q): %v", c.spec, err)
		}
		if got != c.want {
			t.Fatalf("BandwidthToRate(%q, %d) = %d, want %d", c.spec, c.packetLen, got, c.want)
		}
	}
}

func TestBandwidthToRateMinPacketBitsFloor(t *testing.T) {
	// A packet short enough that 8*len+192 < 672 must still divide by
	// the 672-bit floor.
	got, err := BandwidthToRate("672", 1)
	if err != nil {
		t.Fatalf("BandwidthToRate: %v", err)
	}
	if got != 1 {
		t.Fatalf("rate = %d, want 1 (672 bits / 672-bit floor)", got)
	}
}

func TestBandwidthToRateInvalidSuffix(t *testing.T) {
	if _, err := BandwidthToRate("1X", 54); err == nil {
		t.Fatal("expected an error for an unrecognized bandwidth suffix")
	}
}

func TestValidateRejectsMismatchedSourceIPRange(t *testing.T) {
	c := &Config{
		Probes: 1, SenderThreads: 1,
		SourcePortFirst: 32768, SourcePortLast: 61000,
		SourceIPFirst: "10.0.0.1", SourceIPLast: "10.0.0.2",
	}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error when source_ip_first != source_ip_last")
	}
}

func TestValidateAcceptsSingleSourceIP(t *testing.T) {
	c := &Config{
		Probes: 1, SenderThreads: 1,
		SourcePortFirst: 32768, SourcePortLast: 61000,
		SourceIPFirst: "10.0.0.1", SourceIPLast: "10.0.0.1",
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := c.SourceIP(); got != 0x0A000001 {
		t.Fatalf("SourceIP() = %#x, want 0x0a000001", got)
	}
}

func TestValidateDerivesRateFromBandwidth(t *testing.T) {
	c := &Config{
		Probes: 1, SenderThreads: 1,
		SourcePortFirst: 32768, SourcePortLast: 61000,
		SourceIPFirst: "0.0.0.0", SourceIPLast: "0.0.0.0",
		Bandwidth: "1M",
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Rate == 0 {
		t.Fatal("Validate should have derived a nonzero Rate from --bandwidth")
	}
}
