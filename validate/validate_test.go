package validate

import "testing"

func TestGenDeterministicForSamePair(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := v.Gen(1, 2)
	b := v.Gen(1, 2)
	if a != b {
		t.Fatal("Gen must be deterministic for the same (src,dst) pair")
	}
}

func TestGenDiffersAcrossPairs(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := v.Gen(1, 2)
	b := v.Gen(1, 3)
	c := v.Gen(2, 2)
	if a == b || a == c {
		t.Fatal("Gen should be independent across (src,dst) pairs")
	}
}

func TestRoundTripSourcePortAndCheckDstPort(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	const srcFirst, srcLast = uint16(32768), uint16(61000)
	const probes = 3

	src := uint32(10)<<24 | 1
	dst := uint32(192)<<24 | 168<<16 | 1

	tag := v.Gen(src, dst)
	for i := 0; i < probes; i++ {
		port := tag.SourcePort(srcFirst, srcLast, i)
		if !CheckDstPort(uint32(port), tag.V1, srcFirst, srcLast, probes) {
			t.Fatalf("probe %d: source port %d should validate against v1=%d", i, port, tag.V1)
		}
	}

	// A port well outside the admitted window should not validate.
	outside := tag.SourcePort(srcFirst, srcLast, probes+1000)
	if CheckDstPort(uint32(outside), tag.V1, srcFirst, srcLast, probes) {
		t.Fatal("a source port far outside the probe window should not validate")
	}
}

func TestCheckDstPortRejectsOutOfRange(t *testing.T) {
	if CheckDstPort(100, 5, 32768, 61000, 1) {
		t.Fatal("port below the source port range must be rejected")
	}
	if CheckDstPort(70000, 5, 32768, 61000, 1) {
		t.Fatal("port above the source port range must be rejected")
	}
}
