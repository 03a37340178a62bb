package scanstate

import (
	"math/bits"
	"sync/atomic"
)

// SeenIPs is a dense 2^32-bit bitmap over destination addresses, owned
// exclusively by the receiver goroutine. Using atomic word operations
// still lets RefreshPcapCounters and friends run concurrently with
// TestAndSet without a separate lock, though in the reference
// single-receiver design only one goroutine ever calls it.
type SeenIPs struct {
	words []uint64
}

// NewSeenIPs allocates the full 512 MiB dedup bitmap.
func NewSeenIPs() *SeenIPs {
	return newSeenIPsOfSize(uint64(1) << 32)
}

// newSeenIPsOfSize allocates a bitmap over [0, addressSpace), used
// directly by tests that don't want to pay for the full 512 MiB.
func newSeenIPsOfSize(addressSpace uint64) *SeenIPs {
	return &SeenIPs{words: make([]uint64, (addressSpace+63)/64)}
}

// TestAndSet reports whether addr was already marked, and marks it.
func (b *SeenIPs) TestAndSet(addr uint32) (alreadySet bool) {
	word := addr / 64
	bit := uint64(1) << (addr % 64)
	old := atomic.LoadUint64(&b.words[word])
	if old&bit != 0 {
		return true
	}
	for {
		newVal := old | bit
		if atomic.CompareAndSwapUint64(&b.words[word], old, newVal) {
			return false
		}
		old = atomic.LoadUint64(&b.words[word])
		if old&bit != 0 {
			return true
		}
	}
}

// Count returns the number of distinct addresses marked so far. O(n);
// intended for tests and summaries, not the hot path.
func (b *SeenIPs) Count() uint64 {
	var total uint64
	for _, w := range b.words {
		total += uint64(bits.OnesCount64(w))
	}
	return total
}
