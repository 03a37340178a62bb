// Package scanstate holds the process-wide, mutex-protected counters
// shared between the sender and receiver goroutines, and the lifecycle
// queries (Phase) derived from them. Field updates always happen under
// the owning struct's lock; a reader from "the other side" locks,
// copies the fields it needs, and unlocks before acting on them, so
// each side has its own independently-locked state.
package scanstate

import (
	"sync"
	"time"
)

// SenderState is the sender-side counters.
type SenderState struct {
	mu sync.Mutex

	Start, Finish time.Time
	Sent          uint64
	Blacklisted   uint64
	SendToFailures uint64
	Targets       uint64
	FirstScanned  uint32
	HasFirst      bool
	Complete      bool
}

// Snapshot is a point-in-time copy of SenderState's fields, safe to
// read without holding the lock.
type SenderSnapshot struct {
	Start, Finish  time.Time
	Sent           uint64
	Blacklisted    uint64
	SendToFailures uint64
	Targets        uint64
	FirstScanned   uint32
	HasFirst       bool
	Complete       bool
}

// Snapshot copies the current fields under lock.
func (s *SenderState) Snapshot() SenderSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SenderSnapshot{
		Start: s.Start, Finish: s.Finish,
		Sent: s.Sent, Blacklisted: s.Blacklisted,
		SendToFailures: s.SendToFailures, Targets: s.Targets,
		FirstScanned: s.FirstScanned, HasFirst: s.HasFirst,
		Complete: s.Complete,
	}
}

// SetFirstScanned records the permutation's wrap-around sentinel and
// the effective target cap, once, at sender startup.
func (s *SenderState) SetFirstScanned(addr uint32, targets uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FirstScanned = addr
	s.HasFirst = true
	s.Targets = targets
	s.Start = time.Now()
}

// IncBlacklisted bumps the blacklisted counter (an address skipped
// because the constraint tree disallowed it).
func (s *SenderState) IncBlacklisted(n uint64) {
	s.mu.Lock()
	s.Blacklisted += n
	s.mu.Unlock()
}

// IncSendToFailures bumps the sendto-failure counter.
func (s *SenderState) IncSendToFailures() {
	s.mu.Lock()
	s.SendToFailures++
	s.mu.Unlock()
}

// TakeTarget executes one sender-loop "take next target" step under
// lock: reports completion if the cap or deadline has been hit,
// otherwise changes nothing. The caller decides what "next" address to
// try outside the lock and calls RecordSent with it.
func (s *SenderState) TakeTarget(now time.Time, maxRuntime time.Duration) (shouldExit, alreadyComplete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Complete {
		return true, true
	}
	if s.Sent >= s.Targets || (maxRuntime > 0 && now.Sub(s.Start) >= maxRuntime) {
		s.Complete = true
		s.Finish = now
		return true, false
	}
	return false, false
}

// RecordSent accounts one emitted probe destination. If addr equals
// the wrap sentinel, the sender phase is marked complete (the probe
// for addr is still emitted by the caller).
func (s *SenderState) RecordSent(addr uint32, now time.Time) (wrapped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent++
	if s.HasFirst && addr == s.FirstScanned && s.Sent > 1 {
		s.Complete = true
		s.Finish = now
		return true
	}
	return false
}

// ForceComplete marks the sender phase complete, e.g. because the
// receiver hit --max-results and wants the senders to stop.
func (s *SenderState) ForceComplete(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Complete {
		s.Complete = true
		s.Finish = now
	}
}

// ReceiverState is the receiver-side counters.
type ReceiverState struct {
	mu sync.Mutex

	Ready, Complete                           bool
	Start, Finish                             time.Time
	SuccessUnique, SuccessTotal                uint64
	CooldownUnique, CooldownTotal              uint64
	FailureTotal, FailureICMP                  uint64
	PcapRecv, PcapDrop, PcapIfDrop             uint64
}

// ReceiverSnapshot mirrors ReceiverState for lock-free reads.
type ReceiverSnapshot struct {
	Ready, Complete                bool
	Start, Finish                  time.Time
	SuccessUnique, SuccessTotal     uint64
	CooldownUnique, CooldownTotal   uint64
	FailureTotal, FailureICMP       uint64
	PcapRecv, PcapDrop, PcapIfDrop  uint64
}

func (r *ReceiverState) Snapshot() ReceiverSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReceiverSnapshot{
		Ready: r.Ready, Complete: r.Complete,
		Start: r.Start, Finish: r.Finish,
		SuccessUnique: r.SuccessUnique, SuccessTotal: r.SuccessTotal,
		CooldownUnique: r.CooldownUnique, CooldownTotal: r.CooldownTotal,
		FailureTotal: r.FailureTotal, FailureICMP: r.FailureICMP,
		PcapRecv: r.PcapRecv, PcapDrop: r.PcapDrop, PcapIfDrop: r.PcapIfDrop,
	}
}

// SetReady marks the receiver's capture as up and records Start. The
// sender handshake blocks on this before spawning sender threads.
func (r *ReceiverState) SetReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Ready = true
	r.Start = time.Now()
}

// IsReady reports whether SetReady has run.
func (r *ReceiverState) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Ready
}

// RecordFailure counts a classified-failure packet (e.g. a SYN scan's
// RST response).
func (r *ReceiverState) RecordFailure(senderComplete bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FailureTotal++
	if senderComplete {
		r.CooldownTotal++
	}
}

// RecordICMP counts an optional, additive ICMP-unreachable observation;
// it does not affect success/failure.
func (r *ReceiverState) RecordICMP() {
	r.mu.Lock()
	r.FailureICMP++
	r.mu.Unlock()
}

// RecordSuccess counts a classified-success packet. Whether this src
// address is new is decided by the caller, which has already tested/set
// the dedup bitmap, and is passed in as `unique`.
func (r *ReceiverState) RecordSuccess(unique, senderComplete bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SuccessTotal++
	if unique {
		r.SuccessUnique++
	}
	if senderComplete {
		r.CooldownTotal++
		if unique {
			r.CooldownUnique++
		}
	}
}

// RefreshPcapCounters updates the capture-library drop counters.
func (r *ReceiverState) RefreshPcapCounters(recv, drop, ifDrop uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PcapRecv, r.PcapDrop, r.PcapIfDrop = recv, drop, ifDrop
}

// MaxResultsReached reports whether success_unique has hit the cap,
// and if so marks the receiver complete (the caller is responsible for
// also calling SenderState.ForceComplete).
func (r *ReceiverState) MaxResultsReached(maxResults uint64, now time.Time) bool {
	if maxResults == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SuccessUnique >= maxResults {
		r.Complete = true
		r.Finish = now
		return true
	}
	return false
}

// FinishCooldown marks the receiver complete once cooldownSecs have
// elapsed since the sender finished.
func (r *ReceiverState) FinishCooldown(senderFinish time.Time, cooldown time.Duration, now time.Time) bool {
	if now.Sub(senderFinish) < cooldown {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Complete {
		r.Complete = true
		r.Finish = now
	}
	return true
}

// Phase is the three-state scan lifecycle.
type Phase int

const (
	Running Phase = iota
	Cooldown
	Done
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case Cooldown:
		return "cooldown"
	default:
		return "done"
	}
}

// CurrentPhase derives the lifecycle phase from the two completion
// flags.
func CurrentPhase(sender SenderSnapshot, receiver ReceiverSnapshot) Phase {
	switch {
	case !sender.Complete && !receiver.Complete:
		return Running
	case sender.Complete && !receiver.Complete:
		return Cooldown
	default:
		return Done
	}
}
