package scanstate

import (
	"testing"
	"time"
)

func TestLifecyclePhaseTransitions(t *testing.T) {
	s := &SenderState{}
	r := &ReceiverState{}

	if p := CurrentPhase(s.Snapshot(), r.Snapshot()); p != Running {
		t.Fatalf("phase = %v, want running", p)
	}

	s.ForceComplete(time.Now())
	if p := CurrentPhase(s.Snapshot(), r.Snapshot()); p != Cooldown {
		t.Fatalf("phase = %v, want cooldown", p)
	}

	snap := s.Snapshot()
	r.FinishCooldown(snap.Finish, 0, time.Now())
	if p := CurrentPhase(s.Snapshot(), r.Snapshot()); p != Done {
		t.Fatalf("phase = %v, want done", p)
	}
}

func TestRecordSentDetectsWrap(t *testing.T) {
	s := &SenderState{}
	s.SetFirstScanned(42, 1000)

	if wrapped := s.RecordSent(7, time.Now()); wrapped {
		t.Fatal("first send to a non-sentinel address should not wrap")
	}
	if wrapped := s.RecordSent(42, time.Now()); !wrapped {
		t.Fatal("returning to the sentinel address should signal wrap")
	}
	if !s.Snapshot().Complete {
		t.Fatal("wrap must mark sender complete")
	}
}

func TestTakeTargetRespectsTargetsCap(t *testing.T) {
	s := &SenderState{}
	s.SetFirstScanned(1, 2)
	s.RecordSent(10, time.Now())
	s.RecordSent(11, time.Now())

	exit, _ := s.TakeTarget(time.Now(), 0)
	if !exit {
		t.Fatal("TakeTarget should signal exit once sent >= targets")
	}
}

func TestMonotonicCounters(t *testing.T) {
	s := &SenderState{}
	s.SetFirstScanned(1, 1000)
	s.IncBlacklisted(3)
	s.IncBlacklisted(2)
	if got := s.Snapshot().Blacklisted; got != 5 {
		t.Fatalf("blacklisted = %d, want 5 (monotonic accumulation)", got)
	}

	r := &ReceiverState{}
	r.RecordSuccess(true, false)
	r.RecordSuccess(false, false)
	r.RecordFailure(false)
	snap := r.Snapshot()
	if snap.SuccessTotal != 2 || snap.SuccessUnique != 1 || snap.FailureTotal != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestSeenIPsDedup(t *testing.T) {
	seen := newSeenIPsOfSize(1 << 16)
	if already := seen.TestAndSet(100); already {
		t.Fatal("first TestAndSet should report not-already-set")
	}
	if already := seen.TestAndSet(100); !already {
		t.Fatal("second TestAndSet on the same address should report already-set")
	}
	if seen.TestAndSet(200); seen.Count() != 2 {
		t.Fatalf("count = %d, want 2", seen.Count())
	}
}

func TestMaxResultsReachedSetsComplete(t *testing.T) {
	r := &ReceiverState{}
	r.RecordSuccess(true, false)
	if r.MaxResultsReached(2, time.Now()) {
		t.Fatal("should not trigger before reaching the cap")
	}
	r.RecordSuccess(true, false)
	if !r.MaxResultsReached(2, time.Now()) {
		t.Fatal("should trigger once unique successes reach the cap")
	}
	if !r.Snapshot().Complete {
		t.Fatal("MaxResultsReached must mark the receiver complete")
	}
}
