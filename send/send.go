// Package send implements the sender loop: rate-shaped probe emission
// that pulls addresses from a shared Cyclic permutation, filters them
// through the Constraint tree, and hands wire bytes from a
// probe.Module to a raw socket.
//
// The rate-shaping recalibration loop counts packets and, every N of
// them, recomputes a spin delay from the observed send rate.
package send

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cvsouth/tscan/constraint"
	"github.com/cvsouth/tscan/cyclic"
	"github.com/cvsouth/tscan/probe"
	"github.com/cvsouth/tscan/rawsock"
	"github.com/cvsouth/tscan/scanstate"
	"github.com/cvsouth/tscan/validate"
)

// Params bundles the configuration a sender thread needs. All threads
// sharing a Loop pass the same Params except ThreadIndex.
type Params struct {
	ThreadIndex, Threads int
	SrcMAC, GwMAC        net.HardwareAddr
	SrcIP                uint32
	SourcePortFirst      uint16
	SourcePortLast       uint16
	TargetPort           uint16
	Probes               int
	MaxTargets           uint64 // 0 means unbounded (constraint.Count(Allowed) governs)
	Rate                 uint64 // total scan-wide pps; 0 = uncapped
	MaxRuntime           time.Duration
	Dryrun               bool
	Quiet                bool
}

func (p Params) probeConfig() probe.Config {
	return probe.Config{
		SourcePortFirst: p.SourcePortFirst,
		SourcePortLast:  p.SourcePortLast,
		TargetPort:      p.TargetPort,
		Probes:          p.Probes,
	}
}

// Loop runs the sender side of the scan. A single Loop is shared by
// every sender thread; ensureInit's sync.Once makes the one-time
// "pull first_scanned" step run exactly once regardless of how many
// threads call Run concurrently.
type Loop struct {
	cyclic     *cyclic.Cyclic
	cyclicMu   sync.Mutex
	constraint *constraint.Tree
	validator  *validate.Validator
	module     probe.Module
	sock       rawsock.Sender
	sender     *scanstate.SenderState
	log        *slog.Logger

	initOnce sync.Once
	initErr  error
}

// nextIP advances the shared permutation under lock: the Cyclic
// generator is shared by all senders under its own mutex.
// cyclic.NewSharded gives each thread its own lock-free coset instead,
// but this Loop's default configuration is one Cyclic shared by every
// thread's Run call, so every step must be serialized.
func (l *Loop) nextIP() uint32 {
	l.cyclicMu.Lock()
	defer l.cyclicMu.Unlock()
	return l.cyclic.NextIP()
}

// New builds a Loop shared by all sender threads.
func New(cyc *cyclic.Cyclic, tree *constraint.Tree, v *validate.Validator, mod probe.Module, sock rawsock.Sender, state *scanstate.SenderState, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{cyclic: cyc, constraint: tree, validator: v, module: mod, sock: sock, sender: state, log: logger}
}

// ensureInit performs the one-time initialization: pull first_scanned
// from Cyclic skipping disallowed addresses, set targets to
// min(maxTargets, count(allowed)). If the constraint tree allows no
// addresses at all, there is no first_scanned to find; initErr is set
// instead of spinning forever looking for one.
func (l *Loop) ensureInit(maxTargets uint64) {
	l.initOnce.Do(func() {
		allowed := l.constraint.Count(constraint.Allowed)
		if allowed == 0 {
			l.initErr = fmt.Errorf("send: constraint tree allows no addresses to scan")
			return
		}

		addr := l.nextIP()
		var blacklisted uint64
		for l.constraint.Lookup(addr) != constraint.Allowed {
			blacklisted++
			addr = l.nextIP()
		}
		if blacklisted > 0 {
			l.sender.IncBlacklisted(blacklisted)
		}

		targets := allowed
		if maxTargets != 0 && maxTargets < targets {
			targets = maxTargets
		}
		l.sender.SetFirstScanned(addr, targets)
	})
}

// Run drives one sender thread until the scan lifecycle retires it.
func (l *Loop) Run(p Params) error {
	if p.Probes <= 0 {
		return fmt.Errorf("send: Probes must be >= 1")
	}
	l.ensureInit(p.MaxTargets)
	if l.initErr != nil {
		return l.initErr
	}

	ts, err := l.module.ThreadInit(p.SrcMAC, p.GwMAC, p.SrcIP, p.probeConfig())
	if err != nil {
		return fmt.Errorf("send: thread init: %w", err)
	}

	shaper := newRateShaper(p.Rate, p.Threads)

	for {
		shaper.beforeSend()

		exit, _ := l.sender.TakeTarget(time.Now(), p.MaxRuntime)
		if exit {
			return nil
		}

		dst := l.nextIP()
		var blacklisted uint64
		for l.constraint.Lookup(dst) != constraint.Allowed {
			blacklisted++
			dst = l.nextIP()
		}
		if blacklisted > 0 {
			l.sender.IncBlacklisted(blacklisted)
		}
		l.sender.RecordSent(dst, time.Now())

		if err := l.emit(ts, dst, p); err != nil {
			l.log.Warn("sendto failed", "dst", dst, "err", err)
		}

		shaper.afterSend()
	}
}

func (l *Loop) emit(ts probe.ThreadState, dst uint32, p Params) error {
	var firstErr error
	for i := 0; i < p.Probes; i++ {
		tag := l.validator.Gen(p.SrcIP, dst)
		pkt, err := l.module.MakePacket(ts, dst, tag, i, p.probeConfig())
		if err != nil {
			return fmt.Errorf("make packet: %w", err)
		}
		if p.Dryrun {
			if !p.Quiet {
				l.log.Info("dryrun packet", "dst", dst, "len", len(pkt))
			}
			continue
		}
		if err := l.sock.SendTo(pkt, p.GwMAC); err != nil {
			l.sender.IncSendToFailures()
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
