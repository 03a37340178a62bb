// Package recv implements the receiver loop: drain the capture queue,
// reject anything that doesn't parse or validate as a reply to one of
// our own probes, deduplicate by source address, and write each
// newly-seen responder to the output sink.
package recv

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cvsouth/tscan/capture"
	"github.com/cvsouth/tscan/probe"
	"github.com/cvsouth/tscan/scanstate"
	"github.com/cvsouth/tscan/validate"
)

// Params bundles the configuration the receiver loop needs. OurIP is
// the single configured source address, which is the reply's IP
// destination; the tag is re-derived as Gen(OurIP, reply source), the
// same argument order the sender used to generate it.
type Params struct {
	OurIP           uint32
	TargetPort      uint16
	SourcePortFirst uint16
	SourcePortLast  uint16
	Probes          int
	MaxResults      uint64
	CooldownSecs    time.Duration
	ICMP            bool // also count ICMP unreachable replies to our probes
}

func (p Params) probeConfig() probe.Config {
	return probe.Config{
		SourcePortFirst: p.SourcePortFirst,
		SourcePortLast:  p.SourcePortLast,
		TargetPort:      p.TargetPort,
		Probes:          p.Probes,
	}
}

// Loop drives the receiver side of the scan.
type Loop struct {
	capture   capture.Handle
	validator *validate.Validator
	module    probe.Module
	dedup     *scanstate.SeenIPs
	sender    *scanstate.SenderState
	receiver  *scanstate.ReceiverState
	sink      io.Writer
	log       *slog.Logger
}

// New builds a receiver Loop. sink receives one dotted-quad address
// per line, in arrival order of first success.
func New(h capture.Handle, v *validate.Validator, mod probe.Module, dedup *scanstate.SeenIPs, sender *scanstate.SenderState, receiver *scanstate.ReceiverState, sink io.Writer, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{capture: h, validator: v, module: mod, dedup: dedup, sender: sender, receiver: receiver, sink: sink, log: logger}
}

// Run drives the receiver loop until the lifecycle machine retires it:
// either max_results is reached (which also force-completes the
// sender) or cooldown has elapsed since the sender finished.
func (l *Loop) Run(p Params) error {
	l.receiver.SetReady()

	lastStatsAt := time.Now()
	for {
		if l.receiver.MaxResultsReached(p.MaxResults, time.Now()) {
			l.sender.ForceComplete(time.Now())
			break
		}

		snap := l.sender.Snapshot()
		if snap.Complete {
			if l.receiver.FinishCooldown(snap.Finish, p.CooldownSecs, time.Now()) {
				break
			}
		}

		pkt, err := l.capture.ReadPacket()
		if err != nil {
			if errors.Is(err, capture.ErrNoMorePackets) {
				// Test/dryrun fakes exhaust their queue; treat like an
				// idle capture and keep polling the lifecycle clocks.
				time.Sleep(time.Millisecond)
				continue
			}
			l.log.Debug("capture read failed", "err", err)
			continue
		}

		l.handlePacket(pkt, p)

		if time.Since(lastStatsAt) >= capture.StatsRefreshInterval {
			l.refreshStats()
			lastStatsAt = time.Now()
		}
	}

	l.refreshStats()
	return nil
}

func (l *Loop) handlePacket(pkt []byte, p Params) {
	src := l.module.SourceAddr(pkt)
	if src == 0 {
		if p.ICMP {
			l.handleICMP(pkt, p)
		}
		return // failed to parse as the module's own protocol
	}

	// pkt.dst is our own configured address, pkt.src is the responder,
	// so this reuses the same Gen(ourIP, theirIP) call the sender made
	// to produce this packet's expected tag.
	tag := l.validator.Gen(p.OurIP, src)
	if !l.module.Validate(pkt, tag, p.probeConfig()) {
		return
	}

	senderComplete := l.sender.Snapshot().Complete
	if l.module.Classify(pkt) {
		unique := !l.dedup.TestAndSet(src)
		l.receiver.RecordSuccess(unique, senderComplete)
		if unique {
			if _, err := fmt.Fprintf(l.sink, "%d.%d.%d.%d\n", byte(src>>24), byte(src>>16), byte(src>>8), byte(src)); err != nil {
				l.log.Warn("write output failed", "err", err)
			}
		}
	} else {
		l.receiver.RecordFailure(senderComplete)
	}
}

// handleICMP recognizes an ICMP destination-unreachable reply quoting
// one of our own probes. Additive only: it never feeds scanstate's
// dedup bitmap or success/failure counters.
func (l *Loop) handleICMP(pkt []byte, p Params) {
	classifier, ok := l.module.(probe.ICMPClassifier)
	if !ok {
		return
	}
	if _, ok := classifier.ClassifyICMP(pkt, l.validator, p.OurIP, p.probeConfig()); ok {
		l.receiver.RecordICMP()
	}
}

func (l *Loop) refreshStats() {
	recv, drop, ifDrop, err := l.capture.Stats()
	if err != nil {
		l.log.Debug("capture stats failed", "err", err)
		return
	}
	l.receiver.RefreshPcapCounters(recv, drop, ifDrop)
}
