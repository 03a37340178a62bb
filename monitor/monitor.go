// Package monitor implements progress printing: a periodic structured
// summary of the counters both SenderState and ReceiverState publish,
// plus a warning when the capture-drop ratio gets high enough to
// suspect undercounting. It wires a single *slog.Logger through the
// process rather than building a dedicated reporting framework.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/cvsouth/tscan/scanstate"
)

// dropWarnRatio is the capture-drop-to-success ratio worth a warning:
// a sustained drop-to-success ratio above ~5% triggers one.
const dropWarnRatio = 0.05

// Monitor periodically logs scan progress until ctx is cancelled.
type Monitor struct {
	sender   *scanstate.SenderState
	receiver *scanstate.ReceiverState
	log      *slog.Logger
	interval time.Duration

	warned bool
}

// New builds a Monitor. interval <= 0 defaults to one second.
func New(sender *scanstate.SenderState, receiver *scanstate.ReceiverState, logger *slog.Logger, interval time.Duration) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{sender: sender, receiver: receiver, log: logger, interval: interval}
}

// Run prints one summary every interval until ctx is cancelled, then
// prints a final summary before returning.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logOnce("final")
			return
		case <-ticker.C:
			m.logOnce("progress")
		}
	}
}

func (m *Monitor) logOnce(kind string) {
	s := m.sender.Snapshot()
	r := m.receiver.Snapshot()
	phase := scanstate.CurrentPhase(s, r)

	m.log.Info(kind,
		"phase", phase.String(),
		"sent", s.Sent,
		"blacklisted", s.Blacklisted,
		"sendto_failures", s.SendToFailures,
		"targets", s.Targets,
		"success_unique", r.SuccessUnique,
		"success_total", r.SuccessTotal,
		"failure_total", r.FailureTotal,
		"pcap_recv", r.PcapRecv,
		"pcap_drop", r.PcapDrop,
		"pcap_ifdrop", r.PcapIfDrop,
	)

	if r.SuccessTotal > 0 {
		ratio := float64(r.PcapDrop+r.PcapIfDrop) / float64(r.SuccessTotal)
		if ratio > dropWarnRatio && !m.warned {
			m.log.Warn("sustained capture drop ratio may be undercounting responders",
				"ratio", ratio, "pcap_drop", r.PcapDrop, "pcap_ifdrop", r.PcapIfDrop, "success_total", r.SuccessTotal)
			m.warned = true
		}
	}
}
