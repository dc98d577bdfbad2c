// Package statusline implements the supplemented periodic aggregate status
// line from original_source/ctsTraffic/ctsConfig.cpp's status-print timer,
// independent of the broker's 333ms reap/refill tick (spec section 4.6
// keeps those two timers distinct).
package statusline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tpn/ctstraffic/internal/broker"
	"github.com/tpn/ctstraffic/internal/stats"
)

// Printer periodically logs an aggregate snapshot of the run's counters
// and broker pool state.
type Printer struct {
	global   *stats.Global
	b        *broker.Broker
	log      *zap.SugaredLogger
	interval time.Duration
}

// New builds a Printer. interval <= 0 disables printing (Run returns
// immediately).
func New(global *stats.Global, b *broker.Broker, log *zap.SugaredLogger, interval time.Duration) *Printer {
	return &Printer{global: global, b: b, log: log, interval: interval}
}

// Run prints one status line per tick until ctx is cancelled.
func (p *Printer) Run(ctx context.Context) {
	if p.interval <= 0 || p.log == nil {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var lastSent, lastRecv uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, active, remaining := p.b.Snapshot()
			sent, recv := p.global.TotalBytesSent(), p.global.TotalBytesRecv()

			p.log.Infow("status",
				"pending", pending,
				"active", active,
				"remaining", remaining,
				"bytes_sent", sent,
				"bytes_recv", recv,
				"send_rate_bps", rate(sent-lastSent, p.interval),
				"recv_rate_bps", rate(recv-lastRecv, p.interval),
				"connections_ok", p.global.ConnectionsOK(),
				"connections_err", p.global.ConnectionsErr(),
			)
			lastSent, lastRecv = sent, recv
		}
	}
}

func rate(deltaBytes uint64, interval time.Duration) float64 {
	if interval <= 0 {
		return 0
	}
	return float64(deltaBytes) * 8 / interval.Seconds()
}
