// Package ratelimit implements the per-connection send pacing of spec
// component C8: a period-boundary budget, not a continuous token bucket.
// Each period permits rate_bytes * period_ms / 1000 bytes; a send that
// would exceed the remaining budget must instead wait until the next period
// boundary. Leftover budget is dropped at each boundary (see DESIGN.md's
// resolution of the open question on leftover-token policy).
package ratelimit

import "time"

// Limiter paces sends for a single connection. It is not safe for
// concurrent use from more than one goroutine at a time; the pattern engine
// that owns it is itself guarded by the connection's per-connection mutex.
type Limiter struct {
	period    time.Duration
	perPeriod uint64

	periodEnd time.Time
	remaining uint64
}

// New builds a Limiter permitting ratePerSec bytes/sec, accounted in
// buckets of the given period. A configured rate below one byte per period
// still permits one byte per period, avoiding deadlock (spec section 8
// boundary behavior).
func New(ratePerSec uint64, period time.Duration) *Limiter {
	perPeriod := ratePerSec * uint64(period/time.Millisecond) / 1000
	if perPeriod == 0 {
		perPeriod = 1
	}
	return &Limiter{period: period, perPeriod: perPeriod}
}

// Reserve requests permission to send n bytes at time now. If the current
// period's remaining budget covers n, it is deducted and ok is true. If the
// budget can't cover it, ok is false and waitUntil names the next period
// boundary the caller must sleep to before retrying.
func (l *Limiter) Reserve(n uint64, now time.Time) (ok bool, waitUntil time.Time) {
	l.rollPeriod(now)
	if n <= l.remaining {
		l.remaining -= n
		return true, time.Time{}
	}
	return false, l.periodEnd
}

func (l *Limiter) rollPeriod(now time.Time) {
	if l.periodEnd.IsZero() || !now.Before(l.periodEnd) {
		l.periodEnd = now.Add(l.period)
		l.remaining = l.perPeriod
	}
}

// PerPeriod returns the configured per-period byte allotment, primarily
// for tests.
func (l *Limiter) PerPeriod() uint64 { return l.perPeriod }
