// Package broker implements the connection scheduler of spec component C6:
// it maintains target concurrency, throttles connection creation, and
// tracks the pending/active/remaining accounting invariants of spec
// section 4.6, grounded closely on
// _examples/original_source/ctsTraffic/ctsSocketBroker.cpp.
package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tpn/ctstraffic"
	"github.com/tpn/ctstraffic/internal/connection"
	"github.com/tpn/ctstraffic/internal/stats"
)

// tickInterval matches ctsSocketBroker's TimerCallbackTimeout.
const tickInterval = 333 * time.Millisecond

// SocketFactory builds the SocketProvider for one new connection record.
// Supplied by the caller so the broker stays agnostic to whether sockets
// are dialed out or accepted, and to stream vs. datagram transport (spec
// section 1 scopes socket-API binding choices out of the core).
type SocketFactory func() connection.SocketProvider

// Broker schedules connection creation to hold pending_sockets and
// active_sockets within their configured limits (spec section 4.6).
type Broker struct {
	cfg     *ctstraffic.Config
	newSock SocketFactory
	log     *zap.SugaredLogger
	global  *stats.Global

	mu             sync.Mutex
	pool           []*record
	pendingSockets uint64
	activeSockets  uint64
	totalRemaining uint64
	pendingLimit   uint64
	verdicts       []ctstraffic.Verdict

	wg         sync.WaitGroup
	cancelOnce sync.Once
	cancelFn   context.CancelFunc
	cancelFault atomic.Pointer[ctstraffic.Fault]

	seedCounter atomic.Int64
}

// New builds a Broker and performs no I/O; call Run to start it.
func New(cfg *ctstraffic.Config, sockets SocketFactory, log *zap.SugaredLogger, global *stats.Global) *Broker {
	b := &Broker{
		cfg:            cfg,
		newSock:        sockets,
		log:            log,
		global:         global,
		totalRemaining: cfg.TotalConnectionsRemaining(),
		pendingLimit:   cfg.EffectivePendingLimit(),
	}
	b.cancelFault.Store(ctstraffic.ErrCancelled)
	return b
}

// Run drives the broker to completion: it pre-fills the pool up to the
// pending limit before the first tick (spec's supplemented "startup burst"
// behavior, see DESIGN.md), then reaps and refills on a fixed interval
// until total_connections_remaining, pending_sockets, and active_sockets
// all reach zero, an external cancellation arrives on cancelSignal, or the
// configured time limit elapses. It returns every connection's verdict.
func (b *Broker) Run(parent context.Context, cancelSignal <-chan struct{}) []ctstraffic.Verdict {
	ctx, cancel := context.WithCancel(parent)
	b.cancelFn = cancel
	defer cancel()

	var eg errgroup.Group

	eg.Go(func() error {
		b.tickerLoop(ctx)
		return nil
	})

	if cancelSignal != nil {
		eg.Go(func() error {
			select {
			case <-cancelSignal:
				b.cancelFault.Store(ctstraffic.ErrCancelled)
				b.cancelOnce.Do(cancel)
			case <-ctx.Done():
			}
			return nil
		})
	}

	if b.cfg.TimeLimit > 0 {
		eg.Go(func() error {
			timer := time.NewTimer(b.cfg.TimeLimit)
			defer timer.Stop()
			select {
			case <-timer.C:
				b.cancelFault.Store(ctstraffic.ErrTimeLimit)
				b.cancelOnce.Do(cancel)
			case <-ctx.Done():
			}
			return nil
		})
	}

	b.mu.Lock()
	b.fillLocked(ctx)
	b.mu.Unlock()

	eg.Wait()
	b.wg.Wait()

	return b.snapshotVerdicts()
}

// tickerLoop performs the three periodic actions of spec section 4.6.
func (b *Broker) tickerLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.tick(ctx) {
				return
			}
		}
	}
}

// tick reaps closed records, checks the global completion condition, and
// otherwise refills the pool. It returns true once the run is complete.
func (b *Broker) tick(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reapLocked()

	if b.totalRemaining == 0 && b.pendingSockets == 0 && b.activeSockets == 0 {
		b.cancelOnce.Do(b.cancelFn)
		return true
	}

	if ctx.Err() == nil {
		b.fillLocked(ctx)
	}
	return false
}

func (b *Broker) reapLocked() {
	kept := b.pool[:0]
	for _, r := range b.pool {
		if r.isClosed() {
			b.verdicts = append(b.verdicts, r.verdict)
			continue
		}
		kept = append(kept, r)
	}
	b.pool = kept
}

// fillLocked creates new connection records while capacity allows, per
// spec section 4.6 rule 3. Caller must hold b.mu.
func (b *Broker) fillLocked(ctx context.Context) {
	for b.pendingSockets < b.pendingLimit && b.totalRemaining > 0 {
		if b.cfg.Role == ctstraffic.RoleConnect {
			if b.pendingSockets+b.activeSockets >= b.cfg.ConnectionLimit {
				break
			}
			if b.pendingSockets >= b.cfg.ThrottleLimit && b.cfg.ThrottleLimit > 0 {
				break
			}
		}
		b.spawnLocked(ctx)
	}
}

func (b *Broker) spawnLocked(ctx context.Context) {
	b.pendingSockets++
	b.totalRemaining--

	seed := b.seedCounter.Add(1) + time.Now().UnixNano()
	conn := connection.New(b.cfg, b.cfg.Role, b.newSock(), b, b.global, b.log, seed)
	rec := &record{id: conn.ID, conn: conn}
	b.pool = append(b.pool, rec)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		v := conn.Run(ctx)
		rec.verdict = v
		rec.closed.Store(true)
	}()
}

// InitiatingIO implements connection.Notifier: the record has moved from
// pending to active (spec section 4.6).
func (b *Broker) InitiatingIO() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pendingSockets == 0 {
		b.log.Fatalw("broker: initiating_io with pending_sockets == 0", "active_sockets", b.activeSockets)
	}
	b.pendingSockets--
	b.activeSockets++
}

// Closing implements connection.Notifier: the record is tearing down.
func (b *Broker) Closing(wasActive bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if wasActive {
		if b.activeSockets == 0 {
			b.log.Fatalw("broker: closing(active) with active_sockets == 0", "pending_sockets", b.pendingSockets)
		}
		b.activeSockets--
	} else {
		if b.pendingSockets == 0 {
			b.log.Fatalw("broker: closing(pending) with pending_sockets == 0", "active_sockets", b.activeSockets)
		}
		b.pendingSockets--
	}
}

// CancelFault implements connection.Notifier: the Fault a still-active
// connection should record if the run is being torn down out from under it
// (spec section 5: time-limit vs. plain external cancellation).
func (b *Broker) CancelFault() *ctstraffic.Fault {
	return b.cancelFault.Load()
}

func (b *Broker) snapshotVerdicts() []ctstraffic.Verdict {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reapLocked()
	return append([]ctstraffic.Verdict(nil), b.verdicts...)
}

// Snapshot exposes the current pending/active/remaining counters, for the
// status line and tests.
func (b *Broker) Snapshot() (pending, active, remaining uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingSockets, b.activeSockets, b.totalRemaining
}
