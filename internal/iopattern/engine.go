// Package iopattern implements the protocol-independent I/O pattern engine
// of spec component C3: a per-connection state machine that decides, at
// each tick, what the next stream I/O operation must be, enforces transfer
// totals, rate-limits sends, verifies received bytes, and produces a
// terminal verdict.
package iopattern

import (
	"time"

	"github.com/tpn/ctstraffic"
	"github.com/tpn/ctstraffic/internal/payload"
	"github.com/tpn/ctstraffic/internal/ratelimit"
)

// direction tracks one byte-flow (send or recv) of a connection.
type direction struct {
	total      uint64
	dispatched uint64
	remaining  uint64
	active     bool // this direction takes part in the connection's pattern at all

	outstanding int
	maxOut      int

	trailerNeeded    bool
	trailerDispatched bool
	trailerDone      bool
}

// newDirection builds one direction's state. active is independent of
// total: a direction with total == 0 still exchanges its completion
// trailer as long as it participates in the connection's pattern at all
// (spec.md §8's transfer_total == 0 boundary case completes via trailer
// exchange alone, it does not skip the trailer). A direction a pattern
// never uses on this side of the connection (e.g. the recv leg of a push
// sender) is the only case that skips the trailer entirely.
func newDirection(total uint64, maxOut int, active bool) direction {
	return direction{
		total:         total,
		remaining:     total,
		active:        active,
		maxOut:        maxOut,
		trailerNeeded: active,
	}
}

func (d *direction) dataExhausted() bool { return d.remaining == 0 }
func (d *direction) fullyDone() bool {
	if !d.active {
		return true
	}
	if !d.dataExhausted() {
		return false
	}
	return !d.trailerNeeded || d.trailerDone
}

// Engine drives one stream connection's task generation. It is not safe
// for concurrent use: the connection worker must guard NextTask/CompleteTask
// calls with its own per-connection mutex (spec section 5).
type Engine struct {
	pattern    ctstraffic.Pattern
	verifyMode ctstraffic.VerifyMode
	bufferSize uint64

	send direction
	recv direction

	// push-pull phase bookkeeping. Ignored for other patterns.
	pushPull       bool
	firstIsSend    bool
	firstQuota     uint64
	secondQuota    uint64
	phaseIsFirst   bool
	phaseRemaining uint64

	cursor  *payload.Cursor
	limiter *ratelimit.Limiter

	pendingSend *Task // a send computed but blocked on rate budget

	fault *ctstraffic.Fault
	done  bool
}

// Options configures a new Engine.
type Options struct {
	Pattern      ctstraffic.Pattern
	VerifyMode   ctstraffic.VerifyMode
	BufferSize   uint64
	SendTotal    uint64
	RecvTotal    uint64
	PushBytes    uint64 // push-pull only: bytes per send phase
	PullBytes    uint64 // push-pull only: bytes per recv phase
	FirstIsSend  bool   // push-pull only: does this side send first?
	PrePostRecvs int
	Limiter      *ratelimit.Limiter // nil disables rate limiting

	// SendActive/RecvActive tell the engine whether this connection's role
	// uses that direction at all (push/pull use exactly one direction per
	// role, so the caller must say which). Duplex and push-pull always use
	// both and override these to true regardless of what's passed.
	SendActive bool
	RecvActive bool
}

// New builds an Engine per the task generation rules of spec section 4.3.
func New(o Options) *Engine {
	maxOutRecv := 1
	if o.Pattern == ctstraffic.PatternDuplex {
		maxOutRecv = o.PrePostRecvs
		if maxOutRecv < 1 {
			maxOutRecv = 1
		}
	} else if o.VerifyMode != ctstraffic.VerifyData {
		if o.PrePostRecvs > 1 {
			maxOutRecv = o.PrePostRecvs
		}
	}

	sendActive, recvActive := o.SendActive, o.RecvActive
	if o.Pattern == ctstraffic.PatternDuplex || o.Pattern == ctstraffic.PatternPushPull {
		sendActive, recvActive = true, true
	}

	e := &Engine{
		pattern:    o.Pattern,
		verifyMode: o.VerifyMode,
		bufferSize: o.BufferSize,
		send:       newDirection(o.SendTotal, 1, sendActive),
		recv:       newDirection(o.RecvTotal, maxOutRecv, recvActive),
		limiter:    o.Limiter,
	}
	if o.VerifyMode == ctstraffic.VerifyData && o.RecvTotal > 0 {
		e.cursor = payload.NewCursor()
	}
	if o.Pattern == ctstraffic.PatternPushPull {
		// The "push" phase always logically comes first (it moves
		// PushBytes), followed by the "pull" phase (PullBytes); FirstIsSend
		// only tells this side whether the push phase is its send or its
		// recv leg.
		e.pushPull = true
		e.firstIsSend = o.FirstIsSend
		e.firstQuota = o.PushBytes
		e.secondQuota = o.PullBytes
		e.phaseIsFirst = true
		e.phaseRemaining = e.firstQuota
	}
	if o.BufferSize == 0 {
		e.bufferSize = 1
	}
	return e
}

// currentPhaseAllows reports whether push-pull phase state currently
// permits a send (isSend=true) or recv (isSend=false) task. Non-push-pull
// patterns always allow both directions independently.
func (e *Engine) currentPhaseAllows(isSend bool) bool {
	if !e.pushPull {
		return true
	}
	wantSend := e.phaseIsFirst == e.firstIsSend
	return wantSend == isSend
}

// advancePushPullPhase is called whenever bytes are dispatched in the
// active push-pull phase; it flips the phase precisely at the byte
// boundary (spec section 4.3 rule 4).
func (e *Engine) advancePushPullPhase(n uint64) {
	if !e.pushPull {
		return
	}
	if n >= e.phaseRemaining {
		e.phaseIsFirst = !e.phaseIsFirst
		if e.phaseIsFirst {
			e.phaseRemaining = e.firstQuota
		} else {
			e.phaseRemaining = e.secondQuota
		}
	} else {
		e.phaseRemaining -= n
	}
}

func (e *Engine) phaseCappedLength(want uint64) uint64 {
	if !e.pushPull {
		return want
	}
	if want > e.phaseRemaining {
		return e.phaseRemaining
	}
	return want
}

// NextTask returns the next instruction for the connection worker to
// execute, per spec section 4.3.
func (e *Engine) NextTask(now time.Time) Task {
	if e.done {
		return Task{Kind: Done}
	}

	if e.pendingSend != nil {
		t := *e.pendingSend
		if e.limiter != nil {
			ok, waitUntil := e.limiter.Reserve(t.Length, now)
			if !ok {
				return Task{Kind: WaitUntil, Deadline: waitUntil}
			}
		}
		e.pendingSend = nil
		e.send.outstanding++
		return t
	}

	// Trailer sends take priority once data is exhausted. The trailer
	// closes out the whole direction, so it is not gated by push-pull
	// phase state the way ordinary data tasks are.
	if e.send.dataExhausted() && e.send.trailerNeeded && !e.send.trailerDispatched &&
		e.send.outstanding == 0 {
		e.send.trailerDispatched = true
		e.send.outstanding++
		return Task{Kind: Send, Offset: e.send.total, Length: TrailerSize, Trailer: true}
	}

	if !e.send.dataExhausted() && e.send.outstanding < e.send.maxOut && e.currentPhaseAllows(true) {
		remaining := e.send.total - e.send.dispatched
		length := e.bufferSize
		if length > remaining {
			length = remaining
		}
		if e.limiter != nil && length > e.limiter.PerPeriod() {
			length = e.limiter.PerPeriod()
		}
		length = e.phaseCappedLength(length)
		if length > 0 {
			task := Task{Kind: Send, Offset: e.send.dispatched, Length: length}
			if e.limiter != nil {
				if ok, waitUntil := e.limiter.Reserve(length, now); !ok {
					e.pendingSend = &task
					e.send.dispatched += length
					e.advancePushPullPhase(length)
					return Task{Kind: WaitUntil, Deadline: waitUntil}
				}
			}
			e.send.dispatched += length
			e.send.outstanding++
			e.advancePushPullPhase(length)
			return task
		}
	}

	if e.recv.dataExhausted() && e.recv.trailerNeeded && !e.recv.trailerDispatched &&
		e.recv.outstanding == 0 {
		e.recv.trailerDispatched = true
		e.recv.outstanding++
		return Task{Kind: Recv, Offset: e.recv.total, Length: TrailerSize, Trailer: true}
	}

	if !e.recv.dataExhausted() && e.recv.outstanding < e.recv.maxOut && e.currentPhaseAllows(false) {
		remaining := e.recv.total - e.recv.dispatched
		length := e.bufferSize
		if length > remaining {
			length = remaining
		}
		length = e.phaseCappedLength(length)
		if length > 0 {
			e.recv.dispatched += length
			e.recv.outstanding++
			e.advancePushPullPhase(length)
			return Task{Kind: Recv, Offset: e.recv.dispatched - length, Length: length}
		}
	}

	if e.send.fullyDone() && e.recv.fullyDone() {
		e.done = true
		return Task{Kind: Done}
	}

	return Task{Kind: None}
}

// CompleteTask reports the outcome of a previously issued task. n is the
// number of bytes actually transferred (which may be short of Length on a
// graceful close); ioErr is any transport error the caller observed.
func (e *Engine) CompleteTask(t Task, n uint64, ioErr error) {
	if e.fault != nil {
		return
	}
	if ioErr != nil {
		e.fault = ctstraffic.NewIOFault(0, ioErr)
		e.done = true
		return
	}

	switch t.Kind {
	case Send:
		e.send.outstanding--
		if t.Trailer {
			if n != t.Length {
				e.fault = ctstraffic.NewProtocolFault(ctstraffic.ProtoNoCompletion, "short trailer write")
				e.done = true
				return
			}
			e.send.trailerDone = true
			return
		}
		if n < t.Length {
			e.fault = ctstraffic.NewProtocolFault(ctstraffic.ProtoTooFewBytes, "short send")
			e.done = true
			return
		}
		e.send.remaining -= n

	case Recv:
		e.recv.outstanding--
		if t.Trailer {
			if n != t.Length {
				e.fault = ctstraffic.NewProtocolFault(ctstraffic.ProtoNoCompletion, "missing completion trailer")
				e.done = true
				return
			}
			e.recv.trailerDone = true
			return
		}
		if n < t.Length {
			e.fault = ctstraffic.NewProtocolFault(ctstraffic.ProtoTooFewBytes, "short recv")
			e.done = true
			return
		}
		e.recv.remaining -= n
	}

	if e.send.remaining == 0 && e.recv.remaining == 0 &&
		e.send.dataExhausted() && e.recv.dataExhausted() &&
		e.send.fullyDone() && e.recv.fullyDone() {
		e.done = true
	}
}

// VerifyRecv checks n freshly received bytes (already copied into a
// caller-owned buffer starting at offset) against the deterministic
// payload mapping, when VerifyMode is VerifyData. It must be called before
// CompleteTask for the same task so a mismatch can preempt the verdict.
func (e *Engine) VerifyRecv(buf []byte) bool {
	if e.cursor == nil {
		return true
	}
	if _, ok := e.cursor.Verify(buf); !ok {
		e.fault = ctstraffic.NewProtocolFault(ctstraffic.ProtoDataMismatch, "received payload mismatch")
		e.done = true
		return false
	}
	return true
}

// Fault returns the terminal Fault, if any, once Done() is true.
func (e *Engine) Fault() *ctstraffic.Fault { return e.fault }

// Done reports whether the engine has reached a terminal state.
func (e *Engine) Done() bool { return e.done }

// BytesRemaining exposes remaining-to-send/recv for tests and invariants.
func (e *Engine) BytesRemaining() (toSend, toRecv uint64) {
	return e.send.remaining, e.recv.remaining
}

// MaxOutstanding returns each direction's configured concurrency ceiling,
// letting the connection worker size its physical I/O worker pool to
// match (spec section 4.3 rule 3).
func (e *Engine) MaxOutstanding() (sendMax, recvMax int) {
	return e.send.maxOut, e.recv.maxOut
}
