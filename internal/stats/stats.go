// Package stats implements the monotonic per-connection counters of spec
// component C2. All counters are 64-bit and safe for concurrent add/read
// from the workers of a single connection; aggregation across connections
// happens only after that connection's verdict is written.
package stats

import (
	"sync/atomic"
	"time"
)

// Counters holds one connection's monotonic byte/frame/error counters.
type Counters struct {
	bytesSent uint64
	bytesRecv uint64

	bitsReceived     uint64
	successfulFrames uint64
	droppedFrames    uint64
	duplicateFrames  uint64
	retryAttempts    uint64
	errorFrames      uint64

	meanJitterNanos int64
	jitterSet       uint32

	startTime int64 // unix nanos
	endTime   int64
}

// Start records the connection's start time.
func (c *Counters) Start() { atomic.StoreInt64(&c.startTime, time.Now().UnixNano()) }

// End records the connection's end time.
func (c *Counters) End() { atomic.StoreInt64(&c.endTime, time.Now().UnixNano()) }

// StartTime returns the recorded start time.
func (c *Counters) StartTime() time.Time { return time.Unix(0, atomic.LoadInt64(&c.startTime)) }

// EndTime returns the recorded end time.
func (c *Counters) EndTime() time.Time { return time.Unix(0, atomic.LoadInt64(&c.endTime)) }

func (c *Counters) AddBytesSent(n uint64) { atomic.AddUint64(&c.bytesSent, n) }
func (c *Counters) AddBytesRecv(n uint64) { atomic.AddUint64(&c.bytesRecv, n) }

func (c *Counters) BytesSent() uint64 { return atomic.LoadUint64(&c.bytesSent) }
func (c *Counters) BytesRecv() uint64 { return atomic.LoadUint64(&c.bytesRecv) }

func (c *Counters) AddBitsReceived(n uint64)     { atomic.AddUint64(&c.bitsReceived, n) }
func (c *Counters) IncSuccessfulFrames()         { atomic.AddUint64(&c.successfulFrames, 1) }
func (c *Counters) IncDroppedFrames()            { atomic.AddUint64(&c.droppedFrames, 1) }
func (c *Counters) IncDuplicateFrames()          { atomic.AddUint64(&c.duplicateFrames, 1) }
func (c *Counters) IncRetryAttempts()            { atomic.AddUint64(&c.retryAttempts, 1) }
func (c *Counters) IncErrorFrames()              { atomic.AddUint64(&c.errorFrames, 1) }

func (c *Counters) BitsReceived() uint64     { return atomic.LoadUint64(&c.bitsReceived) }
func (c *Counters) SuccessfulFrames() uint64 { return atomic.LoadUint64(&c.successfulFrames) }
func (c *Counters) DroppedFrames() uint64    { return atomic.LoadUint64(&c.droppedFrames) }
func (c *Counters) DuplicateFrames() uint64  { return atomic.LoadUint64(&c.duplicateFrames) }
func (c *Counters) RetryAttempts() uint64    { return atomic.LoadUint64(&c.retryAttempts) }
func (c *Counters) ErrorFrames() uint64      { return atomic.LoadUint64(&c.errorFrames) }

// SetMeanJitter records a datagram receiver's mean interarrival jitter for
// this connection. Datagram senders and stream connections never call it.
func (c *Counters) SetMeanJitter(d time.Duration) {
	atomic.StoreInt64(&c.meanJitterNanos, int64(d))
	atomic.StoreUint32(&c.jitterSet, 1)
}

// MeanJitter returns the recorded mean jitter, or zero if none was set.
func (c *Counters) MeanJitter() time.Duration {
	return time.Duration(atomic.LoadInt64(&c.meanJitterNanos))
}

// HasJitter reports whether SetMeanJitter has been called, distinguishing
// "no datagram receiver ran" from "jitter happened to measure zero".
func (c *Counters) HasJitter() bool { return atomic.LoadUint32(&c.jitterSet) == 1 }

// Global aggregates counters across every connection reaped so far. Adds
// are lock-free per-counter atomics (spec section 5, "Global historic
// statistics").
type Global struct {
	totalBytesSent uint64
	totalBytesRecv uint64
	connectionsOK  uint64
	connectionsErr uint64

	jitterNanosSum int64
	jitterSamples  uint64
}

// Absorb folds one connection's final counters and verdict outcome into the
// global aggregate.
func (g *Global) Absorb(c *Counters, success bool) {
	atomic.AddUint64(&g.totalBytesSent, c.BytesSent())
	atomic.AddUint64(&g.totalBytesRecv, c.BytesRecv())
	if success {
		atomic.AddUint64(&g.connectionsOK, 1)
	} else {
		atomic.AddUint64(&g.connectionsErr, 1)
	}
	if c.HasJitter() {
		atomic.AddInt64(&g.jitterNanosSum, int64(c.MeanJitter()))
		atomic.AddUint64(&g.jitterSamples, 1)
	}
}

func (g *Global) TotalBytesSent() uint64 { return atomic.LoadUint64(&g.totalBytesSent) }
func (g *Global) TotalBytesRecv() uint64 { return atomic.LoadUint64(&g.totalBytesRecv) }
func (g *Global) ConnectionsOK() uint64  { return atomic.LoadUint64(&g.connectionsOK) }
func (g *Global) ConnectionsErr() uint64 { return atomic.LoadUint64(&g.connectionsErr) }

// MeanJitter averages every absorbed datagram connection's own mean
// interarrival jitter. Zero until at least one has been absorbed.
func (g *Global) MeanJitter() time.Duration {
	n := atomic.LoadUint64(&g.jitterSamples)
	if n == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&g.jitterNanosSum) / int64(n))
}
