package ctstraffic

import "time"

// Verdict is the terminal result of a single connection. It is written
// exactly once per connection record.
type Verdict struct {
	// Success is true iff the connection completed without a Fault.
	Success bool
	// Fault is nil when Success is true.
	Fault *Fault

	LocalAddr  string
	RemoteAddr string

	BytesSent uint64
	BytesRecv uint64

	// Datagram-only counters; zero for stream connections.
	SuccessfulFrames uint64
	DroppedFrames    uint64
	DuplicateFrames  uint64
	RetryAttempts    uint64
	ErrorFrames      uint64
	// MeanJitter is the datagram receiver's mean interarrival jitter
	// (RFC 3550 style) across every frame it recorded a timestamp pair for.
	// Zero for stream connections and for datagram senders.
	MeanJitter time.Duration

	StartTime time.Time
	EndTime   time.Time
}

// Elapsed returns the wall-clock duration of the connection.
func (v Verdict) Elapsed() time.Duration {
	if v.EndTime.Before(v.StartTime) {
		return 0
	}
	return v.EndTime.Sub(v.StartTime)
}
