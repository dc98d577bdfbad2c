package ctstraffic

import (
	"math/rand"
	"time"
)

// ByteRange is either a fixed value (Low == High) or a uniform range
// [Low, High] sampled once per connection.
type ByteRange struct {
	Low  uint64
	High uint64
}

// Fixed builds a ByteRange with no variance.
func Fixed(n uint64) ByteRange { return ByteRange{Low: n, High: n} }

// Sample draws one value from the range, inclusive of both bounds. A
// degenerate range (Low >= High) always returns Low.
func (r ByteRange) Sample(rng *rand.Rand) uint64 {
	if r.High <= r.Low {
		return r.Low
	}
	span := r.High - r.Low + 1
	return r.Low + uint64(rng.Int63n(int64(span)))
}

// PortRange is an inclusive range of local ports to cycle through for
// outbound connections. A zero PortRange means "let the OS assign a port".
type PortRange struct {
	Low  uint16
	High uint16
}

// Empty reports whether the range has no configured ports.
func (r PortRange) Empty() bool { return r.Low == 0 && r.High == 0 }

// DatagramConfig holds the parameters governing the datagram streaming
// protocol (spec section 4.4), used only when Protocol == ProtocolDatagram.
type DatagramConfig struct {
	BitsPerSecond     uint64
	FramesPerSecond   uint32
	BufferDepthSecond float64
	StreamLengthSec   float64
	Codec             Codec
}

// FrameSize computes the per-frame payload size in bytes, rounded down to a
// byte boundary, per spec section 4.4.
func (d DatagramConfig) FrameSize() uint32 {
	if d.FramesPerSecond == 0 {
		return 0
	}
	return uint32(d.BitsPerSecond / (uint64(d.FramesPerSecond) * 8))
}

// FrameInterval returns the fixed spacing between scheduled frames.
func (d DatagramConfig) FrameInterval() time.Duration {
	if d.FramesPerSecond == 0 {
		return 0
	}
	return time.Second / time.Duration(d.FramesPerSecond)
}

// TotalFrames returns the number of frames the server schedules for one
// datagram-stream connection.
func (d DatagramConfig) TotalFrames() uint64 {
	return uint64(float64(d.FramesPerSecond) * d.StreamLengthSec)
}

// Config is the immutable configuration value constructed once at startup
// and passed by reference into the broker and every component beneath it
// (spec section 9, "Global process-wide state").
type Config struct {
	Role     Role
	Protocol Protocol
	Pattern  Pattern

	ListenAddrs []string
	TargetAddrs []string
	BindAddrs   []string
	OutPorts    PortRange

	BufferSize     ByteRange
	TransferTotal  ByteRange
	PushBytes      uint64
	PullBytes      uint64

	ConnectionLimit   uint64
	ThrottleLimit     uint64
	PendingLimit      uint64
	Iterations        uint64
	ServerExitLimit   uint64

	RateLimitBytesPerSec ByteRange
	RateLimitPeriod      time.Duration

	VerifyMode    VerifyMode
	PrePostRecvs  int

	Datagram DatagramConfig

	TimeLimit   time.Duration
	ErrorPolicy ErrorPolicy
}

// Unbounded marks an unlimited iteration count (spec section 4.6).
const Unbounded uint64 = ^uint64(0)

// TotalConnectionsRemaining computes the initial total_connections_remaining
// counter for the broker per spec section 4.6: ServerExitLimit for the
// listen role (or Unbounded if zero), Iterations*ConnectionLimit
// (saturating) for the connect role.
func (c *Config) TotalConnectionsRemaining() uint64 {
	if c.Role == RoleListen {
		if c.ServerExitLimit == 0 {
			return Unbounded
		}
		return c.ServerExitLimit
	}
	if c.Iterations == Unbounded || c.ConnectionLimit == 0 {
		return Unbounded
	}
	total := c.Iterations * c.ConnectionLimit
	if c.ConnectionLimit != 0 && total/c.ConnectionLimit != c.Iterations {
		// overflow: saturate
		return Unbounded
	}
	return total
}

// EffectivePendingLimit clamps PendingLimit to total_connections_remaining
// per spec section 4.6.
func (c *Config) EffectivePendingLimit() uint64 {
	limit := c.PendingLimit
	if limit == 0 {
		limit = c.ConnectionLimit
	}
	remaining := c.TotalConnectionsRemaining()
	if remaining != Unbounded && limit > remaining {
		limit = remaining
	}
	return limit
}
