// Package cli holds the flag/config wiring shared by cmd/streamtest and
// cmd/streamtestd: both binaries expose the same field set (spec section 3)
// and differ only in their default Role and which fields matter, so a
// single pflag.FlagSet + viper.Viper binding is built once here and
// resolved into a ctstraffic.Config by each command's RunE, grounded on
// croessner-nauthilus's pflag+viper config binding style.
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tpn/ctstraffic"
)

// Flags is the full set of command-line flags both binaries accept. Not
// every field is meaningful to both roles (e.g. -target is connect-only)
// but keeping one shared set avoids drift between the two binaries' flag
// names, matching spec section 6's single configuration surface.
type Flags struct {
	fs *pflag.FlagSet
	v  *viper.Viper
}

// New builds an unpopulated flag set bound to a fresh viper instance.
func New(use string) *Flags {
	fs := pflag.NewFlagSet(use, pflag.ExitOnError)
	v := viper.New()

	fs.String("protocol", "stream", "transport protocol: stream|datagram")
	fs.String("pattern", "push", "I/O pattern: push|pull|push-pull|duplex|datagram-stream")
	fs.String("verify", "connection", "verification mode: connection|data")
	fs.String("codec", "no-resends", "datagram loss-handling codec: no-resends|resend-once")
	fs.String("on-error", "log", "on-error policy: log|break")

	fs.StringSlice("target", nil, "target address(es) to connect to (connect role)")
	fs.StringSlice("listen", nil, "address(es) to listen on (listen role)")
	fs.StringSlice("bind", nil, "local bind address(es) to rotate through (connect role)")
	fs.String("port-range", "", "outbound local port range LOW-HIGH (connect role)")

	fs.String("buffer-size", "65536", "per-I/O buffer size in bytes, or LOW-HIGH range")
	fs.String("transfer-total", "1048576", "bytes to transfer per connection, or LOW-HIGH range")
	fs.Uint64("push-bytes", 0, "push-pull: bytes moved per push phase")
	fs.Uint64("pull-bytes", 0, "push-pull: bytes moved per pull phase")

	fs.Uint64("connections", 1, "concurrent connection target (connect role)")
	fs.Uint64("throttle", 0, "max pending connections in flight at once, 0 = unlimited (connect role)")
	fs.Uint64("pending-limit", 0, "broker pending-socket ceiling, 0 = derive from connections")
	fs.Uint64("iterations", 1, "iteration count (connect role); 0 = unbounded")
	fs.Uint64("server-exit-limit", 0, "listen role: exit after this many connections, 0 = unbounded")

	fs.String("rate-limit", "", "cap send rate in bytes/sec, or LOW-HIGH range; empty = unlimited")
	fs.Duration("rate-limit-period", time.Second, "rate-limit accounting period")

	fs.Int("pre-post-recvs", 1, "number of recv tasks kept outstanding at once")

	fs.Uint64("datagram-bps", 1 << 20, "datagram-stream: target bits/sec")
	fs.Uint32("datagram-fps", 60, "datagram-stream: frames/sec")
	fs.Float64("datagram-buffer-depth", 1.0, "datagram-stream: client reorder buffer depth in seconds")
	fs.Float64("datagram-length", 10.0, "datagram-stream: stream length in seconds")

	fs.Duration("time-limit", 0, "overall run deadline, 0 = unbounded")
	fs.Duration("status-interval", 5*time.Second, "status line print interval, 0 = disabled")
	fs.String("metrics-addr", "", "address to serve Prometheus /metrics on, empty = disabled")

	fs.String("config", "", "path to a config file (yaml/json/toml) to merge with flags")

	v.BindPFlags(fs)

	return &Flags{fs: fs, v: v}
}

// Set returns the underlying pflag.FlagSet for the caller to attach to a
// cobra.Command.
func (f *Flags) Set() *pflag.FlagSet { return f.fs }

// Load merges any --config file into the bound values. It is a no-op if
// --config was not given.
func (f *Flags) Load() error {
	path := f.v.GetString("config")
	if path == "" {
		return nil
	}
	f.v.SetConfigFile(path)
	if err := f.v.ReadInConfig(); err != nil {
		return fmt.Errorf("cli: reading config file: %w", err)
	}
	return nil
}

// byteRange parses either a bare integer or a "LOW-HIGH" range string. An
// empty or unparseable string yields the zero range (both bounds 0).
func byteRange(s string) ctstraffic.ByteRange {
	if s == "" {
		return ctstraffic.ByteRange{}
	}
	if lo, hi, ok := splitRange(s); ok {
		return ctstraffic.ByteRange{Low: lo, High: hi}
	}
	var n uint64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return ctstraffic.ByteRange{}
	}
	return ctstraffic.Fixed(n)
}

func splitRange(s string) (lo, hi uint64, ok bool) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	var l, h uint64
	if _, err := fmt.Sscanf(parts[0], "%d", &l); err != nil {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &h); err != nil {
		return 0, 0, false
	}
	return l, h, true
}

func portRange(s string) ctstraffic.PortRange {
	if s == "" {
		return ctstraffic.PortRange{}
	}
	lo, hi, ok := splitRange(s)
	if !ok {
		return ctstraffic.PortRange{}
	}
	return ctstraffic.PortRange{Low: uint16(lo), High: uint16(hi)}
}

func parseProtocol(s string) ctstraffic.Protocol {
	if s == "datagram" {
		return ctstraffic.ProtocolDatagram
	}
	return ctstraffic.ProtocolStream
}

func parsePattern(s string) ctstraffic.Pattern {
	switch s {
	case "pull":
		return ctstraffic.PatternPull
	case "push-pull":
		return ctstraffic.PatternPushPull
	case "duplex":
		return ctstraffic.PatternDuplex
	case "datagram-stream":
		return ctstraffic.PatternDatagramStream
	default:
		return ctstraffic.PatternPush
	}
}

func parseVerify(s string) ctstraffic.VerifyMode {
	if s == "data" {
		return ctstraffic.VerifyData
	}
	return ctstraffic.VerifyConnection
}

func parseCodec(s string) ctstraffic.Codec {
	if s == "resend-once" {
		return ctstraffic.CodecResendOnce
	}
	return ctstraffic.CodecNoResends
}

func parseErrorPolicy(s string) ctstraffic.ErrorPolicy {
	if s == "break" {
		return ctstraffic.ErrorPolicyBreak
	}
	return ctstraffic.ErrorPolicyLog
}

// Build resolves the bound flags into a Config for the given role. Role is
// supplied by the caller rather than a flag, since each binary fixes its
// own role (spec section 6: streamtest connects, streamtestd listens).
func (f *Flags) Build(role ctstraffic.Role) *ctstraffic.Config {
	v := f.v

	cfg := &ctstraffic.Config{
		Role:     role,
		Protocol: parseProtocol(v.GetString("protocol")),
		Pattern:  parsePattern(v.GetString("pattern")),

		ListenAddrs: v.GetStringSlice("listen"),
		TargetAddrs: v.GetStringSlice("target"),
		BindAddrs:   v.GetStringSlice("bind"),
		OutPorts:    portRange(v.GetString("port-range")),

		BufferSize:    byteRange(v.GetString("buffer-size")),
		TransferTotal: byteRange(v.GetString("transfer-total")),
		PushBytes:     v.GetUint64("push-bytes"),
		PullBytes:     v.GetUint64("pull-bytes"),

		ConnectionLimit: v.GetUint64("connections"),
		ThrottleLimit:   v.GetUint64("throttle"),
		PendingLimit:    v.GetUint64("pending-limit"),
		Iterations:      iterationsOf(v),
		ServerExitLimit: v.GetUint64("server-exit-limit"),

		RateLimitBytesPerSec: byteRange(v.GetString("rate-limit")),
		RateLimitPeriod:      v.GetDuration("rate-limit-period"),

		VerifyMode:   parseVerify(v.GetString("verify")),
		PrePostRecvs: v.GetInt("pre-post-recvs"),

		Datagram: ctstraffic.DatagramConfig{
			BitsPerSecond:     v.GetUint64("datagram-bps"),
			FramesPerSecond:   v.GetUint32("datagram-fps"),
			BufferDepthSecond: v.GetFloat64("datagram-buffer-depth"),
			StreamLengthSec:   v.GetFloat64("datagram-length"),
			Codec:             parseCodec(v.GetString("codec")),
		},

		TimeLimit:   v.GetDuration("time-limit"),
		ErrorPolicy: parseErrorPolicy(v.GetString("on-error")),
	}

	return cfg
}

func iterationsOf(v *viper.Viper) uint64 {
	n := v.GetUint64("iterations")
	if n == 0 {
		return ctstraffic.Unbounded
	}
	return n
}

// StatusInterval and MetricsAddr are read directly by main since they
// configure ambient infrastructure rather than the Config value itself.
func (f *Flags) StatusInterval() time.Duration { return f.v.GetDuration("status-interval") }
func (f *Flags) MetricsAddr() string           { return f.v.GetString("metrics-addr") }

// NewLogger builds the shared zap logger both binaries use, grounded on
// the teacher's plain-text startup logging upgraded to zap's structured
// production config.
func NewLogger() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}
