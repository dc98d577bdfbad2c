// Package connection implements the per-connection state machine of spec
// component C5: it owns a socket, a pattern engine instance, and a stats
// counter set, and drives the connection from creation through I/O to a
// terminal verdict, notifying the broker at the two lifecycle transitions
// it must observe exactly once (spec section 4.5's invariant).
package connection

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tpn/ctstraffic"
	"github.com/tpn/ctstraffic/internal/addr"
	"github.com/tpn/ctstraffic/internal/datagram"
	"github.com/tpn/ctstraffic/internal/iopattern"
	"github.com/tpn/ctstraffic/internal/ratelimit"
	"github.com/tpn/ctstraffic/internal/stats"
)

// Notifier is the connection's non-owning back-reference to its broker
// (spec section 9, "cyclic ownership": the broker owns the connection, the
// connection only holds an id-based handle back for notification calls).
type Notifier interface {
	InitiatingIO()
	Closing(wasActive bool)
	CancelFault() *ctstraffic.Fault
}

// SocketProvider produces the established socket for one connection,
// modeling the Connecting/Accepting transition of spec section 4.5. It is
// the seam spec section 1 calls out as an external adapter: which
// connect/accept primitive is used is not this package's concern.
type SocketProvider interface {
	Obtain(ctx context.Context) (net.Conn, error)
}

// Conn is one connection record.
type Conn struct {
	ID     uuid.UUID
	cfg    *ctstraffic.Config
	role   ctstraffic.Role
	broker Notifier
	socket SocketProvider
	log    *zap.SugaredLogger
	global *stats.Global

	rng   *rand.Rand
	stats stats.Counters

	state    State
	wasActive bool
}

// New builds a connection record. It does not begin executing until Run is
// called.
func New(cfg *ctstraffic.Config, role ctstraffic.Role, socket SocketProvider, broker Notifier, global *stats.Global, log *zap.SugaredLogger, seed int64) *Conn {
	return &Conn{
		ID:     uuid.New(),
		cfg:    cfg,
		role:   role,
		broker: broker,
		socket: socket,
		log:    log,
		global: global,
		rng:    rand.New(rand.NewSource(seed)),
		state:  StateCreating,
	}
}

// Run drives the connection through its full lifecycle and returns the
// terminal verdict. It always returns, even on failure: a connection
// verdict is written exactly once (spec section 3 invariant) and never
// aborts the broker's run.
func (c *Conn) Run(ctx context.Context) ctstraffic.Verdict {
	c.stats.Start()

	sock, err := c.socket.Obtain(ctx)
	if err != nil {
		c.state = StateClosing
		c.broker.Closing(false)
		return c.finalize(nil, ctstraffic.NewResourceFault(err))
	}
	c.state = StateConnectingAccepting

	c.state = StateInitiatingIo
	c.broker.InitiatingIO()
	c.wasActive = true

	c.state = StateIo
	fault := c.runIO(ctx, sock)

	c.state = StateClosing
	sock.Close()
	c.broker.Closing(c.wasActive)

	return c.finalize(sock, fault)
}

func (c *Conn) finalize(sock net.Conn, fault *ctstraffic.Fault) ctstraffic.Verdict {
	c.stats.End()
	c.state = StateClosed

	v := ctstraffic.Verdict{
		Success:          fault == nil,
		Fault:            fault,
		BytesSent:        c.stats.BytesSent(),
		BytesRecv:        c.stats.BytesRecv(),
		SuccessfulFrames: c.stats.SuccessfulFrames(),
		DroppedFrames:    c.stats.DroppedFrames(),
		DuplicateFrames:  c.stats.DuplicateFrames(),
		RetryAttempts:    c.stats.RetryAttempts(),
		ErrorFrames:      c.stats.ErrorFrames(),
		StartTime:        c.stats.StartTime(),
		EndTime:          c.stats.EndTime(),
	}
	if sock != nil {
		v.LocalAddr = addr.Format(sock.LocalAddr())
		v.RemoteAddr = addr.Format(sock.RemoteAddr())
	}
	v.MeanJitter = c.stats.MeanJitter()

	c.global.Absorb(&c.stats, v.Success)
	c.logVerdict(v)

	if !v.Success && c.cfg.ErrorPolicy == ctstraffic.ErrorPolicyBreak {
		breakOnError()
	}

	return v
}

func (c *Conn) logVerdict(v ctstraffic.Verdict) {
	line := color.GreenString("success")
	if !v.Success {
		line = color.RedString("failed: %v", v.Fault)
	}
	if c.log == nil {
		return
	}
	c.log.Infow("connection verdict",
		"id", c.ID,
		"local", v.LocalAddr,
		"remote", v.RemoteAddr,
		"remote_port", addr.ParsePort(v.RemoteAddr),
		"loopback", addr.IsLoopback(v.RemoteAddr),
		"bytes_sent", v.BytesSent,
		"bytes_recv", v.BytesRecv,
		"elapsed", v.Elapsed(),
		"jitter", v.MeanJitter,
		"result", line,
	)
}

func (c *Conn) runIO(ctx context.Context, sock net.Conn) *ctstraffic.Fault {
	if c.cfg.Protocol == ctstraffic.ProtocolDatagram {
		return c.runDatagramIO(ctx, sock)
	}
	return c.runStreamIO(ctx, sock)
}

func (c *Conn) runDatagramIO(ctx context.Context, sock net.Conn) *ctstraffic.Fault {
	if c.role == ctstraffic.RoleListen {
		sender := datagram.NewSender(c.cfg.Datagram, &c.stats, sock)
		if err := sender.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return c.broker.CancelFault()
			}
			return ctstraffic.NewIOFault(0, err)
		}
		return nil
	}
	receiver := datagram.NewReceiver(c.cfg.Datagram, &c.stats, sock, time.Now())
	fault := receiver.Run(ctx)
	c.stats.SetMeanJitter(datagram.MeanInterarrivalJitter(receiver.JitterSamples()))
	if fault != nil {
		if ctx.Err() != nil {
			return c.broker.CancelFault()
		}
		return fault
	}
	return nil
}

// buildEngine constructs the iopattern.Engine appropriate to this
// connection's role and configured pattern (spec section 4.3).
func (c *Conn) buildEngine() *iopattern.Engine {
	bufferSize := c.cfg.BufferSize.Sample(c.rng)
	transferTotal := c.cfg.TransferTotal.Sample(c.rng)

	var limiter *ratelimit.Limiter
	if c.cfg.RateLimitBytesPerSec.High > 0 {
		rate := c.cfg.RateLimitBytesPerSec.Sample(c.rng)
		period := c.cfg.RateLimitPeriod
		if period <= 0 {
			period = time.Second
		}
		limiter = ratelimit.New(rate, period)
	}

	opts := iopattern.Options{
		Pattern:      c.cfg.Pattern,
		VerifyMode:   c.cfg.VerifyMode,
		BufferSize:   bufferSize,
		PrePostRecvs: c.cfg.PrePostRecvs,
		Limiter:      limiter,
	}

	switch c.cfg.Pattern {
	case ctstraffic.PatternPush:
		if c.role == ctstraffic.RoleConnect {
			opts.SendTotal = transferTotal
			opts.SendActive = true
		} else {
			opts.RecvTotal = transferTotal
			opts.RecvActive = true
		}
	case ctstraffic.PatternPull:
		if c.role == ctstraffic.RoleConnect {
			opts.RecvTotal = transferTotal
			opts.RecvActive = true
		} else {
			opts.SendTotal = transferTotal
			opts.SendActive = true
		}
	case ctstraffic.PatternDuplex:
		opts.SendTotal = transferTotal
		opts.RecvTotal = transferTotal
	case ctstraffic.PatternPushPull:
		opts.SendTotal = transferTotal
		opts.RecvTotal = transferTotal
		opts.PushBytes = c.cfg.PushBytes
		opts.PullBytes = c.cfg.PullBytes
		opts.FirstIsSend = c.role == ctstraffic.RoleConnect
	}

	return iopattern.New(opts)
}
