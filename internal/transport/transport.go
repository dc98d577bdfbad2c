// Package transport implements spec component C7: the thin adapters that
// bind connection.SocketProvider to concrete net.Dial/net.Listen calls,
// including the supplemented bind-address rotation and outbound port-range
// cycling from original_source/ctsTraffic/ctsConfig.cpp. Which socket-API
// primitive to call is deliberately kept out of internal/connection (spec
// section 1 scopes socket-API binding choices out of the core).
package transport

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/tpn/ctstraffic"
)

func networkFor(cfg *ctstraffic.Config) string {
	if cfg.Protocol == ctstraffic.ProtocolDatagram {
		return "udp"
	}
	return "tcp"
}

// Connector implements connection.SocketProvider for the connect role: it
// dials one of the configured target addresses, optionally binding the
// local address and port from the configured rotation (supplemented
// feature grounded on ctsConfig.cpp's bind-address and port-range
// cycling).
type Connector struct {
	cfg     *ctstraffic.Config
	network string
	dialer  net.Dialer

	targetIdx atomic.Uint64
	bindIdx   atomic.Uint64
	portIdx   atomic.Uint64
}

// NewConnector builds a Connector bound to cfg's target/bind address lists
// and outbound port range.
func NewConnector(cfg *ctstraffic.Config) *Connector {
	return &Connector{cfg: cfg, network: networkFor(cfg)}
}

// Obtain dials the next target address in round-robin order.
func (c *Connector) Obtain(ctx context.Context) (net.Conn, error) {
	if len(c.cfg.TargetAddrs) == 0 {
		return nil, errors.New("transport: no target addresses configured")
	}
	target := c.nextTarget()

	dialer := c.dialer
	if local := c.localAddr(); local != nil {
		dialer.LocalAddr = local
	}

	conn, err := dialer.DialContext(ctx, c.network, target)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: dial %s", target)
	}
	return conn, nil
}

func (c *Connector) nextTarget() string {
	i := c.targetIdx.Add(1) - 1
	return c.cfg.TargetAddrs[i%uint64(len(c.cfg.TargetAddrs))]
}

// localAddr computes the local bind address for the next outbound
// connection, cycling both the configured bind-address list and the
// configured outbound port range independently, per ctsConfig.cpp.
func (c *Connector) localAddr() net.Addr {
	host := ""
	if len(c.cfg.BindAddrs) > 0 {
		i := c.bindIdx.Add(1) - 1
		host = c.cfg.BindAddrs[i%uint64(len(c.cfg.BindAddrs))]
	}

	port := 0
	if !c.cfg.OutPorts.Empty() {
		span := int(c.cfg.OutPorts.High) - int(c.cfg.OutPorts.Low) + 1
		i := c.portIdx.Add(1) - 1
		port = int(c.cfg.OutPorts.Low) + int(i%uint64(span))
	}

	if host == "" && port == 0 {
		return nil
	}
	if c.network == "udp" {
		return &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	}
	return &net.TCPAddr{IP: net.ParseIP(host), Port: port}
}

// Listener implements connection.SocketProvider for the listen role over
// TCP: each Obtain call blocks for the next incoming connection on a
// shared net.Listener, grounded on the teacher's listenTCP accept loop
// generalized past its single-shot demo shape.
type Listener struct {
	ln net.Listener
}

// NewListener opens a TCP listener on the first configured listen address.
func NewListener(cfg *ctstraffic.Config) (*Listener, error) {
	if len(cfg.ListenAddrs) == 0 {
		return nil, errors.New("transport: no listen address configured")
	}
	ln, err := net.Listen("tcp", cfg.ListenAddrs[0])
	if err != nil {
		return nil, errors.Wrap(err, "transport: listen")
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound listen address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Obtain accepts the next incoming connection. Each connection record
// created by the broker shares the same Listener but produces a distinct
// net.Conn per Obtain call, matching one broker record to one accepted
// socket (spec section 4.5).
func (l *Listener) Obtain(ctx context.Context) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, errors.Wrap(r.err, "transport: accept")
		}
		return r.conn, nil
	}
}

// DatagramHandoff implements connection.SocketProvider for the listen role
// over UDP: since a single shared PacketConn cannot be handed to
// per-connection send/recv loops without demultiplexing, the first frame
// from each new peer triggers a dial-back to a fresh, dedicated,
// per-connection UDP socket (spec section 4.4's "connection" is a logical
// peer identity, not the shared listening socket).
type DatagramHandoff struct {
	pc    net.PacketConn
	newCh chan net.Conn
	errCh chan error
	seen  map[string]bool
}

// NewDatagramHandoff opens a shared UDP socket and begins demultiplexing
// new peers onto dedicated connected sockets.
func NewDatagramHandoff(ctx context.Context, cfg *ctstraffic.Config) (*DatagramHandoff, error) {
	if len(cfg.ListenAddrs) == 0 {
		return nil, errors.New("transport: no listen address configured")
	}
	pc, err := net.ListenPacket("udp", cfg.ListenAddrs[0])
	if err != nil {
		return nil, errors.Wrap(err, "transport: listen udp")
	}
	h := &DatagramHandoff{
		pc:    pc,
		newCh: make(chan net.Conn, 8),
		errCh: make(chan error, 1),
		seen:  make(map[string]bool),
	}
	go h.demux(ctx)
	return h, nil
}

func (h *DatagramHandoff) demux(ctx context.Context) {
	buf := make([]byte, 65535)
	for {
		if ctx.Err() != nil {
			return
		}
		_, addr, err := h.pc.ReadFrom(buf)
		if err != nil {
			select {
			case h.errCh <- err:
			default:
			}
			return
		}
		key := addr.String()
		if h.seen[key] {
			continue
		}
		h.seen[key] = true

		conn, err := net.Dial("udp", key)
		if err != nil {
			continue
		}
		if uc, ok := conn.(*net.UDPConn); ok {
			_ = uc.SetWriteBuffer(1 << 20)
		}
		select {
		case h.newCh <- conn:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

// Addr returns the shared listening socket's address.
func (h *DatagramHandoff) Addr() net.Addr { return h.pc.LocalAddr() }

// Close stops demultiplexing new peers.
func (h *DatagramHandoff) Close() error { return h.pc.Close() }

// Obtain returns the dedicated per-connection socket for the next
// previously-unseen peer.
func (h *DatagramHandoff) Obtain(ctx context.Context) (net.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-h.errCh:
		return nil, errors.Wrap(err, "transport: udp demux")
	case conn := <-h.newCh:
		return conn, nil
	}
}
