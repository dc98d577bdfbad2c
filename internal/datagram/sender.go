package datagram

import (
	"context"
	"net"
	"time"

	"github.com/tpn/ctstraffic"
	"github.com/tpn/ctstraffic/internal/payload"
	"github.com/tpn/ctstraffic/internal/stats"
)

// Sender drives the server side of the datagram stream over a dedicated,
// already-connected per-connection UDP socket: a fixed-rate downlink of
// frames_per_second * stream_length_seconds total frames, with best-effort
// resend on client request when the codec is CodecResendOnce (spec section
// 4.4).
type Sender struct {
	cfg   ctstraffic.DatagramConfig
	stats *stats.Counters
	conn  net.Conn
	seq   uint64
	total uint64
	freq  int64
}

// NewSender builds a Sender for one client connection's dedicated socket.
func NewSender(cfg ctstraffic.DatagramConfig, st *stats.Counters, conn net.Conn) *Sender {
	return &Sender{
		cfg:   cfg,
		stats: st,
		conn:  conn,
		total: cfg.TotalFrames(),
		freq:  int64(time.Second),
	}
}

// Run transmits the scheduled frames at the configured cadence and
// services resend requests until the schedule completes or ctx is
// cancelled. It returns the last transport error encountered, if any.
func (s *Sender) Run(ctx context.Context) error {
	requests := make(chan uint64, 64)
	go s.serveRequests(ctx, requests)

	ticker := time.NewTicker(s.cfg.FrameInterval())
	defer ticker.Stop()

	frameSize := s.cfg.FrameSize()

	for s.seq < s.total {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case reqSeq := <-requests:
			if err := s.sendFrame(reqSeq, frameSize); err != nil {
				return err
			}
		case <-ticker.C:
			s.seq++
			if err := s.sendFrame(s.seq, frameSize); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sender) sendFrame(seq uint64, frameSize uint32) error {
	if seq == 0 || seq > s.total {
		return nil
	}
	buf := make([]byte, frameSize)
	payload.Generate(buf, (seq-1)*uint64(frameSize))

	frame := Frame{
		Sequence: seq,
		SendQPC:  time.Now().UnixNano(),
		SendQPF:  s.freq,
		Payload:  buf,
	}
	n, err := s.conn.Write(frame.Encode())
	if err != nil {
		return err
	}
	s.stats.AddBytesSent(uint64(n))
	return nil
}

// serveRequests reads resend-request frames from the client and forwards
// the requested sequence numbers for retransmission. It runs for the
// lifetime of ctx.
func (s *Sender) serveRequests(ctx context.Context, out chan<- uint64) {
	buf := make([]byte, HeaderSize)
	for {
		if ctx.Err() != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := s.conn.Read(buf)
		if err != nil {
			continue
		}
		frame, ok := Decode(buf[:n])
		if !ok || !frame.IsRequest {
			continue
		}
		select {
		case out <- frame.Sequence:
		case <-ctx.Done():
			return
		default:
			// drop the request rather than block the reader; the client
			// will simply see the frame as dropped.
		}
	}
}
