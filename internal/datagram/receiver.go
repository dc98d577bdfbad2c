package datagram

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/tpn/ctstraffic"
	"github.com/tpn/ctstraffic/internal/stats"
)

type arrival struct {
	firstAt time.Time
	count   int
	sendQPC int64
	sendQPF int64
}

// Receiver drives the client side of the datagram stream: it buffers
// arriving frames by sequence, and a paced processor classifies each
// scheduled sequence as successful, dropped, or (for CodecResendOnce)
// recovered by a single retransmission (spec section 4.4).
type Receiver struct {
	cfg   ctstraffic.DatagramConfig
	stats *stats.Counters
	conn  net.Conn

	streamStart time.Time
	total       uint64

	mu              sync.Mutex
	arrivals        map[uint64]*arrival
	resendRequested map[uint64]bool
	jitter          []JitterSample

	resendCursor   uint64
	nextProcessSeq uint64

	fault *ctstraffic.Fault
	done  bool
}

// NewReceiver builds a Receiver for one connection's dedicated socket.
// streamStart anchors the per-sequence expected-arrival schedule and
// should be set to the moment the server is expected to begin sending.
func NewReceiver(cfg ctstraffic.DatagramConfig, st *stats.Counters, conn net.Conn, streamStart time.Time) *Receiver {
	return &Receiver{
		cfg:             cfg,
		stats:           st,
		conn:            conn,
		streamStart:     streamStart,
		total:           cfg.TotalFrames(),
		arrivals:        make(map[uint64]*arrival),
		resendRequested: make(map[uint64]bool),
		resendCursor:    1,
		nextProcessSeq:  1,
	}
}

func (r *Receiver) expectedArrival(seq uint64) time.Time {
	return r.streamStart.Add(time.Duration(seq-1) * r.cfg.FrameInterval())
}

func (r *Receiver) resendCheckTime(seq uint64) time.Time {
	return r.expectedArrival(seq).Add(time.Duration(r.cfg.BufferDepthSecond/2*1000) * time.Millisecond)
}

func (r *Receiver) deadline(seq uint64) time.Time {
	return r.expectedArrival(seq).Add(time.Duration(r.cfg.BufferDepthSecond*1000) * time.Millisecond)
}

// Run reads incoming frames in one goroutine and paces the classification
// sweep in the calling goroutine until every scheduled sequence has been
// processed or ctx is cancelled. It returns the client's terminal verdict
// Fault (nil on success) per spec section 4.4.
//
// Run first writes a hello frame to conn. The server side only learns a
// peer's address (and dials back its dedicated per-connection socket, see
// transport.DatagramHandoff) once it has received a datagram from that
// peer, so the client must speak first regardless of codec; a sequence-0
// resend-request frame is harmless noise to a Sender, which already
// ignores resend requests for sequence 0.
func (r *Receiver) Run(ctx context.Context) *ctstraffic.Fault {
	if err := r.sendHello(); err != nil {
		return ctstraffic.NewIOFault(0, err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.readLoop(readCtx)

	ticker := time.NewTicker(r.cfg.FrameInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctstraffic.ErrCancelled
		case now := <-ticker.C:
			if r.tick(now) {
				return r.verdict()
			}
		}
	}
}

// sendHello announces this peer to the server before the frame schedule
// starts. See the Run doc comment.
func (r *Receiver) sendHello() error {
	hello := Frame{Sequence: 0, IsRequest: true}
	_, err := r.conn.Write(hello.Encode())
	return err
}

func (r *Receiver) readLoop(ctx context.Context) {
	buf := make([]byte, HeaderSize+65536)
	for {
		if ctx.Err() != nil {
			return
		}
		r.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := r.conn.Read(buf)
		if err != nil {
			continue
		}
		now := time.Now()
		frame, ok := Decode(buf[:n])
		if !ok || frame.IsRequest {
			r.stats.IncErrorFrames()
			continue
		}
		if frame.Sequence < 1 || frame.Sequence > r.total {
			r.stats.IncErrorFrames()
			continue
		}
		r.stats.AddBitsReceived(uint64(n) * 8)

		r.mu.Lock()
		a, seen := r.arrivals[frame.Sequence]
		if !seen {
			r.arrivals[frame.Sequence] = &arrival{firstAt: now, count: 1, sendQPC: frame.SendQPC, sendQPF: frame.SendQPF}
		} else {
			a.count++
			r.stats.IncDuplicateFrames()
		}
		r.mu.Unlock()
	}
}

// tick advances the resend-check and finalize cursors up to now. It
// returns true once every scheduled sequence has been finalized.
func (r *Receiver) tick(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.resendCursor <= r.total && !r.resendCheckTime(r.resendCursor).After(now) {
		seq := r.resendCursor
		if r.cfg.Codec == ctstraffic.CodecResendOnce && r.arrivals[seq] == nil && !r.resendRequested[seq] {
			r.requestResend(seq)
			r.resendRequested[seq] = true
		}
		r.resendCursor++
	}

	for r.nextProcessSeq <= r.total && !r.deadline(r.nextProcessSeq).After(now) {
		r.finalize(r.nextProcessSeq)
		r.nextProcessSeq++
	}

	return r.nextProcessSeq > r.total
}

func (r *Receiver) requestResend(seq uint64) {
	frame := Frame{Sequence: seq, IsRequest: true}
	r.conn.Write(frame.Encode())
}

func (r *Receiver) finalize(seq uint64) {
	a := r.arrivals[seq]
	if a == nil {
		r.stats.IncDroppedFrames()
		return
	}
	r.stats.IncSuccessfulFrames()
	r.jitter = append(r.jitter, JitterSample{
		Sequence:  seq,
		SendQPC:   a.sendQPC,
		SendQPF:   a.sendQPF,
		RecvQPCNs: a.firstAt.UnixNano(),
	})
	if r.resendRequested[seq] {
		r.stats.IncRetryAttempts()
	}
}

func (r *Receiver) verdict() *ctstraffic.Fault {
	dropped, errFrames := r.stats.DroppedFrames(), r.stats.ErrorFrames()
	if dropped == 0 && errFrames == 0 {
		return nil
	}
	return ctstraffic.NewDatagramLossFault(dropped, errFrames)
}

// JitterSamples returns the recorded (send, recv) timestamp pairs. Not
// safe to call concurrently with Run.
func (r *Receiver) JitterSamples() []JitterSample { return r.jitter }
