package connection

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/tpn/ctstraffic"
	"github.com/tpn/ctstraffic/internal/iopattern"
	"github.com/tpn/ctstraffic/internal/payload"
)

// runStreamIO drives a stream connection's engine to a terminal verdict. A
// pool of worker goroutines shares one gate: each worker pulls whatever
// task the engine's priority rules produce next (send or recv) and
// executes it, so the pool naturally spans both directions of a duplex
// connection instead of dedicating specific goroutines to specific
// directions. The pool is sized to the engine's own outstanding-task
// ceilings (spec section 4.3 rule 3: pre-posted, concurrently outstanding
// recv tasks up to pre_post_recvs), so duplex, and any pattern with
// connection-only verification, gets one recv worker per configured slot,
// while a single-direction pattern with data verification gets a single
// recv worker.
func (c *Conn) runStreamIO(ctx context.Context, sock net.Conn) *ctstraffic.Fault {
	engine := c.buildEngine()
	g := newGate(engine)
	g.watch(ctx)

	sendMax, recvMax := engine.MaxOutstanding()
	turn := newTurnstile()

	var wg sync.WaitGroup
	wg.Add(sendMax + recvMax)
	for i := 0; i < sendMax+recvMax; i++ {
		go func() { defer wg.Done(); c.ioWorker(ctx, sock, g, turn) }()
	}
	wg.Wait()

	if ctx.Err() != nil && g.Fault() == nil {
		return c.broker.CancelFault()
	}
	return g.Fault()
}

// ioWorker services tasks from the shared gate until the engine is done.
// Recv tasks pass through turn so that, even with several workers pulling
// tasks concurrently, the physical reads against the one underlying byte
// stream still happen in the order the engine dispatched them: TCP
// delivers bytes in order regardless of how many reads are pre-posted
// against it.
func (c *Conn) ioWorker(ctx context.Context, sock net.Conn, g *gate, turn *turnstile) {
	buf := make([]byte, 0)
	for {
		task, ticket := g.Next(ctx)
		switch task.Kind {
		case iopattern.Done:
			return
		case iopattern.WaitUntil:
			sleepUntil(ctx, task.Deadline)
			continue
		}

		if cap(buf) < int(task.Length) {
			buf = make([]byte, task.Length)
		}
		buf = buf[:task.Length]

		if task.Kind == iopattern.Send {
			if err := c.doSend(sock, g, task, buf); err != nil {
				return
			}
			continue
		}

		turn.wait(ticket)
		stop := c.doRecv(sock, g, task, buf)
		turn.advance()
		if stop {
			return
		}
	}
}

func (c *Conn) doSend(sock net.Conn, g *gate, task iopattern.Task, buf []byte) error {
	if task.Trailer {
		trailer := iopattern.EncodeTrailer(0)
		copy(buf, trailer[:])
	} else {
		payload.Generate(buf, task.Offset)
	}

	n, err := writeFull(sock, buf)
	if !task.Trailer {
		c.stats.AddBytesSent(uint64(n))
	}
	g.Complete(task, uint64(n), err)
	return err
}

// doRecv services one recv task and reports whether the worker calling it
// should stop.
func (c *Conn) doRecv(sock net.Conn, g *gate, task iopattern.Task, buf []byte) bool {
	n, err := readFull(sock, buf)
	if !task.Trailer {
		c.stats.AddBytesRecv(uint64(n))
		if n == int(task.Length) && !g.VerifyRecv(buf) {
			g.Complete(task, uint64(n), nil)
			return true
		}
	} else if n == int(task.Length) {
		if status, ok := iopattern.DecodeTrailer(buf); !ok || status != 0 {
			// Report the trailer as not received, so the engine records
			// protocol-error(no-completion) instead of a normal finish.
			g.Complete(task, 0, nil)
			return true
		}
	}
	g.Complete(task, uint64(n), err)
	return err != nil
}

// turnstile lets several pre-posted recv workers hand their physical reads
// back to the caller in a fixed order (the order tickets were issued)
// regardless of which worker happens to finish first.
type turnstile struct {
	mu   sync.Mutex
	cond *sync.Cond
	next int
}

func newTurnstile() *turnstile {
	t := &turnstile{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *turnstile) wait(ticket int) {
	if ticket < 0 {
		return
	}
	t.mu.Lock()
	for t.next != ticket {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

func (t *turnstile) advance() {
	t.mu.Lock()
	t.next++
	t.mu.Unlock()
	t.cond.Broadcast()
}

// writeFull writes buf fully, matching TCP's guarantee that Write returns
// n == len(buf) or a non-nil error, kept explicit here since spec section
// 4.3 rule 6 treats a short transfer as a distinct fatal condition from an
// I/O error.
func writeFull(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// readFull reads until buf is full, EOF, or an error; a graceful close
// mid-transfer surfaces as a short read with err == nil or io.EOF, which
// the caller maps to protocol-error(too-few-bytes) per spec section 4.3
// rule 6.
func readFull(r io.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
	return total, nil
}

func sleepUntil(ctx context.Context, deadline time.Time) {
	d := time.Until(deadline)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
