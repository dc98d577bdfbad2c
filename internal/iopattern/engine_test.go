package iopattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tpn/ctstraffic"
)

func drainSend(t *testing.T, e *Engine) uint64 {
	t.Helper()
	var total uint64
	for i := 0; i < 100000; i++ {
		task := e.NextTask(time.Now())
		switch task.Kind {
		case Done:
			return total
		case Send:
			if !task.Trailer {
				total += task.Length
			}
			e.CompleteTask(task, task.Length, nil)
		case None, WaitUntil:
			t.Fatalf("unexpected task kind %v with nothing else outstanding", task.Kind)
		}
	}
	t.Fatal("engine never reached Done")
	return 0
}

func TestPushSendsExactTransferTotal(t *testing.T) {
	e := New(Options{
		Pattern:    ctstraffic.PatternPush,
		BufferSize: 4096,
		SendTotal:  1 << 20,
		SendActive: true,
	})
	sent := drainSend(t, e)
	assert.Equal(t, uint64(1<<20), sent)
	assert.True(t, e.Done())
	assert.Nil(t, e.Fault())
}

func TestBufferSizeLargerThanTransferTotalStillCompletes(t *testing.T) {
	e := New(Options{
		Pattern:    ctstraffic.PatternPush,
		BufferSize: 1 << 20,
		SendTotal:  100,
		SendActive: true,
	})
	sent := drainSend(t, e)
	assert.Equal(t, uint64(100), sent)
}

// TestZeroTransferTotalStillExchangesTrailer locks in spec.md §8's
// transfer_total == 0 boundary behavior: the connection still completes
// via trailer exchange, it does not skip the trailer just because there is
// no payload data.
func TestZeroTransferTotalStillExchangesTrailer(t *testing.T) {
	e := New(Options{
		Pattern:    ctstraffic.PatternPush,
		BufferSize: 4096,
		SendTotal:  0,
		SendActive: true,
	})
	task := e.NextTask(time.Now())
	require.Equal(t, Send, task.Kind)
	assert.True(t, task.Trailer)
	assert.Equal(t, uint64(TrailerSize), task.Length)
	e.CompleteTask(task, task.Length, nil)

	done := e.NextTask(time.Now())
	assert.Equal(t, Done, done.Kind)
}

func TestSendTrailerDispatchedAfterDataExhausted(t *testing.T) {
	e := New(Options{
		Pattern:    ctstraffic.PatternPush,
		BufferSize: 10,
		SendTotal:  10,
		SendActive: true,
	})
	data := e.NextTask(time.Now())
	require.Equal(t, Send, data.Kind)
	require.False(t, data.Trailer)
	e.CompleteTask(data, data.Length, nil)

	trailer := e.NextTask(time.Now())
	require.Equal(t, Send, trailer.Kind)
	assert.True(t, trailer.Trailer)
	assert.Equal(t, uint64(TrailerSize), trailer.Length)
}

func TestShortSendIsProtocolFault(t *testing.T) {
	e := New(Options{
		Pattern:    ctstraffic.PatternPush,
		BufferSize: 100,
		SendTotal:  100,
		SendActive: true,
	})
	task := e.NextTask(time.Now())
	require.Equal(t, Send, task.Kind)
	e.CompleteTask(task, task.Length-1, nil)

	require.NotNil(t, e.Fault())
	assert.Equal(t, ctstraffic.KindProtocolError, e.Fault().Kind)
	assert.Equal(t, ctstraffic.ProtoTooFewBytes, e.Fault().ProtoKind())
	assert.True(t, e.Done())
}

func TestPushPullPhaseExclusivity(t *testing.T) {
	e := New(Options{
		Pattern:     ctstraffic.PatternPushPull,
		BufferSize:  1024,
		SendTotal:   200,
		RecvTotal:   200,
		PushBytes:   100,
		PullBytes:   100,
		FirstIsSend: true,
	})

	// First phase: this side sends. No recv task should be issued until
	// the send phase's 100 bytes are exhausted.
	task := e.NextTask(time.Now())
	require.Equal(t, Send, task.Kind)
	assert.LessOrEqual(t, task.Length, uint64(100))
	e.CompleteTask(task, task.Length, nil)

	if task.Length < 100 {
		next := e.NextTask(time.Now())
		require.Equal(t, Send, next.Kind, "phase must stay on send until its quota is exhausted")
	}
}

func TestDataMismatchSetsProtocolFault(t *testing.T) {
	e := New(Options{
		Pattern:    ctstraffic.PatternPull,
		VerifyMode: ctstraffic.VerifyData,
		BufferSize: 16,
		RecvTotal:  16,
		RecvActive: true,
	})
	garbage := make([]byte, 16)
	ok := e.VerifyRecv(garbage)
	// garbage is all zero bytes, vanishingly unlikely to match the seed at
	// offset 0; if it does this assertion is simply not exercised.
	if !ok {
		require.NotNil(t, e.Fault())
		assert.Equal(t, ctstraffic.ProtoDataMismatch, e.Fault().ProtoKind())
	}
}

func TestDuplexTracksBothDirectionsIndependently(t *testing.T) {
	e := New(Options{
		Pattern:      ctstraffic.PatternDuplex,
		BufferSize:   64,
		SendTotal:    64,
		RecvTotal:    64,
		PrePostRecvs: 2,
	})
	toSend, toRecv := e.BytesRemaining()
	assert.Equal(t, uint64(64), toSend)
	assert.Equal(t, uint64(64), toRecv)
}

func TestMaxOutstandingReflectsPrePostRecvs(t *testing.T) {
	push := New(Options{Pattern: ctstraffic.PatternPush, BufferSize: 64, SendTotal: 64, SendActive: true})
	sendMax, recvMax := push.MaxOutstanding()
	assert.Equal(t, 1, sendMax)
	assert.Equal(t, 1, recvMax, "non-duplex patterns default to a single outstanding recv")

	duplex := New(Options{
		Pattern:      ctstraffic.PatternDuplex,
		BufferSize:   64,
		SendTotal:    64,
		RecvTotal:    64,
		PrePostRecvs: 3,
	})
	sendMax, recvMax = duplex.MaxOutstanding()
	assert.Equal(t, 1, sendMax)
	assert.Equal(t, 3, recvMax)
}

// TestDuplexAllowsMultipleOutstandingRecvTasks proves the engine itself
// will hand out a second recv task before the first one completes, which
// is the behavior a connection-level pre-posted recv worker pool relies
// on to ever see more than one recv outstanding at once.
func TestDuplexAllowsMultipleOutstandingRecvTasks(t *testing.T) {
	e := New(Options{
		Pattern:      ctstraffic.PatternDuplex,
		BufferSize:   16,
		SendTotal:    0,
		RecvTotal:    64,
		PrePostRecvs: 2,
	})

	// Duplex always exchanges a trailer on both directions, even one with
	// zero total (see TestZeroTransferTotalStillExchangesTrailer); clear it
	// before exercising recv concurrency below.
	sendTrailer := e.NextTask(time.Now())
	require.Equal(t, Send, sendTrailer.Kind)
	require.True(t, sendTrailer.Trailer)
	e.CompleteTask(sendTrailer, sendTrailer.Length, nil)

	first := e.NextTask(time.Now())
	require.Equal(t, Recv, first.Kind)

	second := e.NextTask(time.Now())
	require.Equal(t, Recv, second.Kind, "a second recv task must be issuable while the first is still outstanding")
	assert.NotEqual(t, first.Offset, second.Offset)

	third := e.NextTask(time.Now())
	assert.Equal(t, None, third.Kind, "PrePostRecvs=2 must cap outstanding recvs at two")
}
