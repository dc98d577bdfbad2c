package connection

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tpn/ctstraffic"
	"github.com/tpn/ctstraffic/internal/stats"
)

// pipeSocket hands out one preconnected net.Conn end, modeling a socket
// that is already established the moment Obtain is called.
type pipeSocket struct{ conn net.Conn }

func (p pipeSocket) Obtain(ctx context.Context) (net.Conn, error) { return p.conn, nil }

// nopNotifier discards all broker callbacks, for tests that only exercise
// one side of a connection pair.
type nopNotifier struct{}

func (nopNotifier) InitiatingIO()                  {}
func (nopNotifier) Closing(bool)                   {}
func (nopNotifier) CancelFault() *ctstraffic.Fault { return ctstraffic.ErrCancelled }

func pushConfig(total uint64) *ctstraffic.Config {
	return &ctstraffic.Config{
		Pattern:       ctstraffic.PatternPush,
		BufferSize:    ctstraffic.Fixed(37), // deliberately not a divisor of total
		TransferTotal: ctstraffic.Fixed(total),
		VerifyMode:    ctstraffic.VerifyData,
	}
}

func TestStreamPushTransferSucceedsBothSides(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()

	cfg := pushConfig(1000)
	client := New(cfg, ctstraffic.RoleConnect, pipeSocket{clientEnd}, nopNotifier{}, &stats.Global{}, zap.NewNop().Sugar(), 1)
	server := New(cfg, ctstraffic.RoleListen, pipeSocket{serverEnd}, nopNotifier{}, &stats.Global{}, zap.NewNop().Sugar(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientDone := make(chan ctstraffic.Verdict, 1)
	serverDone := make(chan ctstraffic.Verdict, 1)
	go func() { clientDone <- client.Run(ctx) }()
	go func() { serverDone <- server.Run(ctx) }()

	cv := <-clientDone
	sv := <-serverDone

	require.True(t, cv.Success, "client verdict: %+v", cv.Fault)
	require.True(t, sv.Success, "server verdict: %+v", sv.Fault)
	assert.Equal(t, uint64(1000), cv.BytesSent)
	assert.Equal(t, uint64(1000), sv.BytesRecv)
}

func TestStreamPullTransferSucceedsBothSides(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()

	cfg := &ctstraffic.Config{
		Pattern:       ctstraffic.PatternPull,
		BufferSize:    ctstraffic.Fixed(64),
		TransferTotal: ctstraffic.Fixed(512),
		VerifyMode:    ctstraffic.VerifyData,
	}
	client := New(cfg, ctstraffic.RoleConnect, pipeSocket{clientEnd}, nopNotifier{}, &stats.Global{}, zap.NewNop().Sugar(), 1)
	server := New(cfg, ctstraffic.RoleListen, pipeSocket{serverEnd}, nopNotifier{}, &stats.Global{}, zap.NewNop().Sugar(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientDone := make(chan ctstraffic.Verdict, 1)
	serverDone := make(chan ctstraffic.Verdict, 1)
	go func() { clientDone <- client.Run(ctx) }()
	go func() { serverDone <- server.Run(ctx) }()

	cv := <-clientDone
	sv := <-serverDone

	require.True(t, cv.Success, "client verdict: %+v", cv.Fault)
	require.True(t, sv.Success, "server verdict: %+v", sv.Fault)
	assert.Equal(t, uint64(512), cv.BytesRecv)
	assert.Equal(t, uint64(512), sv.BytesSent)
}

func TestStreamDuplexTransferSucceedsBothSides(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()

	cfg := &ctstraffic.Config{
		Pattern:       ctstraffic.PatternDuplex,
		BufferSize:    ctstraffic.Fixed(50),
		TransferTotal: ctstraffic.Fixed(300),
		PrePostRecvs:  2,
	}
	client := New(cfg, ctstraffic.RoleConnect, pipeSocket{clientEnd}, nopNotifier{}, &stats.Global{}, zap.NewNop().Sugar(), 1)
	server := New(cfg, ctstraffic.RoleListen, pipeSocket{serverEnd}, nopNotifier{}, &stats.Global{}, zap.NewNop().Sugar(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientDone := make(chan ctstraffic.Verdict, 1)
	serverDone := make(chan ctstraffic.Verdict, 1)
	go func() { clientDone <- client.Run(ctx) }()
	go func() { serverDone <- server.Run(ctx) }()

	cv := <-clientDone
	sv := <-serverDone

	require.True(t, cv.Success, "client verdict: %+v", cv.Fault)
	require.True(t, sv.Success, "server verdict: %+v", sv.Fault)
	assert.Equal(t, uint64(300), cv.BytesSent)
	assert.Equal(t, uint64(300), cv.BytesRecv)
}

func TestResourceFaultWhenSocketUnobtainable(t *testing.T) {
	cfg := pushConfig(10)
	c := New(cfg, ctstraffic.RoleConnect, failingSocketForConnTest{}, nopNotifier{}, &stats.Global{}, zap.NewNop().Sugar(), 1)

	v := c.Run(context.Background())
	require.False(t, v.Success)
	assert.Equal(t, ctstraffic.KindResourceError, v.Fault.Kind)
}

type failingSocketForConnTest struct{}

func (failingSocketForConnTest) Obtain(ctx context.Context) (net.Conn, error) {
	return nil, errPipeSocketUnavailable
}

var errPipeSocketUnavailable = &testErr{"socket unavailable"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
