package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tpn/ctstraffic"
	"github.com/tpn/ctstraffic/internal/datagram"
	"github.com/tpn/ctstraffic/internal/stats"
)

func TestListenerAcceptsConnectFromConnector(t *testing.T) {
	lnCfg := &ctstraffic.Config{Protocol: ctstraffic.ProtocolStream, ListenAddrs: []string{"127.0.0.1:0"}}
	ln, err := NewListener(lnCfg)
	require.NoError(t, err)
	defer ln.Close()

	connCfg := &ctstraffic.Config{Protocol: ctstraffic.ProtocolStream, TargetAddrs: []string{ln.Addr().String()}}
	connector := NewConnector(connCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	acceptedCh := make(chan error, 1)
	go func() {
		_, err := ln.Obtain(ctx)
		acceptedCh <- err
	}()

	clientConn, err := connector.Obtain(ctx)
	require.NoError(t, err)
	defer clientConn.Close()

	require.NoError(t, <-acceptedCh)
}

func TestConnectorRoundRobinsTargets(t *testing.T) {
	lnA, err := NewListener(&ctstraffic.Config{ListenAddrs: []string{"127.0.0.1:0"}})
	require.NoError(t, err)
	defer lnA.Close()
	lnB, err := NewListener(&ctstraffic.Config{ListenAddrs: []string{"127.0.0.1:0"}})
	require.NoError(t, err)
	defer lnB.Close()

	cfg := &ctstraffic.Config{TargetAddrs: []string{lnA.Addr().String(), lnB.Addr().String()}}
	connector := NewConnector(cfg)

	first := connector.nextTarget()
	second := connector.nextTarget()
	third := connector.nextTarget()

	assert.Equal(t, first, third)
	assert.NotEqual(t, first, second)
}

func TestConnectorErrorsWithNoTargets(t *testing.T) {
	connector := NewConnector(&ctstraffic.Config{})
	_, err := connector.Obtain(context.Background())
	assert.Error(t, err)
}

// TestDatagramHandoffCompletesEndToEnd drives a full client-connects,
// server-learns-the-peer, server-streams round trip through DatagramHandoff
// and Connector: the same path streamtest/streamtestd wire up for
// PatternDatagramStream. Without the receiver's hello datagram,
// DatagramHandoff.Obtain below blocks forever and this test times out,
// which is exactly the failure mode that shipped uncaught.
func TestDatagramHandoffCompletesEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listenCfg := &ctstraffic.Config{Protocol: ctstraffic.ProtocolDatagram, ListenAddrs: []string{"127.0.0.1:0"}}
	handoff, err := NewDatagramHandoff(ctx, listenCfg)
	require.NoError(t, err)
	defer handoff.Close()

	connCfg := &ctstraffic.Config{Protocol: ctstraffic.ProtocolDatagram, TargetAddrs: []string{handoff.Addr().String()}}
	connector := NewConnector(connCfg)

	clientConn, err := connector.Obtain(ctx)
	require.NoError(t, err)
	defer clientConn.Close()

	dgCfg := ctstraffic.DatagramConfig{
		BitsPerSecond:     8000,
		FramesPerSecond:   20,
		BufferDepthSecond: 0.5,
		StreamLengthSec:   0.5,
		Codec:             ctstraffic.CodecNoResends,
	}
	receiverStats := &stats.Counters{}
	receiver := datagram.NewReceiver(dgCfg, receiverStats, clientConn, time.Now())

	receiverDone := make(chan *ctstraffic.Fault, 1)
	go func() { receiverDone <- receiver.Run(ctx) }()

	serverConn, err := handoff.Obtain(ctx)
	require.NoError(t, err, "server never learned the client's peer address")
	defer serverConn.Close()

	senderStats := &stats.Counters{}
	sender := datagram.NewSender(dgCfg, senderStats, serverConn)
	senderDone := make(chan error, 1)
	go func() { senderDone <- sender.Run(ctx) }()

	fault := <-receiverDone
	cancel()
	<-senderDone

	require.Nil(t, fault, "receiver fault: %+v", fault)
	assert.Equal(t, dgCfg.TotalFrames(), receiverStats.SuccessfulFrames())
}
