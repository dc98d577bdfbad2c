package ctstraffic

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteRangeFixedAlwaysReturnsSameValue(t *testing.T) {
	r := Fixed(4096)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		assert.Equal(t, uint64(4096), r.Sample(rng))
	}
}

func TestByteRangeSampleStaysWithinBounds(t *testing.T) {
	r := ByteRange{Low: 100, High: 200}
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 1000; i++ {
		v := r.Sample(rng)
		assert.GreaterOrEqual(t, v, uint64(100))
		assert.LessOrEqual(t, v, uint64(200))
	}
}

func TestPortRangeEmpty(t *testing.T) {
	assert.True(t, PortRange{}.Empty())
	assert.False(t, PortRange{Low: 1024, High: 2048}.Empty())
}

func TestTotalConnectionsRemainingConnectRole(t *testing.T) {
	cfg := &Config{Role: RoleConnect, Iterations: 3, ConnectionLimit: 10}
	assert.Equal(t, uint64(30), cfg.TotalConnectionsRemaining())
}

func TestTotalConnectionsRemainingUnboundedIterations(t *testing.T) {
	cfg := &Config{Role: RoleConnect, Iterations: Unbounded, ConnectionLimit: 10}
	assert.Equal(t, Unbounded, cfg.TotalConnectionsRemaining())
}

func TestTotalConnectionsRemainingListenRole(t *testing.T) {
	cfg := &Config{Role: RoleListen, ServerExitLimit: 5}
	assert.Equal(t, uint64(5), cfg.TotalConnectionsRemaining())

	unbounded := &Config{Role: RoleListen}
	assert.Equal(t, Unbounded, unbounded.TotalConnectionsRemaining())
}

func TestEffectivePendingLimitClampsToRemaining(t *testing.T) {
	cfg := &Config{Role: RoleConnect, Iterations: 1, ConnectionLimit: 10, PendingLimit: 100}
	assert.Equal(t, uint64(10), cfg.EffectivePendingLimit())
}

func TestEffectivePendingLimitDefaultsToConnectionLimit(t *testing.T) {
	cfg := &Config{Role: RoleConnect, Iterations: 1, ConnectionLimit: 10}
	assert.Equal(t, uint64(10), cfg.EffectivePendingLimit())
}

func TestDatagramConfigFrameSizeAndCount(t *testing.T) {
	d := DatagramConfig{BitsPerSecond: 8_000_000, FramesPerSecond: 100, StreamLengthSec: 2}
	assert.Equal(t, uint32(10000), d.FrameSize())
	assert.Equal(t, uint64(200), d.TotalFrames())
}
