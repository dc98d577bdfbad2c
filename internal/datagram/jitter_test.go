package datagram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMeanInterarrivalJitterZeroWithFewerThanTwoSamples(t *testing.T) {
	assert.Zero(t, MeanInterarrivalJitter(nil))
	assert.Zero(t, MeanInterarrivalJitter([]JitterSample{{Sequence: 1}}))
}

func TestMeanInterarrivalJitterZeroWhenArrivalMatchesSendSpacing(t *testing.T) {
	const qpf = int64(time.Second)
	samples := []JitterSample{
		{Sequence: 1, SendQPC: 0, SendQPF: qpf, RecvQPCNs: 0},
		{Sequence: 2, SendQPC: qpf / 10, SendQPF: qpf, RecvQPCNs: int64(100 * time.Millisecond)},
		{Sequence: 3, SendQPC: 2 * qpf / 10, SendQPF: qpf, RecvQPCNs: int64(200 * time.Millisecond)},
	}
	assert.Zero(t, MeanInterarrivalJitter(samples))
}

func TestMeanInterarrivalJitterReflectsArrivalSkew(t *testing.T) {
	const qpf = int64(time.Second)
	samples := []JitterSample{
		{Sequence: 1, SendQPC: 0, SendQPF: qpf, RecvQPCNs: 0},
		// sent 100ms after the first frame, but arrived 150ms later: 50ms of skew.
		{Sequence: 2, SendQPC: qpf / 10, SendQPF: qpf, RecvQPCNs: int64(150 * time.Millisecond)},
	}
	got := MeanInterarrivalJitter(samples)
	assert.InDelta(t, float64(50*time.Millisecond), float64(got), float64(time.Microsecond))
}
