package datagram

import "time"

// JitterSample pairs a frame's sender-side transmit timestamp with the
// receiver's timestamp for its first arrival (spec section 3, "jitter
// samples (sender-timestamp, receiver-timestamp pairs)").
type JitterSample struct {
	Sequence  uint64
	SendQPC   int64
	SendQPF   int64
	RecvQPCNs int64
}

// SendSeconds converts the sender's (qpc, qpf) pair to seconds since the
// sender's clock epoch, matching QueryPerformanceCounter/Frequency
// semantics: elapsed = qpc / qpf.
func (s JitterSample) SendSeconds() float64 {
	if s.SendQPF == 0 {
		return 0
	}
	return float64(s.SendQPC) / float64(s.SendQPF)
}

// MeanInterarrivalJitter computes the RFC 3550-style interarrival jitter
// estimate across consecutively finalized samples: for each pair of
// neighboring frames it compares how far apart they were sent to how far
// apart they arrived, and averages the absolute difference. This is valid
// without clock synchronization between sender and receiver, since only
// differences of same-side timestamps are used.
func MeanInterarrivalJitter(samples []JitterSample) time.Duration {
	if len(samples) < 2 {
		return 0
	}
	var sumNs float64
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		sendDelta := cur.SendSeconds() - prev.SendSeconds()
		recvDelta := time.Duration(cur.RecvQPCNs - prev.RecvQPCNs).Seconds()
		d := recvDelta - sendDelta
		if d < 0 {
			d = -d
		}
		sumNs += d * float64(time.Second)
	}
	return time.Duration(sumNs / float64(len(samples)-1))
}
