// Package datagram implements the framed, unreliable-transport datagram
// streaming protocol of spec component C4: a fixed-rate server-to-client
// downlink with sequence numbers, in-order/out-of-order/duplicate/dropped/
// resend-once accounting, and jitter measurement.
package datagram

import "encoding/binary"

// HeaderSize is the fixed header length of a datagram frame (spec section
// 4.4 / 6): 8 bytes sequence, 8 bytes send_qpc, 8 bytes send_qpf, 4 bytes
// payload_len.
const HeaderSize = 8 + 8 + 8 + 4

// resendSentinel is the high bit of the little-endian payload_len field
// that marks a frame as a resend-request rather than a data frame (spec
// section 6).
const resendSentinel = uint32(1) << 31

// Frame is one decoded datagram, either a data frame or a resend-request.
type Frame struct {
	Sequence  uint64
	SendQPC   int64
	SendQPF   int64
	Payload   []byte
	IsRequest bool
}

// Encode renders f to its wire form. All integers are little-endian (spec
// section 6).
func (f Frame) Encode() []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	binary.LittleEndian.PutUint64(buf[0:8], f.Sequence)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(f.SendQPC))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(f.SendQPF))
	length := uint32(len(f.Payload))
	if f.IsRequest {
		length = resendSentinel
	}
	binary.LittleEndian.PutUint32(buf[24:28], length)
	copy(buf[28:], f.Payload)
	return buf
}

// Decode parses a wire frame. ok is false for malformed framing: a header
// too short, or a payload_len that disagrees with the bytes actually
// present (spec section 4.4, "a received datagram with malformed framing").
func Decode(buf []byte) (f Frame, ok bool) {
	if len(buf) < HeaderSize {
		return Frame{}, false
	}
	f.Sequence = binary.LittleEndian.Uint64(buf[0:8])
	f.SendQPC = int64(binary.LittleEndian.Uint64(buf[8:16]))
	f.SendQPF = int64(binary.LittleEndian.Uint64(buf[16:24]))
	lenField := binary.LittleEndian.Uint32(buf[24:28])

	if lenField&resendSentinel != 0 {
		f.IsRequest = true
		return f, true
	}

	payloadLen := lenField
	if int(payloadLen) != len(buf)-HeaderSize {
		return Frame{}, false
	}
	f.Payload = buf[HeaderSize:]
	return f, true
}
