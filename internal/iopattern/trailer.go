package iopattern

import "encoding/binary"

// TrailerSize is the fixed size, in bytes, of the stream completion
// trailer (spec section 6): a big-endian status code, zero for normal
// termination and non-zero for a remote-indicated abort.
const TrailerSize = 4

// EncodeTrailer renders a status code as the wire trailer.
func EncodeTrailer(status uint32) [TrailerSize]byte {
	var buf [TrailerSize]byte
	binary.BigEndian.PutUint32(buf[:], status)
	return buf
}

// DecodeTrailer parses a received trailer buffer. It returns ok=false if
// buf is not exactly TrailerSize bytes (malformed trailer, spec section
// 4.3: "missing or malformed trailer -> protocol-error(no-completion)").
func DecodeTrailer(buf []byte) (status uint32, ok bool) {
	if len(buf) != TrailerSize {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf), true
}
