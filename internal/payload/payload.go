// Package payload implements the deterministic payload mapping shared by
// both peers of a connection (spec component C1): given an absolute byte
// offset, it produces bytes that are a pure function of that offset, cheaply
// indexable without producing earlier offsets first.
package payload

import "crypto/sha256"

// seedSize is the size of the expanded seed pattern. 1 MiB comfortably
// exceeds typical buffer sizes while staying cheap to hold in memory once,
// shared read-only across every connection.
const seedSize = 1 << 20

// seed is generated once at package init by repeatedly hashing a fixed
// string, avoiding a large literal while remaining fully deterministic
// across hosts and builds (spec section 4.1 requirement (a)).
var seed = buildSeed()

func buildSeed() []byte {
	buf := make([]byte, 0, seedSize)
	block := sha256.Sum256([]byte("ctstraffic-payload-seed"))
	for len(buf) < seedSize {
		buf = append(buf, block[:]...)
		block = sha256.Sum256(block[:])
	}
	return buf[:seedSize]
}

// ByteAt returns the deterministic payload byte for absolute offset o.
// Computing it does not require producing any earlier offset (spec section
// 4.1 requirement (c)).
func ByteAt(o uint64) byte {
	return seed[o%seedSize]
}

// Generate fills dst with the n = len(dst) deterministic bytes starting at
// absolute offset o.
func Generate(dst []byte, o uint64) {
	for i := range dst {
		dst[i] = ByteAt(o + uint64(i))
	}
}

// Verify compares got against the deterministic mapping starting at
// absolute offset o. It returns (-1, true) when every byte matches, or the
// offset (relative to o) of the first mismatch and false otherwise.
func Verify(got []byte, o uint64) (mismatchOffset int64, ok bool) {
	for i, b := range got {
		if b != ByteAt(o+uint64(i)) {
			return int64(i), false
		}
	}
	return -1, true
}

// Cursor tracks a receiver's verification progress against the shared
// mapping so a byte-level verifier does not need external offset
// bookkeeping (spec section 4.1, "per-connection mode").
type Cursor struct {
	next uint64
}

// NewCursor creates a Cursor starting at absolute offset 0.
func NewCursor() *Cursor { return &Cursor{} }

// Verify checks buf against the mapping at the cursor's current position
// and advances the cursor by len(buf) regardless of outcome (the caller is
// expected to treat a mismatch as fatal for the connection).
func (c *Cursor) Verify(buf []byte) (mismatchOffset int64, ok bool) {
	off, ok := Verify(buf, c.next)
	c.next += uint64(len(buf))
	return off, ok
}

// Offset returns the cursor's current absolute offset.
func (c *Cursor) Offset() uint64 { return c.next }
