package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteAtDeterministic(t *testing.T) {
	for _, off := range []uint64{0, 1, 4095, seedSize - 1, seedSize, seedSize + 17, 5_000_000} {
		assert.Equal(t, ByteAt(off), ByteAt(off), "offset %d must be stable across calls", off)
	}
}

func TestGenerateMatchesByteAt(t *testing.T) {
	buf := make([]byte, 4096)
	Generate(buf, 123)
	for i, b := range buf {
		require.Equal(t, ByteAt(123+uint64(i)), b)
	}
}

func TestVerifyDetectsMismatch(t *testing.T) {
	buf := make([]byte, 256)
	Generate(buf, 0)
	buf[200] ^= 0xFF

	off, ok := Verify(buf, 0)
	assert.False(t, ok)
	assert.Equal(t, int64(200), off)
}

func TestVerifyAcceptsMatchingBuffer(t *testing.T) {
	buf := make([]byte, 256)
	Generate(buf, 999)

	off, ok := Verify(buf, 999)
	assert.True(t, ok)
	assert.Equal(t, int64(-1), off)
}

func TestCursorAdvancesAcrossCalls(t *testing.T) {
	c := NewCursor()

	first := make([]byte, 100)
	Generate(first, 0)
	_, ok := c.Verify(first)
	require.True(t, ok)
	assert.Equal(t, uint64(100), c.Offset())

	second := make([]byte, 50)
	Generate(second, 100)
	_, ok = c.Verify(second)
	require.True(t, ok)
	assert.Equal(t, uint64(150), c.Offset())
}

func TestCursorDetectsCrossCallMismatch(t *testing.T) {
	c := NewCursor()

	first := make([]byte, 64)
	Generate(first, 0)
	_, ok := c.Verify(first)
	require.True(t, ok)

	second := make([]byte, 64)
	Generate(second, 0) // wrong: should be the mapping at offset 64
	_, ok = c.Verify(second)
	assert.False(t, ok)
}
