package ctstraffic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIOFaultWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	f := NewIOFault(104, cause)

	assert.Equal(t, KindIOError, f.Kind)
	assert.Equal(t, 104, f.Code)
	assert.ErrorIs(t, f, cause)
}

func TestNewProtocolFaultCarriesSubKind(t *testing.T) {
	f := NewProtocolFault(ProtoDataMismatch, "payload mismatch at offset 4096")
	assert.Equal(t, KindProtocolError, f.Kind)
	assert.Equal(t, ProtoDataMismatch, f.ProtoKind())
}

func TestSentinelFaultsAreDistinctKinds(t *testing.T) {
	assert.Equal(t, KindTimeLimit, ErrTimeLimit.Kind)
	assert.Equal(t, KindCancelled, ErrCancelled.Kind)
	assert.NotEqual(t, ErrTimeLimit.Kind, ErrCancelled.Kind)
}

func TestNewDatagramLossFaultReportsCounters(t *testing.T) {
	f := NewDatagramLossFault(3, 1)
	assert.Equal(t, KindIOError, f.Kind)
	assert.Contains(t, f.Error(), "dropped=3")
	assert.Contains(t, f.Error(), "error_frames=1")
}
