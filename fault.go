package ctstraffic

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a Fault into the taxonomy of spec section 7. It is a
// closed set of error kinds, not a Go error type hierarchy: callers switch
// on Kind rather than type-asserting.
type Kind uint8

const (
	// KindIOError is a transport-layer failure with an OS-style numeric code.
	KindIOError Kind = iota
	// KindProtocolError is a violation of the wire protocol (see ProtoKind).
	KindProtocolError
	// KindResourceError is an allocation or socket-creation failure.
	KindResourceError
	// KindTimeLimit is a global deadline exceeded.
	KindTimeLimit
	// KindCancelled is an external cancellation.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindIOError:
		return "io-error"
	case KindProtocolError:
		return "protocol-error"
	case KindResourceError:
		return "resource-error"
	case KindTimeLimit:
		return "time-limit"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ProtoKind enumerates the protocol-error sub-kinds named in spec section 7.
type ProtoKind uint8

const (
	ProtoDataMismatch ProtoKind = iota
	ProtoTooFewBytes
	ProtoTooManyBytes
	ProtoNoCompletion
	ProtoBadFrame
	ProtoBadSequence
)

func (p ProtoKind) String() string {
	switch p {
	case ProtoDataMismatch:
		return "data-mismatch"
	case ProtoTooFewBytes:
		return "too-few-bytes"
	case ProtoTooManyBytes:
		return "too-many-bytes"
	case ProtoNoCompletion:
		return "no-completion"
	case ProtoBadFrame:
		return "bad-frame"
	case ProtoBadSequence:
		return "bad-sequence"
	default:
		return "unknown"
	}
}

// Fault is the error-code + message pair spec section 9 prescribes in place
// of a deep manual exception hierarchy. Code carries the OS-level errno for
// KindIOError, or the ProtoKind for KindProtocolError; it is meaningless for
// the remaining kinds.
type Fault struct {
	Kind    Kind
	Code    int
	Message string
	cause   error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (f *Fault) Unwrap() error { return f.cause }

// NewIOFault wraps a transport error as a KindIOError Fault carrying an
// OS-style numeric code.
func NewIOFault(code int, cause error) *Fault {
	return &Fault{
		Kind:    KindIOError,
		Code:    code,
		Message: "transport failure",
		cause:   errors.Wrap(cause, "io"),
	}
}

// NewProtocolFault builds a KindProtocolError Fault for the given sub-kind.
func NewProtocolFault(kind ProtoKind, message string) *Fault {
	return &Fault{
		Kind:    KindProtocolError,
		Code:    int(kind),
		Message: message,
	}
}

// ProtoKind extracts the ProtoKind of a KindProtocolError Fault. Behavior is
// undefined for other kinds.
func (f *Fault) ProtoKind() ProtoKind { return ProtoKind(f.Code) }

// NewDatagramLossFault reports a datagram client verdict degraded by
// dropped or malformed frames (spec section 4.4): "otherwise io-error with
// counters as the diagnostic payload".
func NewDatagramLossFault(dropped, errorFrames uint64) *Fault {
	return &Fault{
		Kind:    KindIOError,
		Message: fmt.Sprintf("dropped=%d error_frames=%d", dropped, errorFrames),
	}
}

// NewResourceFault wraps an allocation/socket-creation failure.
func NewResourceFault(cause error) *Fault {
	return &Fault{
		Kind:    KindResourceError,
		Message: "resource allocation failed",
		cause:   errors.Wrap(cause, "resource"),
	}
}

// ErrTimeLimit is the sentinel Fault recorded for connections still active
// when the configured time limit elapses.
var ErrTimeLimit = &Fault{Kind: KindTimeLimit, Message: "time limit exceeded"}

// ErrCancelled is the sentinel Fault recorded when an external cancellation
// preempts a connection before natural completion.
var ErrCancelled = &Fault{Kind: KindCancelled, Message: "cancelled"}
