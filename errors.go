package tcpms

import "fmt"

// A Kind classifies the errors surfaced through a Handler's error callback.
type Kind int

const (
	// KindUnknown is the zero Kind; it is never produced by this package.
	KindUnknown Kind = iota

	// KindReadTimeout: a byte-level read missed its deadline, past the
	// first byte of a package header.
	KindReadTimeout

	// KindCannotRead: the socket is broken for reading. Terminal.
	KindCannotRead

	// KindCannotWrite: the socket is broken for writing. Terminal.
	KindCannotWrite

	// KindDisconnected: the peer indicated disconnect, or the stream ended
	// cleanly. Terminal.
	KindDisconnected

	// KindErrorPackage: the peer sent a Package of type Error.
	KindErrorPackage

	// KindUnexpectedPackage: a typed read observed a frame whose type did
	// not match what the caller expected.
	KindUnexpectedPackage

	// KindPingTimeout: no pong or data package arrived within the ping
	// budget.
	KindPingTimeout

	// KindIncorrectPackage: a validation round's echo did not satisfy the
	// probe-and-echo rule.
	KindIncorrectPackage
)

func (k Kind) String() string {
	switch k {
	case KindReadTimeout:
		return "read_timeout"
	case KindCannotRead:
		return "cannot_read"
	case KindCannotWrite:
		return "cannot_write"
	case KindDisconnected:
		return "disconnected"
	case KindErrorPackage:
		return "error_package"
	case KindUnexpectedPackage:
		return "unexpected_package"
	case KindPingTimeout:
		return "ping_timeout"
	case KindIncorrectPackage:
		return "incorrect_package"
	default:
		return "unknown"
	}
}

// Terminal reports whether k always ends the session: the registry should
// remove the client rather than attempt a panic rejoin.
func (k Kind) Terminal() bool {
	switch k {
	case KindCannotRead, KindCannotWrite, KindDisconnected:
		return true
	default:
		return false
	}
}

// A ProtocolError carries a Kind plus an optional wrapped cause. Handler,
// the codec, and the handshake state machine all report failures using
// this type so that callers can dispatch on Kind with errors.As instead of
// matching error strings.
type ProtocolError struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, may be nil
}

// NewProtocolError constructs a ProtocolError of the given kind with a
// formatted message.
func NewProtocolError(kind Kind, format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapProtocolError constructs a ProtocolError of the given kind wrapping
// an underlying cause.
func WrapProtocolError(kind Kind, msg string, err error) *ProtocolError {
	return &ProtocolError{Kind: kind, Msg: msg, Err: err}
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the wrapped cause of e, or nil.
func (e *ProtocolError) Unwrap() error { return e.Err }
