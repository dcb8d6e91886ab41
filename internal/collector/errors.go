package collector

import (
	"errors"
	"fmt"
)

// ErrorKind classifies acquisition failures by how the caller should react.
type ErrorKind int

const (
	// KindTransportOpen: the port could not be opened (busy, missing, denied).
	KindTransportOpen ErrorKind = iota
	// KindTransport: a read or write failed on an open connection.
	KindTransport
	// KindMalformed: a line did not decode to a sample.
	KindMalformed
	// KindSinkFlush: storage rejected a batch; it is retained for retry.
	KindSinkFlush
	// KindNoDevice: discovery found no responsive port.
	KindNoDevice
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransportOpen:
		return "transport_open"
	case KindTransport:
		return "transport"
	case KindMalformed:
		return "malformed"
	case KindSinkFlush:
		return "sink_flush"
	case KindNoDevice:
		return "no_device"
	default:
		return "unknown"
	}
}

var (
	ErrNoDevice       = errors.New("no device found")
	ErrIncomplete     = errors.New("incomplete sample")
	ErrMalformed      = errors.New("malformed reading")
	ErrNoAck          = errors.New("no acknowledgment before timeout")
	ErrDeviceReset    = errors.New("device reset before acknowledging")
	ErrNotConnected   = errors.New("not connected")
	ErrAlreadyRunning = errors.New("acquisition already running")
)

// Error carries the kind and operation of a failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err, if it carries one.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
