package device

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the core reports.
type ErrorKind string

const (
	UnsupportedTransport ErrorKind = "unsupported_transport"
	NotInitialized       ErrorKind = "not_initialized"
	ScanStartFailed      ErrorKind = "scan_start_failed"
	SocketCreationFailed ErrorKind = "socket_creation_failed"
	ConnectFailed        ErrorKind = "connect_failed"
	StreamOpenFailed     ErrorKind = "stream_open_failed"
	IoFailed             ErrorKind = "io_failed"
	AcceptFailed         ErrorKind = "accept_failed"
	RestrictedContext    ErrorKind = "restricted_context"
	Closed               ErrorKind = "closed"
)

// Failure stages reported to connection and accept listeners.
const (
	StageCreateClientSocket = "createClientSocket"
	StageConnectAsClient    = "ConnectAsClient"
	StageCreateRfcommSocket = "createRfcommSocket"
	StageCreateServerSocket = "createBTServerSocket"
	StageAccept             = "accept"
)

// Error is the single error type produced by btwiz components.
type Error struct {
	Kind  ErrorKind
	Stage string // optional: where in a multi-step operation the failure happened
	Msg   string
	Err   error // optional transport cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Stage != "" {
		msg = fmt.Sprintf("%s at %s", msg, e.Stage)
	}
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrUnsupportedTransport = &Error{Kind: UnsupportedTransport}
	ErrNotInitialized       = &Error{Kind: NotInitialized}
	ErrScanStartFailed      = &Error{Kind: ScanStartFailed}
	ErrSocketCreationFailed = &Error{Kind: SocketCreationFailed}
	ErrConnectFailed        = &Error{Kind: ConnectFailed}
	ErrStreamOpenFailed     = &Error{Kind: StreamOpenFailed}
	ErrIoFailed             = &Error{Kind: IoFailed}
	ErrAcceptFailed         = &Error{Kind: AcceptFailed}
	ErrRestrictedContext    = &Error{Kind: RestrictedContext}
	ErrClosed               = &Error{Kind: Closed}
)

// NewError builds an Error of the given kind wrapping cause.
func NewError(kind ErrorKind, stage string, cause error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: cause}
}

// IsKind reports whether err is an Error with the given kind
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// StageOf returns the failure stage carried by err, or "" when there is none.
func StageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}
