package client

import "fmt"

// Kind classifies a client error so callers can branch on the failure
// class without string matching.
type Kind string

const (
	// InvalidData means the caller's input failed validation before
	// anything was sent to the terminal.
	InvalidData Kind = "INVALID_DATA"

	// IncompleteConfiguration means the client is missing something it
	// needs to resolve or reach the terminal, an access token or a
	// merchant id for example.
	IncompleteConfiguration Kind = "INCOMPLETE_CONFIGURATION"

	// DiscoveryTimeout means the terminal accepted the connection but
	// never answered discovery.
	DiscoveryTimeout Kind = "DISCOVERY_TIMEOUT"

	// DeviceOffline means the cloud knows the terminal but could not
	// push our connection details to it.
	DeviceOffline Kind = "DEVICE_OFFLINE"

	// DeviceNotFound means no terminal with the given serial is
	// registered to the merchant.
	DeviceNotFound Kind = "DEVICE_NOT_FOUND"

	// CommunicationError covers transport failures, both websocket and
	// the REST resolution calls.
	CommunicationError Kind = "COMMUNICATION_ERROR"

	// DeviceError means the terminal reported a fault, or the session
	// was lost to another client.
	DeviceError Kind = "DEVICE_ERROR"

	// Canceled means the operation finished without completing, whether
	// the customer pressed cancel, the merchant voided on screen or the
	// caller sent a cancel.
	Canceled Kind = "CANCELED"

	// NotImplemented marks operations this client does not support yet.
	NotImplemented Kind = "NOT_IMPLEMENTED"
)

// Error is the error type for every failure this package reports.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause.Error())
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same kind, so callers can use
// errors.Is with a bare kinded error as the target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the kind from an error produced by this package, or
// CommunicationError for anything else.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return CommunicationError
}
