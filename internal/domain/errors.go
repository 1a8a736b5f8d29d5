package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies failures reported across the adapter boundary.
type Kind string

const (
	// KindNotConnected - operation attempted before a successful connect
	KindNotConnected Kind = "NotConnected"
	// KindAuthenticationFailed - connect rejected by the router
	KindAuthenticationFailed Kind = "AuthenticationFailed"
	// KindUnreachable - timeout, refused connection or TLS failure
	KindUnreachable Kind = "Unreachable"
	// KindUnsupportedOperation - the adapter has no reliable implementation
	KindUnsupportedOperation Kind = "UnsupportedOperation"
	// KindPreconditionViolation - malformed caller input, rejected locally
	KindPreconditionViolation Kind = "PreconditionViolation"
	// KindDetectionFailed - no vendor fingerprint matched
	KindDetectionFailed Kind = "DetectionFailed"
	// KindUnknownVendor - explicit vendor tag not recognized
	KindUnknownVendor Kind = "UnknownVendor"
	// KindNotFound - no reservation or rule with the given key
	KindNotFound Kind = "NotFound"
	// KindRemote - the router answered but refused or garbled the request
	KindRemote Kind = "RemoteError"
)

// Sentinels for errors.Is matching. Only the kind is compared.
var (
	ErrNotConnected          = &Error{Kind: KindNotConnected}
	ErrAuthenticationFailed  = &Error{Kind: KindAuthenticationFailed}
	ErrUnreachable           = &Error{Kind: KindUnreachable}
	ErrUnsupportedOperation  = &Error{Kind: KindUnsupportedOperation}
	ErrPreconditionViolation = &Error{Kind: KindPreconditionViolation}
	ErrDetectionFailed       = &Error{Kind: KindDetectionFailed}
	ErrUnknownVendor         = &Error{Kind: KindUnknownVendor}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrRemote                = &Error{Kind: KindRemote}
)

// Error is a classified failure. Input names the offending caller value
// when there is one.
type Error struct {
	Kind    Kind
	Message string
	Input   string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Input != "" {
		msg += " (" + e.Input + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError creates a classified error without a cause.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under kind. A nil err yields nil.
func WrapError(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Precondition reports malformed caller input for field.
func Precondition(field, value, message string) *Error {
	return &Error{
		Kind:    KindPreconditionViolation,
		Message: message,
		Input:   fmt.Sprintf("%s=%q", field, value),
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// err is nil or unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
