// Package errs provides structured error types shared across the tradewire stack.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a failure category in the connection stack.
type Code string

const (
	// CodeConnection indicates a transport open, send, or receive failure.
	CodeConnection Code = "connection"
	// CodeAuth indicates a rejected authentication handshake.
	CodeAuth Code = "auth"
	// CodeTimeout indicates no response arrived within the deadline.
	CodeTimeout Code = "timeout"
	// CodeProtocol indicates a malformed or unroutable frame.
	CodeProtocol Code = "protocol"
	// CodeSubscription indicates a subscribe or unsubscribe rejected by the venue.
	CodeSubscription Code = "subscription"
	// CodeState indicates an operation attempted outside its required connection state.
	CodeState Code = "state"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeUnavailable indicates the component is shut down or at capacity.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the stack.
type E struct {
	Venue   string
	Code    Code
	RawCode string
	RawMsg  string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and error code.
func New(venue string, code Code, opts ...Option) *E {
	e := &E{
		Venue:   strings.TrimSpace(venue),
		Code:    code,
		RawCode: "",
		RawMsg:  "",
		Message: "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRawCode captures the machine-readable error code reported by the venue.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *E) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// CodeOf extracts the failure category from err, walking the unwrap chain.
// It returns an empty Code when err carries no envelope.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) && envelope != nil {
		return envelope.Code
	}
	return ""
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
