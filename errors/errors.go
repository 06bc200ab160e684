package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Error is the structured error type returned by hub components.
type Error struct {
	code      Code
	category  Category
	message   string
	cause     error
	agentID   string
	taskID    string
	shortfall float64
	timestamp time.Time
}

// Ensure Error implements error and json.Marshaler.
var (
	_ error          = (*Error)(nil)
	_ json.Marshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() Code {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() Category {
	return e.category
}

// Retryable returns whether the operation may succeed on retry.
func (e *Error) Retryable() bool {
	return e.category.IsRetryable()
}

// AgentID returns the related agent name, if set.
func (e *Error) AgentID() string {
	return e.agentID
}

// TaskID returns the related task id, if set.
func (e *Error) TaskID() string {
	return e.taskID
}

// Shortfall returns the unmet resource amount for capacity errors.
// Zero for all other categories.
func (e *Error) Shortfall() float64 {
	return e.shortfall
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// errorJSON is the wire representation of an Error.
type errorJSON struct {
	Code      Code     `json:"code"`
	Category  Category `json:"category"`
	Message   string   `json:"message"`
	Cause     string   `json:"cause,omitempty"`
	Retryable bool     `json:"retryable"`
	AgentID   string   `json:"agent_id,omitempty"`
	TaskID    string   `json:"task_id,omitempty"`
	Shortfall float64  `json:"shortfall,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Retryable: e.Retryable(),
		AgentID:   e.agentID,
		TaskID:    e.taskID,
		Shortfall: e.shortfall,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithAgentID sets the related agent name.
func WithAgentID(id string) Option {
	return func(e *Error) {
		e.agentID = id
	}
}

// WithTaskID sets the related task id.
func WithTaskID(id string) Option {
	return func(e *Error) {
		e.taskID = id
	}
}

// WithShortfall sets the unmet resource amount.
func WithShortfall(amount float64) Option {
	return func(e *Error) {
		e.shortfall = amount
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code Code, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// Wrap wraps an error with additional context while preserving the chain.
// If err is nil, Wrap returns nil. If err is already a hub Error, its code
// and category are preserved.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var hubErr *Error
	if errors.As(err, &hubErr) {
		wrapped := &Error{
			code:      hubErr.code,
			category:  hubErr.category,
			message:   message,
			cause:     err,
			agentID:   hubErr.agentID,
			taskID:    hubErr.taskID,
			shortfall: hubErr.shortfall,
			timestamp: time.Now(),
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	return New(CodeInternal, message, append(opts, WithCause(err))...)
}

// HasCode reports whether err (or anything it wraps) is a hub Error with
// the given code.
func HasCode(err error, code Code) bool {
	var hubErr *Error
	if errors.As(err, &hubErr) {
		return hubErr.code == code
	}
	return false
}
