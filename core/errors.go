package core

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures from provider operations. Classification
// happens once, at the adapter boundary, and is never re-derived downstream.
type ErrorCode string

const (
	ErrUnavailable     ErrorCode = "unavailable"
	ErrInvalidModel    ErrorCode = "invalid_model"
	ErrRateLimited     ErrorCode = "rate_limited"
	ErrUpstream        ErrorCode = "upstream"
	ErrUnknownProvider ErrorCode = "unknown_provider"
	ErrConfiguration   ErrorCode = "configuration"
	ErrProtocol        ErrorCode = "protocol"
	ErrCanceled        ErrorCode = "canceled"
	ErrInternal        ErrorCode = "internal"
)

// AIError provides typed context for consumers of provider operations.
type AIError struct {
	Code       ErrorCode
	Message    string
	Provider   string
	Status     int
	RetryAfter int64
	wrapped    error
}

func (e *AIError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", msg, e.wrapped)
	}
	return msg
}

func (e *AIError) Unwrap() error { return e.wrapped }

// NewError builds an AIError explicitly.
func NewError(code ErrorCode, message string, opts ...ErrorOption) *AIError {
	e := &AIError{Code: code, Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WrapError coerces err into an AIError with the provided code. An error that
// is already an AIError keeps its original classification.
func WrapError(err error, code ErrorCode) *AIError {
	if err == nil {
		return nil
	}
	var ai *AIError
	if errors.As(err, &ai) {
		return ai
	}
	return &AIError{Code: code, Message: err.Error(), wrapped: err}
}

// ErrorOption mutates an AIError during construction.
type ErrorOption func(*AIError)

// WithStatus sets the upstream HTTP status code.
func WithStatus(status int) ErrorOption {
	return func(e *AIError) { e.Status = status }
}

// WithProvider names the provider the error originated from.
func WithProvider(name string) ErrorOption {
	return func(e *AIError) { e.Provider = name }
}

// WithRetryAfter sets a retry-after hint in seconds.
func WithRetryAfter(seconds int64) ErrorOption {
	return func(e *AIError) { e.RetryAfter = seconds }
}

// WithWrapped attaches an underlying error.
func WithWrapped(err error) ErrorOption {
	return func(e *AIError) { e.wrapped = err }
}

func classify(code ErrorCode) func(error) bool {
	return func(err error) bool {
		if err == nil {
			return false
		}
		var ai *AIError
		if errors.As(err, &ai) {
			return ai.Code == code
		}
		return false
	}
}

// Predicates for common handling patterns.
var (
	IsUnavailable     = classify(ErrUnavailable)
	IsInvalidModel    = classify(ErrInvalidModel)
	IsRateLimited     = classify(ErrRateLimited)
	IsUpstream        = classify(ErrUpstream)
	IsUnknownProvider = classify(ErrUnknownProvider)
	IsProtocol        = classify(ErrProtocol)
	IsCanceled        = classify(ErrCanceled)
)

// IsRetryable reports whether the retry policy may attempt the call again.
// RateLimited failures and 5xx upstream responses retry; everything else,
// including malformed requests and local failures, is fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ai *AIError
	if !errors.As(err, &ai) {
		return false
	}
	switch ai.Code {
	case ErrRateLimited:
		return true
	case ErrUpstream:
		return ai.Status >= 500
	default:
		return false
	}
}

// ErrorCodeOf extracts the code, defaulting to ErrInternal for untyped errors.
func ErrorCodeOf(err error) ErrorCode {
	var ai *AIError
	if errors.As(err, &ai) {
		return ai.Code
	}
	return ErrInternal
}
