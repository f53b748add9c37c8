package rpc

import "fmt"

// CallError is the error branch of a CallResult.
type CallError struct {
	// Message is human-readable and safe to show to the user.
	Message string
	// Code is the JSON-RPC error code or HTTP status, when one was reported.
	Code *int
}

// Error implements error.
func (e *CallError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != nil {
		return fmt.Sprintf("%s (code %d)", e.Message, *e.Code)
	}
	return e.Message
}

// CallResult is the envelope returned by every call: exactly one of Data and
// Error is set.
type CallResult[T any] struct {
	Data  *T
	Error *CallError
}

// OK reports whether the call succeeded.
func (r CallResult[T]) OK() bool {
	return r.Error == nil && r.Data != nil
}

// Err returns the error branch as an error, or nil.
func (r CallResult[T]) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

func succeed[T any](v T) CallResult[T] {
	return CallResult[T]{Data: &v}
}

func fail[T any](code *int, format string, args ...any) CallResult[T] {
	return CallResult[T]{Error: &CallError{Message: fmt.Sprintf(format, args...), Code: code}}
}

func intPtr(v int) *int { return &v }
