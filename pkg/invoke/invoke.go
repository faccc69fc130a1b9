// Package invoke calls the remote functions that run transcription, response
// generation and synthesis. Callers can tell apart a function that ran and
// reported an error (*FunctionError) from one that could not be reached
// (ErrUnreachable) or did not answer in time (context.DeadlineExceeded).
package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Mode selects how a function is invoked.
type Mode int

const (
	// ModeSync waits for the function and returns its result.
	ModeSync Mode = iota
	// ModeAsync queues the invocation and returns once it is accepted.
	ModeAsync
)

func (m Mode) String() string {
	if m == ModeAsync {
		return "async"
	}
	return "sync"
}

// ErrUnreachable wraps transport-level failures: the function never ran or
// its answer was lost.
var ErrUnreachable = errors.New("invoke: function unreachable")

// Result is the outcome of a synchronous invocation.
type Result struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the function answered with a 2xx status.
func (r *Result) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the body into v.
func (r *Result) Decode(v any) error {
	if r == nil || len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Message extracts a human-readable message from the body, if any.
func (r *Result) Message() string {
	if r == nil {
		return ""
	}
	return messageFrom(r.Body)
}

// Invoker runs a named remote function with a JSON-encodable payload.
// ModeAsync returns (nil, nil) once the invocation is accepted.
type Invoker interface {
	Invoke(ctx context.Context, function string, payload any, mode Mode) (*Result, error)
}

// FunctionError means the function ran and reported a failure.
type FunctionError struct {
	Function   string
	Type       string
	Message    string
	StatusCode int
}

// Error implements the error interface.
func (e *FunctionError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("invoke: function %s reported error [%s]: %s", e.Function, e.Type, e.Message)
	}
	return fmt.Sprintf("invoke: function %s reported error: %s", e.Function, e.Message)
}

// IsFunctionError reports whether err carries a *FunctionError.
func IsFunctionError(err error) bool {
	var fe *FunctionError
	return errors.As(err, &fe)
}

// IsUnreachable reports whether err is a transport failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func unreachable(function string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnreachable, function, err)
}

// parseFunctionError reads the {"errorMessage","errorType"} body that
// function runtimes return for unhandled errors.
func parseFunctionError(function, errType string, status int, body []byte) *FunctionError {
	fe := &FunctionError{Function: function, Type: errType, StatusCode: status}
	var payload struct {
		ErrorMessage string `json:"errorMessage"`
		ErrorType    string `json:"errorType"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.ErrorMessage != "" {
		fe.Message = payload.ErrorMessage
		if payload.ErrorType != "" {
			fe.Type = payload.ErrorType
		}
		return fe
	}
	fe.Message = messageFrom(body)
	if fe.Message == "" {
		fe.Message = "unknown error"
	}
	return fe
}

func messageFrom(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var fields struct {
		Message      string `json:"message"`
		Error        string `json:"error"`
		ErrorMessage string `json:"errorMessage"`
		Details      string `json:"details"`
	}
	if err := json.Unmarshal(body, &fields); err == nil {
		for _, s := range []string{fields.Message, fields.Error, fields.ErrorMessage, fields.Details} {
			if s != "" {
				return s
			}
		}
		return ""
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
