package agent

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a conversation, pending execution, or
	// audit record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConversationBusy is returned when a chat arrives while a driver
	// loop already runs for the same conversation. Never reaches the LLM.
	ErrConversationBusy = errors.New("conversation busy")

	// ErrAlreadyDecided is returned on any decision against a pending
	// execution that already reached a terminal state.
	ErrAlreadyDecided = errors.New("execution already decided")

	// ErrBadModel is returned when the requested model is not in the
	// configured allow-list.
	ErrBadModel = errors.New("unknown model")

	// ErrInvalidInput is returned when request validation fails before
	// any work starts.
	ErrInvalidInput = errors.New("invalid input")
)

// UnknownToolError reports a catalog miss. Fatal to the call, the loop
// continues.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// BadParamsError reports a parameter schema violation. The detail is fed
// back to the LLM so it may correct itself.
type BadParamsError struct {
	Detail string
}

func (e *BadParamsError) Error() string {
	return fmt.Sprintf("invalid parameters: %s", e.Detail)
}

// UnreachableError reports that an external endpoint (cluster or LLM) is
// down. The driver retries once with jittered backoff before giving up.
type UnreachableError struct {
	Cause error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("endpoint unreachable: %v", e.Cause)
}

func (e *UnreachableError) Unwrap() error { return e.Cause }

// APIError reports a non-transport failure from an external API (a 4xx
// from the Kubernetes API server, a rejected LLM request). Surfaced to the
// LLM as a tool result.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Detail)
}

// TimeoutError reports that a tool call exceeded its per-call limit.
// Surfaced as a tool result; never retried.
type TimeoutError struct {
	Tool  string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %q timed out after %s", e.Tool, e.Limit)
}

// IsUnreachable reports whether err is (or wraps) an UnreachableError.
func IsUnreachable(err error) bool {
	var ue *UnreachableError
	return errors.As(err, &ue)
}
