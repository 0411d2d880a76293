package scanning

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedInput means the request itself cannot be processed (empty
	// data, unknown media type). It is never retried.
	ErrUnsupportedInput = errors.New("unsupported input")
	// ErrUnavailable means the engine is not configured or cannot be reached.
	ErrUnavailable = errors.New("engine unavailable")
	// ErrMalformedOutput means the engine answered with structure that could
	// not be parsed even after salvage.
	ErrMalformedOutput = errors.New("malformed engine output")
	// ErrRemote means the engine reported a failure (throttling, server error).
	ErrRemote = errors.New("remote engine error")
)

// MalformedOutputError keeps the original engine text for diagnostics.
type MalformedOutputError struct {
	Engine string
	Raw    string
	Err    error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Engine, ErrMalformedOutput, e.Err)
}

func (e *MalformedOutputError) Unwrap() []error {
	return []error{ErrMalformedOutput, e.Err}
}

// RemoteError is a failure reported by the remote engine.
type RemoteError struct {
	Engine string
	Status int // HTTP status when known
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Engine, ErrRemote, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Engine, ErrRemote, e.Err)
}

func (e *RemoteError) Unwrap() []error {
	return []error{ErrRemote, e.Err}
}

// remoteError wraps err as a RemoteError unless it already carries one of the
// taxonomy sentinels.
func remoteError(engine string, status int, err error) error {
	if errors.Is(err, ErrUnsupportedInput) || errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrMalformedOutput) || errors.Is(err, ErrRemote) {
		return err
	}
	return &RemoteError{Engine: engine, Status: status, Err: err}
}
