package ptyengine

import (
	"errors"
	"fmt"
)

// SpawnError is returned by New when the child process could not be started:
// a missing cwd, an argv[0] not found on PATH, or PTY allocation failure.
type SpawnError struct {
	Reason string
	Err    error
}

func (e *SpawnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ptyengine: spawn failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("ptyengine: spawn failed: %s", e.Reason)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ClosedError is returned by Write/Resize once the PTY master has been
// closed, whether by the child exiting or by Signal.
type ClosedError struct {
	Op string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("ptyengine: %s on closed session", e.Op)
}

// IsClosed reports whether err is (or wraps) a ClosedError.
func IsClosed(err error) bool {
	var target *ClosedError
	return errors.As(err, &target)
}

// IsSpawnError reports whether err is (or wraps) a SpawnError.
func IsSpawnError(err error) bool {
	var target *SpawnError
	return errors.As(err, &target)
}
