package state

import (
	"errors"
	"fmt"
)

// ErrNoWorkflow is returned by workflow mutations when no workflow is active.
var ErrNoWorkflow = errors.New("no active workflow")

// MissingKeyError reports a required key that is absent from the state
// document. Hint names the command that sets the key, so the caller can print
// an actionable remediation instead of a bare failure.
type MissingKeyError struct {
	Key  string
	Hint string
}

func (e *MissingKeyError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("required state key %q is not set (set it with: %s)", e.Key, e.Hint)
	}
	return fmt.Sprintf("required state key %q is not set", e.Key)
}

// CorruptError reports an on-disk document that failed to parse. It is fatal:
// the store never resets a corrupt document to empty.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("state document %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }
