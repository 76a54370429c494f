package models

import (
	"errors"
	"fmt"
)

// ErrMalformedEntry marks a fetched or pushed record that does not conform
// to the minimal entry shape. Such records are logged and dropped.
var ErrMalformedEntry = errors.New("malformed entry record")

// FetchError reports a failed snapshot read for a single identity.
// It is non-fatal: that identity contributes zero entries for the round.
type FetchError struct {
	Identity string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("snapshot fetch for %s failed: %v", e.Identity, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SubmissionError reports that the confirmation path for an optimistic
// action failed. The caller is responsible for rolling the action back.
type SubmissionError struct {
	Op  string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission %s failed: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
