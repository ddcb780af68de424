package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks a record that failed hard validation. Never retried.
	ErrValidation = errors.New("validation failure")
	// ErrTransientWrite marks a store write that may succeed on retry.
	ErrTransientWrite = errors.New("transient write failure")
	// ErrPermanentWrite marks a chunk write that exhausted its retries.
	ErrPermanentWrite = errors.New("permanent write failure")
	// ErrPermission means the store rejected the operation on policy grounds.
	ErrPermission = errors.New("permission denied by store")
	// ErrStoreUnavailable means the store could not be reached at all.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrAlreadyRunning is returned when a run is already in flight.
	ErrAlreadyRunning = errors.New("import already in progress")
	// ErrMonitorTimeout is returned when a watcher gives up before the job
	// reached a terminal status. The job itself has not failed.
	ErrMonitorTimeout = errors.New("job monitoring timed out")
	// ErrNotFound is returned for unknown job or source ids.
	ErrNotFound = errors.New("not found")
	// ErrUnknownSource is returned when no adapter is registered for a type.
	ErrUnknownSource = errors.New("unknown source type")
)

// ValidationError itemizes why a record was rejected.
type ValidationError struct {
	SourceID string
	Reasons  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %q invalid: %s", e.SourceID, strings.Join(e.Reasons, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// SourceFetchError reports an adapter failure. Fetched records gathered
// before the failure are returned alongside it.
type SourceFetchError struct {
	Source  string
	Fetched int
	Err     error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("fetch from %s failed after %d records: %v", e.Source, e.Fetched, e.Err)
}

func (e *SourceFetchError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err should abort a whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPermission) || errors.Is(err, ErrStoreUnavailable)
}
