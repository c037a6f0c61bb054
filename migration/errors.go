package migration

import (
	"errors"
	"fmt"
)

// ErrLockContended is returned when another runner already holds the
// migration lock against the target database.
var ErrLockContended = errors.New("migration: another runner holds the migration lock")

// RevisionError reports a migration script that failed during execution.
// The remaining batch is halted; the failing script's work is rolled back
// and its revision recorded as failed.
type RevisionError struct {
	Revision string
	Err      error
}

func (e *RevisionError) Error() string {
	return fmt.Sprintf("migration: revision %s failed: %v", e.Revision, e.Err)
}

func (e *RevisionError) Unwrap() error { return e.Err }

// DiscoveryError reports an invalid script set: a name that does not match
// the ordering pattern, a duplicate name, or a script without an upgrade
// entry point.
type DiscoveryError struct {
	Msg string
}

func (e *DiscoveryError) Error() string {
	return "migration: " + e.Msg
}
