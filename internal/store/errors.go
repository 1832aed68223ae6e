package store

import "errors"

var (
	// ErrNotFound is returned when a dialog, course, or question does not
	// exist on disk. Callers that want the spec's "missing → nil" semantics
	// should treat this as a sentinel and translate it to a nil return, not
	// propagate it as a hard failure.
	ErrNotFound = errors.New("store: not found")

	// ErrCourseClosed is returned by AppendEvent when the caller tries to
	// append to a course lower than the current one: once course N closes,
	// new events go to N+1, never back to N.
	ErrCourseClosed = errors.New("store: course closed")

	// ErrDeadImmutable is returned when a mutator attempts to move a dialog's
	// run-state away from dead. dead is write-once.
	ErrDeadImmutable = errors.New("store: run state is dead, no further transitions")

	// ErrInvalidStatus is returned for a persistence status outside
	// {running, completed, archived}.
	ErrInvalidStatus = errors.New("store: invalid persistence status")
)
