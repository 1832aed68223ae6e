package scheduler

import "errors"

var (
	// ErrDialogClosed is returned when enqueuing onto a queue whose worker has
	// already torn down (idle timeout or explicit Cancel), and is delivered on
	// the result channel of every round still queued when Cancel or Shutdown
	// tears the queue down.
	ErrDialogClosed = errors.New("dialog queue closed")

	// ErrQueueFull is returned when a dialog's queue is at capacity.
	ErrQueueFull = errors.New("drive queue full")

	// ErrRunCancelled is returned when a queued round panics. A round whose
	// context is cancelled mid-execution reports whatever error its own
	// function returns.
	ErrRunCancelled = errors.New("drive round cancelled")
)
