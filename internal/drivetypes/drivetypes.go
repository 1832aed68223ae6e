// Package drivetypes holds the small set of types shared by every package
// that asks the Drive Executor to run or schedule a round (internal/drive,
// internal/specialcall, internal/reply, internal/driver). Factoring these
// out avoids an import cycle between the packages that call the executor
// and the executor itself.
package drivetypes

import (
	"context"

	"dominds/internal/store"
)

// ReplyTarget is attached to a scheduled callee's drive prompt so the Drive
// Executor knows which pending call its eventual reply should resolve
// (§4.4 step 6, §4.6 "tie-breaks").
type ReplyTarget struct {
	OwnerDialogID store.DialogID
	CallType      store.CallType
	CallID        string
}

// DriveOptions mirrors the subset of the Drive Executor's round contract
// (§4.4) that callers outside internal/drive need to pass through.
type DriveOptions struct {
	WaitInQue             bool
	SubdialogReplyTarget  *ReplyTarget
	SuppressDiligencePush bool

	// AllowResumeFromInterrupted lets a round start against a dialog whose
	// run state is interrupted even though the triggering prompt is empty.
	// Set only by callers that represent an explicit, user-driven resume
	// (resume_dialog, resume_all); every other trigger source (registry
	// wakeups, subdialog revival, diligence push) must leave an interrupted
	// dialog alone until a human says otherwise (§4.4 step 2b).
	AllowResumeFromInterrupted bool
}

// Driver is the narrow slice of the Drive Executor that other packages
// depend on: driving a dialog inline and blocking for the result, or
// scheduling one asynchronously. Implemented by internal/drive; consumed by
// internal/specialcall and internal/reply, so it lives here to avoid a
// circular dependency between the three.
type Driver interface {
	// DriveDialog runs one or more drive rounds for id and blocks until they
	// finish, returning the dialog's last assistant saying.
	DriveDialog(ctx context.Context, id store.DialogID, prompt string, opts DriveOptions) (lastSaying string, err error)
	// ScheduleDrive enqueues a non-blocking drive round for id.
	ScheduleDrive(id store.DialogID, prompt string, opts DriveOptions)
}
