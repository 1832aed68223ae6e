package specialcall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dominds/internal/dialog"
	"dominds/internal/drivetypes"
	"dominds/internal/provider"
	"dominds/internal/q4h"
	"dominds/internal/registry"
	"dominds/internal/store"
)

// ReplyTarget and DriveOptions are the shared shapes internal/reply and
// internal/drive also consume; see dominds/internal/drivetypes.
type ReplyTarget = drivetypes.ReplyTarget
type DriveOptions = drivetypes.DriveOptions

// Driver is the narrow slice of the Drive Executor (internal/drive) that
// the Special-Call Executor depends on: driving a dialog inline (Type A's
// synchronous supdialog invocation, FBR's serial rounds) or scheduling one
// asynchronously (Type B/C callee rounds). Aliased from drivetypes so
// internal/drive's concrete executor satisfies it structurally without any
// package importing another's concrete types in a cycle.
type Driver = drivetypes.Driver

// CallerInfo describes the dialog that emitted this batch of calls. Root is
// always the enclosing root; Sub is non-nil iff the caller is itself a
// subdialog (needed for tellaskBack's target and the FBR self-call check).
type CallerInfo struct {
	ID          store.DialogID
	AgentID     string
	TaskDocPath string
	Root        *dialog.RootDialog
	Sub         *dialog.SubDialog // nil when the caller is the root itself
}

func (c CallerInfo) isSubdialog() bool { return c.Sub != nil }

// Result is everything the Special-Call Executor produced for one batch:
// tool-output messages to append to the caller's context (one per raw
// call, success or failure) and whether the caller should be marked
// suspended this round (§4.5 "plus a suspend flag").
type Result struct {
	ToolMessages []provider.Message
	ParseIssues  []ParseIssue
	Suspend      bool
}

// AgentResolver supplies per-agent configuration the executor needs but
// does not own: the default fresh-boots-reasoning effort. Implemented by whatever loads
// the workspace's YAML agent/team configuration, treated as an external
// collaborator per §1.
type AgentResolver interface {
	DefaultFBREffort(agentID string) int
}

// IDGenerator mints opaque ids for newly spawned subdialogs.
type IDGenerator func() string

// Executor is the Special-Call Executor (§4.5).
type Executor struct {
	store    *store.Store
	registry *registry.Registry
	driver   Driver
	q4h      *q4h.Manager
	agents   AgentResolver
	newID    IDGenerator
}

// New constructs an Executor wired to its collaborators.
func New(s *store.Store, reg *registry.Registry, driver Driver, q *q4h.Manager, agents AgentResolver, newID IDGenerator) *Executor {
	return &Executor{store: s, registry: reg, driver: driver, q4h: q, agents: agents, newID: newID}
}

// Execute parses, classifies, and executes every raw call in one
// generation's batch against caller, returning the side-effect vector the
// Drive Executor feeds back into the dialog's context (§4.5).
func (e *Executor) Execute(ctx context.Context, caller CallerInfo, raws []RawCall, course int) (*Result, error) {
	valid, issues := ParseBatch(raws)
	result := &Result{ParseIssues: issues}

	for _, issue := range issues {
		result.ToolMessages = append(result.ToolMessages, e.failureMessage(caller, issue.CallID, course, "", issue.Err))
	}

	// askHuman calls are merged across the whole batch before anything else
	// executes, per §4.5 "multiple in one batch are merged into a single
	// prompt" and §4.9.
	var askHumanCalls []ParsedCall
	var rest []ParsedCall
	for _, pc := range valid {
		if pc.Name == store.CallAskHuman {
			askHumanCalls = append(askHumanCalls, pc)
		} else {
			rest = append(rest, pc)
		}
	}

	if len(askHumanCalls) > 0 {
		msg, suspend, err := e.executeAskHuman(caller, askHumanCalls, course)
		if err != nil {
			for _, pc := range askHumanCalls {
				result.ToolMessages = append(result.ToolMessages, e.failureMessage(caller, pc.CallID, course, string(pc.Name), err))
			}
		} else {
			result.ToolMessages = append(result.ToolMessages, msg)
			result.Suspend = result.Suspend || suspend
		}
	}

	for _, pc := range rest {
		msg, suspend, err := e.executeOne(ctx, caller, pc, course)
		if err != nil {
			result.ToolMessages = append(result.ToolMessages, e.failureMessage(caller, pc.CallID, course, string(pc.Name), err))
			continue
		}
		result.ToolMessages = append(result.ToolMessages, msg)
		result.Suspend = result.Suspend || suspend
	}

	return result, nil
}

func (e *Executor) executeOne(ctx context.Context, caller CallerInfo, pc ParsedCall, course int) (provider.Message, bool, error) {
	callType, err := Classify(pc, caller.isSubdialog())
	if err != nil {
		return provider.Message{}, false, err
	}

	// Self-call invariant: for non-FBR calls, targetAgentId == caller's own
	// agentId is a direct-self-call error (§4.5).
	if pc.Name != store.CallFreshBootsReasoning && pc.Name != store.CallTellaskBack && pc.TargetAgentID == caller.AgentID {
		return provider.Message{}, false, ErrDirectSelfCall
	}

	switch pc.Name {
	case store.CallTellaskBack:
		return e.executeTypeA(ctx, caller, pc, course)
	case store.CallTellask:
		return e.executeTypeB(caller, pc, course, callType)
	case store.CallTellaskSessionless:
		return e.executeTypeC(caller, pc, course)
	case store.CallFreshBootsReasoning:
		return e.executeFBR(ctx, caller, pc, course)
	default:
		return provider.Message{}, false, ErrUnknownCall
	}
}

// executeTypeA drives the caller's own supdialog synchronously with the
// caller's tellaskBack reply, then surfaces the supdialog's last assistant
// saying as this call's tool output (§4.5 "Type A execution").
func (e *Executor) executeTypeA(ctx context.Context, caller CallerInfo, pc ParsedCall, course int) (provider.Message, bool, error) {
	supID := caller.Sub.SupdialogRef

	prompt := buildSupdialogPrompt(caller.Sub.AssignmentFromSup, pc.TellaskContent)
	lastSaying, driveErr := e.driver.DriveDialog(ctx, supID, prompt, DriveOptions{WaitInQue: true})

	status := "completed"
	if driveErr != nil {
		status = "failed"
		lastSaying = fmt.Sprintf("supdialog drive failed: %v", driveErr)
	}

	if err := e.store.AppendEvent(caller.ID, store.Event{
		Course: course,
		Type:   store.EventTeammateResponse,
		CallID: pc.CallID,
		Payload: map[string]any{
			"call_name": string(store.CallTellaskBack),
			"status":    status,
			"response":  lastSaying,
		},
	}); err != nil {
		return provider.Message{}, false, err
	}

	return provider.Message{
		Role:       provider.RoleTool,
		ToolCallID: pc.CallID,
		Content:    lastSaying,
	}, false, driveErr
}

func buildSupdialogPrompt(assignment store.AssignmentFromSup, replyContent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your delegate replied to your original request:\n\n%s\n\n---\n\n%s\n", assignment.TellaskContent, replyContent)
	return b.String()
}

// executeTypeB implements §4.5 "Type B execution": look up or create a
// session-keyed subdialog under the root's subdialog-txn lock, replace the
// caller's pending record for it, and schedule the callee drive.
func (e *Executor) executeTypeB(caller CallerInfo, pc ParsedCall, course int, callType store.CallType) (provider.Message, bool, error) {
	root := caller.Root
	var subID store.DialogID

	err := e.store.WithTxnLock(root.ID.RootID, func() error {
		assignment := store.AssignmentFromSup{
			CallName:       store.CallTellask,
			MentionList:    pc.MentionList,
			TellaskContent: pc.TellaskContent,
			CallerDialogID: caller.ID,
			CallID:         pc.CallID,
			SessionSlug:    pc.SessionSlug,
		}

		if selfID, ok := root.SessionLookup(pc.TargetAgentID, pc.SessionSlug); ok {
			latest, err := e.store.LoadLatest(store.DialogID{SelfID: selfID, RootID: root.ID.RootID})
			if err == nil && !latest.RunState.IsDead() {
				subID = store.DialogID{SelfID: selfID, RootID: root.ID.RootID}
				if err := e.store.UpdateSubdialogAssignment(subID, assignment); err != nil {
					return err
				}
				if sub, ok := root.Subdialog(selfID); ok {
					sub.Lock()
					sub.AssignmentFromSup = assignment
					sub.Unlock()
				}
			} else {
				root.SessionPrune(pc.TargetAgentID, pc.SessionSlug)
			}
		}

		if subID.SelfID == "" {
			selfID := e.newID()
			subID = store.DialogID{SelfID: selfID, RootID: root.ID.RootID}
			assignment.OriginMemberID = caller.AgentID
			if err := e.createSubdialog(caller, subID, pc.TargetAgentID, assignment); err != nil {
				return err
			}
			root.SessionRegister(pc.TargetAgentID, pc.SessionSlug, selfID)
		}

		return nil
	})
	if err == nil {
		// MutatePendingSubdialogs takes the same txn lock itself, so it runs
		// after WithTxnLock has released it.
		err = e.store.MutatePendingSubdialogs(caller.ID, func(list []store.PendingSubdialogRecord) ([]store.PendingSubdialogRecord, error) {
			out := make([]store.PendingSubdialogRecord, 0, len(list)+1)
			for _, r := range list {
				if r.SubdialogID != subID.SelfID {
					out = append(out, r)
				}
			}
			out = append(out, store.PendingSubdialogRecord{
				SubdialogID:    subID.SelfID,
				CreatedAt:      time.Now(),
				CallName:       store.CallTellask,
				MentionList:    pc.MentionList,
				TellaskContent: pc.TellaskContent,
				TargetAgentID:  pc.TargetAgentID,
				CallID:         pc.CallID,
				CallingCourse:  course,
				CallType:       store.CallTypeB,
				SessionSlug:    pc.SessionSlug,
			})
			return out, nil
		})
	}
	if err != nil {
		return provider.Message{}, false, err
	}

	e.driver.ScheduleDrive(subID, pc.TellaskContent, DriveOptions{
		SubdialogReplyTarget: &ReplyTarget{OwnerDialogID: caller.ID, CallType: store.CallTypeB, CallID: pc.CallID},
	})

	return e.acceptedMessage(pc.CallID), true, nil
}

// executeTypeC implements §4.5 "Type C execution": always a fresh subdialog,
// no registry entry.
func (e *Executor) executeTypeC(caller CallerInfo, pc ParsedCall, course int) (provider.Message, bool, error) {
	selfID := e.newID()
	subID := store.DialogID{SelfID: selfID, RootID: caller.Root.ID.RootID}
	assignment := store.AssignmentFromSup{
		CallName:       store.CallTellaskSessionless,
		MentionList:    pc.MentionList,
		TellaskContent: pc.TellaskContent,
		OriginMemberID: caller.AgentID,
		CallerDialogID: caller.ID,
		CallID:         pc.CallID,
	}
	if err := e.createSubdialog(caller, subID, pc.TargetAgentID, assignment); err != nil {
		return provider.Message{}, false, err
	}

	if err := e.appendPendingRecord(caller.ID, subID.SelfID, pc, course, store.CallTypeC); err != nil {
		return provider.Message{}, false, err
	}

	e.driver.ScheduleDrive(subID, pc.TellaskContent, DriveOptions{
		SubdialogReplyTarget: &ReplyTarget{OwnerDialogID: caller.ID, CallType: store.CallTypeC, CallID: pc.CallID},
	})

	return e.acceptedMessage(pc.CallID), true, nil
}

// createSubdialog persists and registers a brand-new subdialog under
// caller's root, keyed under targetAgentID.
func (e *Executor) createSubdialog(caller CallerInfo, subID store.DialogID, targetAgentID string, assignment store.AssignmentFromSup) error {
	now := time.Now()
	meta := store.Metadata{
		ID:                subID,
		AgentID:           targetAgentID,
		TaskDocPath:       caller.TaskDocPath,
		CreatedAt:         now,
		SupdialogRef:      &caller.ID,
		RootDialogRef:     &caller.Root.ID,
		AssignmentFromSup: &assignment,
		SessionSlug:       assignment.SessionSlug,
	}
	parentChain := []string{caller.Root.ID.RootID}
	if caller.Sub != nil {
		parentChain = append(parentChain, caller.ID.SelfID)
	}
	if err := e.store.CreateSubDialog(meta, parentChain); err != nil {
		return err
	}
	sub := dialog.NewSubDialog(subID, targetAgentID, caller.TaskDocPath, now, caller.ID, caller.Root.ID, assignment)
	caller.Root.RegisterSubdialog(sub)
	return nil
}

func (e *Executor) appendPendingRecord(callerID store.DialogID, subdialogID string, pc ParsedCall, course int, callType store.CallType) error {
	return e.store.MutatePendingSubdialogs(callerID, func(list []store.PendingSubdialogRecord) ([]store.PendingSubdialogRecord, error) {
		filtered := make([]store.PendingSubdialogRecord, 0, len(list)+1)
		for _, r := range list {
			if r.SubdialogID != subdialogID {
				filtered = append(filtered, r)
			}
		}
		filtered = append(filtered, store.PendingSubdialogRecord{
			SubdialogID:    subdialogID,
			CreatedAt:      time.Now(),
			CallName:       pc.Name,
			MentionList:    pc.MentionList,
			TellaskContent: pc.TellaskContent,
			TargetAgentID:  pc.TargetAgentID,
			CallID:         pc.CallID,
			CallingCourse:  course,
			CallType:       callType,
		})
		return filtered, nil
	})
}

// executeAskHuman persists the merged Q4H question for every askHuman call
// in the batch (§4.9) and always suspends the caller.
func (e *Executor) executeAskHuman(caller CallerInfo, calls []ParsedCall, course int) (provider.Message, bool, error) {
	pending := make([]q4h.PendingCall, len(calls))
	for i, pc := range calls {
		pending[i] = q4h.PendingCall{
			CallID:         pc.CallID,
			TellaskContent: pc.TellaskContent,
			CallSiteRef:    store.CallSiteRef{Course: course},
		}
	}
	q, err := e.q4h.AskHuman(caller.ID, caller.AgentID, caller.TaskDocPath, pending, course)
	if err != nil {
		return provider.Message{}, false, err
	}
	return provider.Message{
		Role:       provider.RoleTool,
		ToolCallID: calls[0].CallID,
		Content:    fmt.Sprintf("Question queued for a human (id=%s).", q.ID),
	}, true, nil
}

func (e *Executor) acceptedMessage(callID string) provider.Message {
	return provider.Message{
		Role:       provider.RoleTool,
		ToolCallID: callID,
		Content:    "Delegated. Waiting for a reply.",
	}
}

// failureMessage builds the "environment" tool-output message a failed call
// produces, visible to the model (§4.5 "Side outputs").
func (e *Executor) failureMessage(caller CallerInfo, callID string, course int, callName string, cause error) provider.Message {
	_ = e.store.AppendEvent(caller.ID, store.Event{
		Course: course,
		Type:   store.EventToolResult,
		CallID: callID,
		Payload: map[string]any{
			"call_name": callName,
			"status":    "failed",
			"error":     cause.Error(),
		},
	})
	return provider.Message{
		Role:       provider.RoleTool,
		ToolCallID: callID,
		Content:    fmt.Sprintf("Call failed: %v", cause),
	}
}
