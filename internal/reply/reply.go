// Package reply implements Reply Routing and Revival (§4.6): once a callee
// dialog produces a final assistant saying, this locates the waiting
// caller, writes a teammate-response record anchored to the original
// assignment, and revives the caller once all of its blockers have
// cleared.
//
// Grounded on internal/specialcall's pending-subdialog-record shape (the
// caller side of the same contract) and internal/q4h's merge-then-fan-out
// pattern for resolving one event into several call-scoped outcomes.
package reply

import (
	"fmt"
	"strings"

	"dominds/internal/dialog"
	"dominds/internal/drivetypes"
	"dominds/internal/provider"
	"dominds/internal/q4h"
	"dominds/internal/registry"
	"dominds/internal/store"
)

// Router is the Reply Routing and Revival engine.
type Router struct {
	store    *store.Store
	registry *registry.Registry
	q4h      *q4h.Manager
	driver   drivetypes.Driver
}

// New constructs a Router wired to its collaborators.
func New(s *store.Store, reg *registry.Registry, q *q4h.Manager, driver drivetypes.Driver) *Router {
	return &Router{store: s, registry: reg, q4h: q, driver: driver}
}

// SupplyResponseToSupdialog is the contract a finished callee dialog
// (calleeID) invokes against its caller. target names which pending call
// this reply resolves; course is the parent's current course, the one the
// teammate_response_record is appended to.
func (r *Router) SupplyResponseToSupdialog(calleeID store.DialogID, target drivetypes.ReplyTarget, course int) error {
	parentID := target.OwnerDialogID

	calleeMeta, err := r.store.LoadMetadata(calleeID)
	if err != nil {
		return fmt.Errorf("reply: load callee metadata: %w", err)
	}

	record, err := r.consumePendingRecord(parentID, calleeID.SelfID, target.CallType)
	if err != nil {
		return fmt.Errorf("reply: consume pending record: %w", err)
	}

	callID := target.CallID
	var callName store.CallName
	callType := target.CallType
	switch {
	case record != nil:
		callName = record.CallName
		callType = record.CallType
		if callID == "" {
			callID = record.CallID
		}
	case calleeMeta.AssignmentFromSup != nil:
		// The entry is already gone — a race with declare-dead or a
		// duplicate reply. Fall back to the callee's own persisted
		// assignment metadata (§4.6 step 2).
		callName = calleeMeta.AssignmentFromSup.CallName
		if callID == "" {
			callID = calleeMeta.AssignmentFromSup.CallID
		}
	}

	body, err := r.composeResponseBody(calleeID, callName, callType)
	if err != nil {
		return err
	}

	if err := r.writeResponseAnchor(calleeID, callID); err != nil {
		return err
	}

	if err := r.receiveTeammateResponse(parentID, callID, callName, body, course); err != nil {
		return err
	}

	return r.checkRevival(parentID, callType)
}

// consumePendingRecord removes and returns the parent's pending-subdialog
// entry for subdialogID. If wantCallType is non-empty and disagrees with
// the matching record's callType, the record is treated as stale and left
// in place — the reply falls back to assignment-based resolution instead
// (§4.6 "Tie-breaks").
func (r *Router) consumePendingRecord(parentID store.DialogID, subdialogID string, wantCallType store.CallType) (*store.PendingSubdialogRecord, error) {
	var found *store.PendingSubdialogRecord
	err := r.store.MutatePendingSubdialogs(parentID, func(list []store.PendingSubdialogRecord) ([]store.PendingSubdialogRecord, error) {
		out := make([]store.PendingSubdialogRecord, 0, len(list))
		for _, rec := range list {
			if found == nil && rec.SubdialogID == subdialogID {
				if wantCallType != "" && rec.CallType != wantCallType {
					out = append(out, rec)
					continue
				}
				rc := rec
				found = &rc
				continue
			}
			out = append(out, rec)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// composeResponseBody builds the text the caller receives. FBR Type-C
// completions with more than one round get an "upstream relay": every
// round's saying, labeled, followed by a distill note asking the supdialog
// to synthesize across rounds (§4.6 step 3). Everything else is just the
// callee's last assistant saying (step 4).
func (r *Router) composeResponseBody(calleeID store.DialogID, callName store.CallName, callType store.CallType) (string, error) {
	events, err := r.store.LoadAllEvents(calleeID)
	if err != nil {
		return "", fmt.Errorf("reply: load callee events: %w", err)
	}

	var sayings []string
	for _, ev := range events {
		if ev.Type != store.EventSayingStreamFinish {
			continue
		}
		if content, ok := ev.Payload["content"].(string); ok && content != "" {
			sayings = append(sayings, content)
		}
	}
	if len(sayings) == 0 {
		return "", nil
	}

	if callName == store.CallFreshBootsReasoning && callType == store.CallTypeC && len(sayings) > 1 {
		var b strings.Builder
		for i, s := range sayings {
			fmt.Fprintf(&b, "--- Round %d ---\n%s\n\n", i+1, s)
		}
		b.WriteString("Synthesize across every round above: reconcile disagreements, keep what holds up, and state the conclusion you actually believe.")
		return b.String(), nil
	}

	return sayings[len(sayings)-1], nil
}

// writeResponseAnchor records a role=response teammate_call_anchor_record
// on the callee, back-referencing the most recent role=assignment anchor
// for callID (§4.6 step 5). A missing assignment anchor is not an error —
// older callees predating anchor recording simply get no response anchor.
func (r *Router) writeResponseAnchor(calleeID store.DialogID, callID string) error {
	if callID == "" {
		return nil
	}
	events, err := r.store.LoadAllEvents(calleeID)
	if err != nil {
		return fmt.Errorf("reply: load callee events for anchor: %w", err)
	}

	var assignmentSeq int64 = -1
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Type == store.EventTeammateCallAnchor && ev.AnchorRole == store.AnchorAssignment && ev.CallID == callID {
			assignmentSeq = ev.GenSeq
			break
		}
	}
	if assignmentSeq < 0 {
		return nil
	}

	course, err := r.store.CurrentCourseNumber(calleeID)
	if err != nil {
		return err
	}
	return r.store.AppendEvent(calleeID, store.Event{
		Course:     course,
		Type:       store.EventTeammateCallAnchor,
		CallID:     callID,
		AnchorRole: store.AnchorResponse,
		Payload:    map[string]any{"assignment_gen_seq": assignmentSeq},
	})
}

// receiveTeammateResponse appends the teammate_response_record to the
// parent's course log, then mirrors a tool message into the parent's
// in-memory Dialog.Messages so its next drive round sees the reply without
// re-reading disk (§4.6 step 6).
func (r *Router) receiveTeammateResponse(parentID store.DialogID, callID string, callName store.CallName, body string, course int) error {
	if err := r.store.AppendEvent(parentID, store.Event{
		Course: course,
		Type:   store.EventTeammateResponse,
		CallID: callID,
		Payload: map[string]any{
			"call_name": string(callName),
			"response":  body,
		},
	}); err != nil {
		return fmt.Errorf("reply: append teammate response: %w", err)
	}

	d, ok := r.resolveDialog(parentID)
	if !ok {
		// Parent isn't hydrated in memory right now; its next restore reads
		// the mirrored record straight from the course log.
		return nil
	}
	d.Lock()
	d.Messages = append(d.Messages, provider.Message{Role: provider.RoleTool, ToolCallID: callID, Content: body})
	d.Unlock()
	return nil
}

func (r *Router) resolveDialog(id store.DialogID) (*dialog.Dialog, bool) {
	root, ok := r.registry.Get(id.RootID)
	if !ok {
		return nil, false
	}
	if id.IsRoot() {
		return &root.Dialog, true
	}
	sub, ok := root.Subdialog(id.SelfID)
	if !ok {
		return nil, false
	}
	return &sub.Dialog, true
}

// checkRevival implements §4.6 step 7: shouldRevive iff the parent has no
// pending Q4H question and its filtered pending list is now empty. A
// revivable root in the registry gets the persisted-hint + trigger path;
// everything else (a non-root parent, or a root the registry doesn't know
// about) falls back to a direct schedule.
func (r *Router) checkRevival(parentID store.DialogID, callType store.CallType) error {
	hasQ4H, err := r.q4h.HasPendingQuestion(parentID)
	if err != nil {
		return fmt.Errorf("reply: check q4h: %w", err)
	}
	pending, err := r.store.LoadPendingSubdialogs(parentID)
	if err != nil {
		return fmt.Errorf("reply: load pending: %w", err)
	}
	if hasQ4H || len(pending) != 0 {
		return nil
	}

	latest, err := r.store.LoadLatest(parentID)
	if err != nil {
		return fmt.Errorf("reply: load parent run state: %w", err)
	}
	switch latest.RunState.Kind {
	case store.RunDead, store.RunTerminal, store.RunInterrupted:
		// A parent that is dead, terminal, or was explicitly interrupted
		// must not be silently revived by a sibling subdialog's reply; only
		// an explicit resume or a fresh user prompt may start it again
		// (§4.4 step 2b).
		return nil
	}

	root, inRegistry := r.registry.Get(parentID.RootID)
	if parentID.IsRoot() && inRegistry {
		if err := r.store.SetNeedsDrive(parentID, true); err != nil {
			return fmt.Errorf("reply: persist needs_drive: %w", err)
		}
		r.registry.MarkNeedsDrive(parentID.RootID, "reply_routing", "all_pending_subdialogs_resolved:type_"+string(callType))
		return nil
	}

	suppress := inRegistry && root.DisableDiligencePush
	r.driver.ScheduleDrive(parentID, "", drivetypes.DriveOptions{SuppressDiligencePush: suppress})
	return nil
}
