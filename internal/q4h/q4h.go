// Package q4h implements the Ask-Human (Q4H) Queue (§4.9): persistence of
// pending askHuman questions, the merge policy for several simultaneous
// askHuman calls in one generation, and answer fan-out back to every call
// that question covers.
//
// Grounded on internal/policy/approval's pending-request/notify
// architecture (the same "register one outstanding request, notify
// subscribers, resolve it later" shape), rewritten around HumanQuestion
// persistence instead of an in-memory-only approval gate: Q4H questions
// must survive a process restart, so the pending set lives in
// internal/store rather than a manager-local map.
package q4h

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"dominds/internal/store"
)

// Notifier broadcasts Q4H lifecycle events to connected clients. Grounded
// on approval.Notifier's BroadcastAll-based shape.
type Notifier interface {
	BroadcastAll(messageType string, data any) error
}

// ResultReceiver is implemented by whatever owns a dialog's in-memory
// message history; Answer calls it once per callId the answered question
// covers so each originating special call gets its own
// teammate_response_record anchor (§4.6).
type ResultReceiver interface {
	ReceiveTeammateCallResult(id store.DialogID, callID string, answerText string) error
}

// PendingCall describes one unresolved askHuman invocation from a single
// drive round, before it is merged into a persisted HumanQuestion.
type PendingCall struct {
	CallID         string
	TellaskContent string
	CallSiteRef    store.CallSiteRef
}

// Manager is the Q4H Queue. One Manager serves the whole workspace; it reads
// and writes through the shared Event Store.
type Manager struct {
	store    *store.Store
	notifier Notifier
}

// NewManager constructs a Manager. notifier may be nil, in which case
// lifecycle events are simply not broadcast (tests, offline tooling).
func NewManager(s *store.Store, notifier Notifier) *Manager {
	return &Manager{store: s, notifier: notifier}
}

// AskHuman persists one or more simultaneous askHuman calls from the same
// drive round as a single primary HumanQuestion. When calls has more than
// one entry, the first becomes the primary call and the rest are recorded
// as RemainingCallIDs, with a numbered combined body so a human answers
// once for all of them (§4.9 "merging policy for simultaneous multi-askHuman
// in one generation").
func (m *Manager) AskHuman(id store.DialogID, agentID, taskDocPath string, calls []PendingCall, course int) (*store.HumanQuestion, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("q4h: AskHuman called with no pending calls")
	}
	primary := calls[0]
	q := store.HumanQuestion{
		ID:             questionID(id.RootID, id.SelfID, course, primary.CallID),
		RootID:         id.RootID,
		SelfID:         id.SelfID,
		AgentID:        agentID,
		TaskDocPath:    taskDocPath,
		TellaskContent: mergedBody(calls),
		AskedAt:        time.Now(),
		CallID:         primary.CallID,
		CallSiteRef:    primary.CallSiteRef,
	}
	for _, c := range calls[1:] {
		q.RemainingCallIDs = append(q.RemainingCallIDs, c.CallID)
	}

	if err := m.store.AppendQuestion(id, q); err != nil {
		return nil, err
	}
	if err := m.store.AppendEvent(id, store.Event{
		Course: course,
		Type:   "q4h_asked",
		CallID: primary.CallID,
		Payload: map[string]any{
			"question_id":       q.ID,
			"remaining_call_ids": q.RemainingCallIDs,
		},
	}); err != nil {
		return nil, err
	}

	if m.notifier != nil {
		_ = m.notifier.BroadcastAll("new_q4h_asked", q)
	}
	return &q, nil
}

func questionID(rootID, selfID string, course int, callID string) string {
	return "q4h-" + rootID + "-" + selfID + "-c" + strconv.Itoa(course) + "-" + callID
}

// mergedBody renders the numbered body for N>=1 simultaneous
// askHuman calls: a plain passthrough for one call, a numbered list for more.
func mergedBody(calls []PendingCall) string {
	if len(calls) == 1 {
		return calls[0].TellaskContent
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d questions waiting:\n", len(calls))
	for i, c := range calls {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.TellaskContent)
	}
	return b.String()
}

// AllPending returns every pending question across every running root,
// the global view the human-facing UI reads from (§4.9).
func (m *Manager) AllPending() ([]store.HumanQuestion, error) {
	return m.store.LoadAllQuestions()
}

// AnswerOutcome reports what Answer did so the caller can decide whether to
// drive id immediately or merely queue it.
type AnswerOutcome struct {
	Question        store.HumanQuestion
	HasOtherPending bool
}

// Answer resolves questionID on dialog id with answerText: it removes the
// persisted question, fans answerText out to receiver for {CallID} ∪
// RemainingCallIDs (so every originating call gets its own response
// anchor), and emits q4h_answered. The caller is responsible for deciding
// whether to drive id immediately or queue it as upNext based on
// HasOtherPending — per §4.9, if id still has a pending subdialog from the
// same batch (a tellask alongside the askHuman), the answer is queued rather
// than driving immediately, to avoid interleaving with the subdialog's reply.
func (m *Manager) Answer(id store.DialogID, questionID, answerText string, course int, receiver ResultReceiver) (*AnswerOutcome, error) {
	removed, err := m.store.RemoveQuestion(id, questionID)
	if err != nil {
		return nil, err
	}

	callIDs := append([]string{removed.CallID}, removed.RemainingCallIDs...)
	for _, callID := range callIDs {
		if err := receiver.ReceiveTeammateCallResult(id, callID, answerText); err != nil {
			return nil, err
		}
	}

	if err := m.store.AppendEvent(id, store.Event{
		Course: course,
		Type:   "q4h_answered",
		CallID: removed.CallID,
		Payload: map[string]any{
			"question_id": removed.ID,
			"answer":      answerText,
		},
	}); err != nil {
		return nil, err
	}
	if m.notifier != nil {
		_ = m.notifier.BroadcastAll("q4h_answered", removed)
	}

	pending, err := m.store.LoadPendingSubdialogs(id)
	if err != nil {
		return nil, err
	}

	return &AnswerOutcome{Question: *removed, HasOtherPending: len(pending) != 0}, nil
}

// HasPendingQuestion reports whether id currently has any unresolved
// question, the gate Reply Routing's revival check consults
// (shouldRevive := !hasPendingQ4H(parent) && ...) (§4.6).
func (m *Manager) HasPendingQuestion(id store.DialogID) (bool, error) {
	qs, err := m.store.LoadAllQuestions()
	if err != nil {
		return false, err
	}
	for _, q := range qs {
		if q.RootID == id.RootID && q.SelfID == id.SelfID {
			return true, nil
		}
	}
	return false, nil
}
