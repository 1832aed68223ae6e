package q4h

import (
	"testing"
	"time"

	"dominds/internal/store"
)

type fakeReceiver struct {
	calls map[string]string
}

func newFakeReceiver() *fakeReceiver { return &fakeReceiver{calls: make(map[string]string)} }

func (f *fakeReceiver) ReceiveTeammateCallResult(id store.DialogID, callID, answerText string) error {
	f.calls[callID] = answerText
	return nil
}

func newTestManager(t *testing.T) (*Manager, store.DialogID) {
	t.Helper()
	s := store.New(t.TempDir())
	id := store.DialogID{SelfID: "root-1", RootID: "root-1"}
	if err := s.CreateRootDialog(store.Metadata{ID: id, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRootDialog: %v", err)
	}
	return NewManager(s, nil), id
}

func TestAskHumanSingleCall(t *testing.T) {
	m, id := newTestManager(t)

	q, err := m.AskHuman(id, "lead", "tasks/t1.md", []PendingCall{
		{CallID: "call-1", TellaskContent: "which vendor?"},
	}, 1)
	if err != nil {
		t.Fatalf("AskHuman: %v", err)
	}
	if q.TellaskContent != "which vendor?" {
		t.Errorf("TellaskContent = %q, want passthrough for a single call", q.TellaskContent)
	}
	if len(q.RemainingCallIDs) != 0 {
		t.Errorf("RemainingCallIDs = %v, want empty for a single call", q.RemainingCallIDs)
	}

	pending, err := m.AllPending()
	if err != nil {
		t.Fatalf("AllPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != q.ID {
		t.Fatalf("AllPending = %+v, want just the question just asked", pending)
	}
}

func TestAskHumanMergesSimultaneousCalls(t *testing.T) {
	m, id := newTestManager(t)

	q, err := m.AskHuman(id, "lead", "tasks/t1.md", []PendingCall{
		{CallID: "call-1", TellaskContent: "pick a vendor"},
		{CallID: "call-2", TellaskContent: "pick a budget"},
	}, 1)
	if err != nil {
		t.Fatalf("AskHuman: %v", err)
	}
	if q.CallID != "call-1" {
		t.Errorf("primary CallID = %q, want call-1", q.CallID)
	}
	if len(q.RemainingCallIDs) != 1 || q.RemainingCallIDs[0] != "call-2" {
		t.Errorf("RemainingCallIDs = %v, want [call-2]", q.RemainingCallIDs)
	}
	if q.TellaskContent == "pick a vendor" {
		t.Error("merged body should combine both questions, not pass through one")
	}
}

func TestAnswerFansOutToEveryCallID(t *testing.T) {
	m, id := newTestManager(t)
	q, err := m.AskHuman(id, "lead", "tasks/t1.md", []PendingCall{
		{CallID: "call-1", TellaskContent: "pick a vendor"},
		{CallID: "call-2", TellaskContent: "pick a budget"},
	}, 1)
	if err != nil {
		t.Fatalf("AskHuman: %v", err)
	}

	recv := newFakeReceiver()
	outcome, err := m.Answer(id, q.ID, "acme, $10k", 1, recv)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if outcome.HasOtherPending {
		t.Error("HasOtherPending = true, want false after answering the only question")
	}
	if recv.calls["call-1"] != "acme, $10k" || recv.calls["call-2"] != "acme, $10k" {
		t.Errorf("receiver calls = %+v, want both call-1 and call-2 answered", recv.calls)
	}

	pending, err := m.AllPending()
	if err != nil {
		t.Fatalf("AllPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("AllPending after answer = %+v, want empty", pending)
	}
}

func TestAnswerHasOtherPendingWhenSubdialogStillOutstanding(t *testing.T) {
	m, id := newTestManager(t)
	q, err := m.AskHuman(id, "lead", "tasks/t1.md", []PendingCall{
		{CallID: "call-1", TellaskContent: "pick a vendor"},
	}, 1)
	if err != nil {
		t.Fatalf("AskHuman: %v", err)
	}

	if err := m.store.MutatePendingSubdialogs(id, func(list []store.PendingSubdialogRecord) ([]store.PendingSubdialogRecord, error) {
		return append(list, store.PendingSubdialogRecord{SubdialogID: "sub-1", CallID: "call-2", CallType: store.CallTypeA}), nil
	}); err != nil {
		t.Fatalf("MutatePendingSubdialogs: %v", err)
	}

	recv := newFakeReceiver()
	outcome, err := m.Answer(id, q.ID, "acme", 1, recv)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !outcome.HasOtherPending {
		t.Error("HasOtherPending = false, want true while a sibling subdialog is still pending")
	}
}

func TestHasPendingQuestion(t *testing.T) {
	m, id := newTestManager(t)

	has, err := m.HasPendingQuestion(id)
	if err != nil {
		t.Fatalf("HasPendingQuestion: %v", err)
	}
	if has {
		t.Error("HasPendingQuestion should be false before any askHuman")
	}

	if _, err := m.AskHuman(id, "lead", "tasks/t1.md", []PendingCall{
		{CallID: "call-1", TellaskContent: "pick a vendor"},
	}, 1); err != nil {
		t.Fatalf("AskHuman: %v", err)
	}

	has, err = m.HasPendingQuestion(id)
	if err != nil {
		t.Fatalf("HasPendingQuestion: %v", err)
	}
	if !has {
		t.Error("HasPendingQuestion should be true after askHuman")
	}
}
