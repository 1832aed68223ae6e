package store

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir())
}

func TestCreateAndLoadRootDialog(t *testing.T) {
	s := newTestStore(t)
	id := DialogID{SelfID: "root-1", RootID: "root-1"}

	meta := Metadata{ID: id, AgentID: "lead", TaskDocPath: "tasks/t1.md", CreatedAt: time.Now()}
	if err := s.CreateRootDialog(meta); err != nil {
		t.Fatalf("CreateRootDialog: %v", err)
	}

	got, err := s.LoadMetadata(id)
	if err != nil {
		t.Fatalf("LoadMetadata: %v", err)
	}
	if got.AgentID != "lead" || got.TaskDocPath != "tasks/t1.md" {
		t.Errorf("LoadMetadata = %+v, want AgentID=lead TaskDocPath=tasks/t1.md", got)
	}

	latest, err := s.LoadLatest(id)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if latest.RunState.Kind != RunIdleWaitingUser {
		t.Errorf("initial run state = %q, want idle_waiting_user", latest.RunState.Kind)
	}
	if latest.CurrentCourse != 1 {
		t.Errorf("initial course = %d, want 1", latest.CurrentCourse)
	}
}

func TestLoadMetadataMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadMetadata(DialogID{SelfID: "nope", RootID: "nope"})
	if err != ErrNotFound {
		t.Errorf("LoadMetadata on missing dialog = %v, want ErrNotFound", err)
	}
}

func TestMutateLatestRejectsLeavingDead(t *testing.T) {
	s := newTestStore(t)
	id := DialogID{SelfID: "root-2", RootID: "root-2"}
	if err := s.CreateRootDialog(Metadata{ID: id, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRootDialog: %v", err)
	}

	if err := s.MutateLatest(id, func(l *Latest) error {
		l.RunState = RunState{Kind: RunDead, Reason: "fatal"}
		return nil
	}); err != nil {
		t.Fatalf("MutateLatest to dead: %v", err)
	}

	err := s.MutateLatest(id, func(l *Latest) error {
		l.RunState = RunState{Kind: RunIdleWaitingUser}
		return nil
	})
	if err != ErrDeadImmutable {
		t.Errorf("MutateLatest away from dead = %v, want ErrDeadImmutable", err)
	}

	latest, err := s.LoadLatest(id)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if !latest.RunState.IsDead() {
		t.Errorf("run state after rejected mutation = %+v, want still dead", latest.RunState)
	}
}

func TestAppendAndLoadEvents(t *testing.T) {
	s := newTestStore(t)
	id := DialogID{SelfID: "root-3", RootID: "root-3"}
	if err := s.CreateRootDialog(Metadata{ID: id, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRootDialog: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.AppendEvent(id, Event{Course: 1, Type: EventSayingStreamChunk}); err != nil {
			t.Fatalf("AppendEvent #%d: %v", i, err)
		}
	}

	events, err := s.LoadEvents(id, 1)
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	for i, ev := range events {
		if ev.GenSeq != int64(i+1) {
			t.Errorf("events[%d].GenSeq = %d, want %d", i, ev.GenSeq, i+1)
		}
	}
}

func TestAppendEventRejectsClosedCourse(t *testing.T) {
	s := newTestStore(t)
	id := DialogID{SelfID: "root-4", RootID: "root-4"}
	if err := s.CreateRootDialog(Metadata{ID: id, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRootDialog: %v", err)
	}
	if err := s.MutateLatest(id, func(l *Latest) error { l.CurrentCourse = 2; return nil }); err != nil {
		t.Fatalf("MutateLatest: %v", err)
	}

	err := s.AppendEvent(id, Event{Course: 1, Type: EventSayingStreamChunk})
	if err != ErrCourseClosed {
		t.Errorf("AppendEvent to closed course = %v, want ErrCourseClosed", err)
	}
}

func TestPendingSubdialogsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	id := DialogID{SelfID: "root-5", RootID: "root-5"}
	if err := s.CreateRootDialog(Metadata{ID: id, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRootDialog: %v", err)
	}

	rec := PendingSubdialogRecord{
		SubdialogID:    "sub-1",
		CreatedAt:      time.Now(),
		CallName:       CallTellask,
		TellaskContent: "please investigate X",
		TargetAgentID:  "researcher",
		CallID:         "call-1",
		CallType:       CallTypeB,
		SessionSlug:    "investigate-x",
	}
	err := s.MutatePendingSubdialogs(id, func(list []PendingSubdialogRecord) ([]PendingSubdialogRecord, error) {
		return append(list, rec), nil
	})
	if err != nil {
		t.Fatalf("MutatePendingSubdialogs append: %v", err)
	}

	list, err := s.LoadPendingSubdialogs(id)
	if err != nil {
		t.Fatalf("LoadPendingSubdialogs: %v", err)
	}
	if len(list) != 1 || list[0].SubdialogID != "sub-1" {
		t.Fatalf("LoadPendingSubdialogs = %+v, want one entry for sub-1", list)
	}

	err = s.MutatePendingSubdialogs(id, func(list []PendingSubdialogRecord) ([]PendingSubdialogRecord, error) {
		out := list[:0]
		for _, r := range list {
			if r.SubdialogID != "sub-1" {
				out = append(out, r)
			}
		}
		return out, nil
	})
	if err != nil {
		t.Fatalf("MutatePendingSubdialogs remove: %v", err)
	}
	list, err = s.LoadPendingSubdialogs(id)
	if err != nil {
		t.Fatalf("LoadPendingSubdialogs after remove: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("LoadPendingSubdialogs after remove = %+v, want empty", list)
	}
}

func TestQuestionAppendAndRemove(t *testing.T) {
	s := newTestStore(t)
	id := DialogID{SelfID: "root-6", RootID: "root-6"}
	if err := s.CreateRootDialog(Metadata{ID: id, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRootDialog: %v", err)
	}

	q := HumanQuestion{
		ID:             "q4h-root-6-root-6-c1-call-1",
		RootID:         "root-6",
		SelfID:         "root-6",
		AgentID:        "lead",
		TellaskContent: "which vendor should we pick?",
		AskedAt:        time.Now(),
		CallID:         "call-1",
		CallSiteRef:    CallSiteRef{Course: 1, MessageIndex: 0},
	}
	if err := s.AppendQuestion(id, q); err != nil {
		t.Fatalf("AppendQuestion: %v", err)
	}

	all, err := s.LoadAllQuestions()
	if err != nil {
		t.Fatalf("LoadAllQuestions: %v", err)
	}
	if len(all) != 1 || all[0].ID != q.ID {
		t.Fatalf("LoadAllQuestions = %+v, want one entry with id %q", all, q.ID)
	}

	removed, err := s.RemoveQuestion(id, q.ID)
	if err != nil {
		t.Fatalf("RemoveQuestion: %v", err)
	}
	if removed.CallID != "call-1" {
		t.Errorf("removed.CallID = %q, want call-1", removed.CallID)
	}

	if _, err := s.RemoveQuestion(id, q.ID); err != ErrNotFound {
		t.Errorf("RemoveQuestion twice = %v, want ErrNotFound", err)
	}
}

func TestMoveDialogStatus(t *testing.T) {
	s := newTestStore(t)
	id := DialogID{SelfID: "root-7", RootID: "root-7"}
	if err := s.CreateRootDialog(Metadata{ID: id, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRootDialog: %v", err)
	}

	if err := s.MoveDialogStatus("root-7", StatusRunning, StatusCompleted); err != nil {
		t.Fatalf("MoveDialogStatus: %v", err)
	}

	running, err := s.ListDialogs(StatusRunning)
	if err != nil {
		t.Fatalf("ListDialogs(running): %v", err)
	}
	for _, r := range running {
		if r == "root-7" {
			t.Errorf("root-7 still listed under running after move")
		}
	}

	completed, err := s.ListDialogs(StatusCompleted)
	if err != nil {
		t.Fatalf("ListDialogs(completed): %v", err)
	}
	found := false
	for _, r := range completed {
		if r == "root-7" {
			found = true
		}
	}
	if !found {
		t.Errorf("root-7 not listed under completed after move")
	}

	latest, err := s.LoadLatest(id)
	if err != nil {
		t.Fatalf("LoadLatest after move: %v", err)
	}
	if latest.RunState.Kind != RunIdleWaitingUser {
		t.Errorf("latest pointer unreadable correctly after move: %+v", latest)
	}
}

func TestCreateSubDialogNestsUnderParent(t *testing.T) {
	s := newTestStore(t)
	rootID := DialogID{SelfID: "root-8", RootID: "root-8"}
	if err := s.CreateRootDialog(Metadata{ID: rootID, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRootDialog: %v", err)
	}

	subID := DialogID{SelfID: "sub-8a", RootID: "root-8"}
	sup := rootID
	err := s.CreateSubDialog(Metadata{
		ID:           subID,
		AgentID:      "researcher",
		CreatedAt:    time.Now(),
		SupdialogRef: &sup,
	}, []string{"root-8"})
	if err != nil {
		t.Fatalf("CreateSubDialog: %v", err)
	}

	got, err := s.LoadMetadata(subID)
	if err != nil {
		t.Fatalf("LoadMetadata(sub): %v", err)
	}
	if got.SupdialogRef == nil || got.SupdialogRef.SelfID != "root-8" {
		t.Errorf("sub metadata SupdialogRef = %+v, want root-8", got.SupdialogRef)
	}

	all, err := s.LoadAllQuestions()
	if err != nil {
		t.Fatalf("LoadAllQuestions should walk into subdialogs without error: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("LoadAllQuestions = %+v, want empty", all)
	}
}

func TestDeleteRootDialogRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	id := DialogID{SelfID: "root-9", RootID: "root-9"}
	if err := s.CreateRootDialog(Metadata{ID: id, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRootDialog: %v", err)
	}

	if err := s.DeleteRootDialog(StatusRunning, "root-9"); err != nil {
		t.Fatalf("DeleteRootDialog: %v", err)
	}

	if _, err := s.LoadMetadata(id); err != ErrNotFound {
		t.Errorf("LoadMetadata after delete = %v, want ErrNotFound", err)
	}
}
