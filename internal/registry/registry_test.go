package registry

import (
	"testing"
	"time"

	"dominds/internal/dialog"
	"dominds/internal/store"
)

func newTestRoot(rootID string) *dialog.RootDialog {
	id := store.DialogID{SelfID: rootID, RootID: rootID}
	return dialog.NewRootDialog(id, "lead", "tasks/t1.md", time.Now())
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	root := newTestRoot("root-1")
	r.Register(root)

	got, ok := r.Get("root-1")
	if !ok || got != root {
		t.Fatalf("Get(root-1) = (%v, %v), want the registered root", got, ok)
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) = true, want false")
	}
}

func TestMarkNeedsDriveEmitsOnlyOnChange(t *testing.T) {
	r := New()
	root := newTestRoot("root-2")
	r.Register(root)

	r.MarkNeedsDrive("root-2", "test", "reason-1")
	if !r.NeedsDrive("root-2") {
		t.Fatal("NeedsDrive should be true after MarkNeedsDrive")
	}

	ev, ok := r.WaitForDriveTrigger(nil)
	if !ok {
		t.Fatal("expected a trigger event from Register")
	}
	if ev.Action != ActionRegister {
		t.Errorf("first event action = %v, want ActionRegister", ev.Action)
	}

	ev, ok = r.WaitForDriveTrigger(nil)
	if !ok || ev.Action != ActionMarkNeedsDrive || !ev.NextNeedsDrive {
		t.Errorf("second event = %+v, want ActionMarkNeedsDrive/true", ev)
	}

	// Marking needsDrive true again (no change) must not emit a second
	// trigger; the channel should now be empty.
	r.MarkNeedsDrive("root-2", "test", "reason-2")
	select {
	case ev := <-r.triggerCh:
		t.Errorf("unexpected extra trigger event on no-op mark: %+v", ev)
	default:
	}
}

func TestMarkNotNeedingDriveFlipsFlag(t *testing.T) {
	r := New()
	root := newTestRoot("root-3")
	r.Register(root)
	r.MarkNeedsDrive("root-3", "test", "r1")

	r.MarkNotNeedingDrive("root-3", "test", "r2")
	if r.NeedsDrive("root-3") {
		t.Error("NeedsDrive should be false after MarkNotNeedingDrive")
	}
}

func TestDialogsNeedingDriveSnapshot(t *testing.T) {
	r := New()
	a := newTestRoot("a")
	b := newTestRoot("b")
	r.Register(a)
	r.Register(b)
	r.MarkNeedsDrive("a", "test", "r")

	needing := r.DialogsNeedingDrive()
	if len(needing) != 1 || needing[0].ID.RootID != "a" {
		t.Errorf("DialogsNeedingDrive() = %+v, want just root a", needing)
	}
}

func TestUnregisterRemovesEntry(t *testing.T) {
	r := New()
	root := newTestRoot("root-4")
	r.Register(root)
	r.Unregister("root-4")

	if _, ok := r.Get("root-4"); ok {
		t.Error("Get after Unregister should return false")
	}
}

func TestWaitForDriveTriggerReturnsFalseOnDone(t *testing.T) {
	r := New()
	done := make(chan struct{})
	close(done)

	_, ok := r.WaitForDriveTrigger(done)
	if ok {
		t.Error("WaitForDriveTrigger on closed done channel should return ok=false")
	}
}
