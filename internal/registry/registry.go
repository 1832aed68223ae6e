// Package registry implements the Dialog Registry (§4.2): the in-process
// singleton mapping root dialog ids to their live state and a multi-producer,
// multi-consumer event channel the Backend Driver Loop waits on. Only
// canonical roots (selfId == rootId) register here; subdialogs are reached
// through their root's subtree index (internal/dialog).
package registry

import (
	"sync"
	"time"

	"dominds/internal/dialog"
)

// TriggerAction tags why a DriveTriggerEvent was emitted.
type TriggerAction string

const (
	ActionMarkNeedsDrive    TriggerAction = "mark_needs_drive"
	ActionMarkNotNeedsDrive TriggerAction = "mark_not_needs_drive"
	ActionRegister          TriggerAction = "register"
)

// DriveTriggerEvent is broadcast on every needsDrive transition so the
// Backend Driver Loop can wake and re-evaluate eligible roots (§4.2, §4.3).
type DriveTriggerEvent struct {
	Action           TriggerAction
	RootID           string
	EntryFound       bool
	PreviousNeedsDrive bool
	NextNeedsDrive   bool
	Source           string
	Reason           string
	EmittedAtMs      int64
}

type entry struct {
	root       *dialog.RootDialog
	needsDrive bool
}

// Registry is the Dialog Registry singleton. Use New for tests; production
// code shares one instance via dependency injection, not a package-level var,
// so multiple workspaces can run in the same process during tests.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	triggerMu sync.Mutex
	triggerCh chan DriveTriggerEvent
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		entries:   make(map[string]*entry),
		triggerCh: make(chan DriveTriggerEvent, 256),
	}
}

func (r *Registry) emit(ev DriveTriggerEvent) {
	select {
	case r.triggerCh <- ev:
	default:
		// Channel is a wakeup signal, not an audit log: if the driver loop
		// is already behind, dropping a redundant trigger is harmless since
		// DialogsNeedingDrive always re-scans entries from scratch.
	}
}

// Register adds root to the registry. Only canonical roots may be
// registered; callers must not pass a subdialog's RootDialog wrapper (there
// isn't one — subdialogs are dialog.SubDialog, not dialog.RootDialog).
func (r *Registry) Register(root *dialog.RootDialog) {
	r.mu.Lock()
	_, existed := r.entries[root.ID.RootID]
	r.entries[root.ID.RootID] = &entry{root: root}
	r.mu.Unlock()

	r.emit(DriveTriggerEvent{
		Action:     ActionRegister,
		RootID:     root.ID.RootID,
		EntryFound: existed,
		Source:     "registry.Register",
		EmittedAtMs: nowMs(),
	})
}

// Get returns the registered root for rootID, rehydrating lazily is the
// caller's responsibility: Get itself never touches the Event Store.
func (r *Registry) Get(rootID string) (*dialog.RootDialog, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[rootID]
	if !ok {
		return nil, false
	}
	return e.root, true
}

// Unregister removes rootID entirely, used once a root is archived/deleted.
func (r *Registry) Unregister(rootID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, rootID)
}

// MarkNeedsDrive flips rootID's needsDrive flag to true and emits a trigger
// if the value actually changed (idempotent no-op otherwise). source/reason
// are carried through for observability (e.g. "reply_routing:revival").
func (r *Registry) MarkNeedsDrive(rootID, source, reason string) {
	r.setNeedsDrive(rootID, true, source, reason)
}

// MarkNotNeedingDrive flips rootID's needsDrive flag to false.
func (r *Registry) MarkNotNeedingDrive(rootID, source, reason string) {
	r.setNeedsDrive(rootID, false, source, reason)
}

func (r *Registry) setNeedsDrive(rootID string, want bool, source, reason string) {
	r.mu.Lock()
	e, ok := r.entries[rootID]
	var prev bool
	if ok {
		prev = e.needsDrive
		e.needsDrive = want
	}
	r.mu.Unlock()

	action := ActionMarkNotNeedsDrive
	if want {
		action = ActionMarkNeedsDrive
	}
	if !ok || prev != want {
		r.emit(DriveTriggerEvent{
			Action:             action,
			RootID:             rootID,
			EntryFound:         ok,
			PreviousNeedsDrive: prev,
			NextNeedsDrive:     want,
			Source:             source,
			Reason:             reason,
			EmittedAtMs:        nowMs(),
		})
	}
}

// NeedsDrive reports the current needsDrive flag for rootID.
func (r *Registry) NeedsDrive(rootID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[rootID]
	return ok && e.needsDrive
}

// DialogsNeedingDrive returns a snapshot of every registered root currently
// flagged needsDrive, for the Backend Driver Loop to iterate after waking.
func (r *Registry) DialogsNeedingDrive() []*dialog.RootDialog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*dialog.RootDialog
	for _, e := range r.entries {
		if e.needsDrive {
			out = append(out, e.root)
		}
	}
	return out
}

// All returns a snapshot of every registered root regardless of needsDrive,
// for periodic sweeps (Diligence Push budget refill, stale Type-B session
// pruning) that must visit every live dialog, not just the ones currently
// wanting a round.
func (r *Registry) All() []*dialog.RootDialog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*dialog.RootDialog, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.root)
	}
	return out
}

// WaitForDriveTrigger blocks until a DriveTriggerEvent is emitted or done is
// closed, returning ok=false in the latter case.
func (r *Registry) WaitForDriveTrigger(done <-chan struct{}) (DriveTriggerEvent, bool) {
	select {
	case ev := <-r.triggerCh:
		return ev, true
	case <-done:
		return DriveTriggerEvent{}, false
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
