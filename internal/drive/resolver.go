package drive

import (
	"fmt"

	"golang.org/x/sync/singleflight"

	"dominds/internal/dialog"
	"dominds/internal/provider"
	"dominds/internal/registry"
	"dominds/internal/store"
)

// Resolver hydrates dialogs into the Dialog Registry on demand (§2 "the
// registry is rehydrated lazily (first access)"), collapsing concurrent
// restore requests for the same root behind a single in-flight load so two
// simultaneous drive triggers for a cold root don't race to rebuild it
// twice.
type Resolver struct {
	store    *store.Store
	registry *registry.Registry
	group    singleflight.Group
}

// NewResolver constructs a Resolver. Callers are expected to have already
// run store.Store.Rehydrate(StatusRunning) once at startup so that every
// pre-existing dialog's on-disk location is known; Resolver only rebuilds
// the in-memory object, not the store's path index.
func NewResolver(s *store.Store, reg *registry.Registry) *Resolver {
	return &Resolver{store: s, registry: reg}
}

// ResolveRoot returns rootID's live RootDialog, restoring it from disk on
// first access.
func (r *Resolver) ResolveRoot(rootID string) (*dialog.RootDialog, error) {
	if root, ok := r.registry.Get(rootID); ok {
		return root, nil
	}
	v, err, _ := r.group.Do("root:"+rootID, func() (any, error) {
		if root, ok := r.registry.Get(rootID); ok {
			return root, nil
		}
		return r.restoreRoot(rootID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*dialog.RootDialog), nil
}

func (r *Resolver) restoreRoot(rootID string) (*dialog.RootDialog, error) {
	id := store.DialogID{SelfID: rootID, RootID: rootID}
	meta, err := r.store.LoadMetadata(id)
	if err != nil {
		return nil, fmt.Errorf("drive: restore root metadata: %w", err)
	}
	latest, err := r.store.LoadLatest(id)
	if err != nil {
		return nil, fmt.Errorf("drive: restore root latest: %w", err)
	}

	root := dialog.NewRootDialog(id, meta.AgentID, meta.TaskDocPath, meta.CreatedAt)
	root.CurrentCourse = latest.CurrentCourse
	root.RunState = latest.RunState
	root.PersistenceStatus = latest.Status
	if latest.DisableDiligencePush != nil {
		root.DisableDiligencePush = *latest.DisableDiligencePush
	}
	if latest.DiligencePushRemainingBudget != nil {
		root.DiligencePushRemainingBudget = *latest.DiligencePushRemainingBudget
	}
	msgs, err := r.replayMessages(id, latest.CurrentCourse)
	if err != nil {
		return nil, err
	}
	root.Messages = msgs

	r.registry.Register(root)
	if latest.NeedsDrive {
		// The registry entry was just created with needsDrive=false; replay
		// the persisted hint so a trigger lost to a crash between
		// store.SetNeedsDrive and registry.MarkNeedsDrive isn't lost for good
		// (§4.2 "on successful register, read the persisted needsDrive hint").
		r.registry.MarkNeedsDrive(rootID, "resolver.restoreRoot", "persisted_needs_drive_true")
	}
	return root, nil
}

// ResolveSub returns selfID's live SubDialog under root, restoring it from
// disk and registering it on root's subtree index on first access.
func (r *Resolver) ResolveSub(root *dialog.RootDialog, selfID string) (*dialog.SubDialog, error) {
	if sub, ok := root.Subdialog(selfID); ok {
		return sub, nil
	}
	v, err, _ := r.group.Do("sub:"+root.ID.RootID+":"+selfID, func() (any, error) {
		if sub, ok := root.Subdialog(selfID); ok {
			return sub, nil
		}
		return r.restoreSub(root, selfID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*dialog.SubDialog), nil
}

func (r *Resolver) restoreSub(root *dialog.RootDialog, selfID string) (*dialog.SubDialog, error) {
	id := store.DialogID{SelfID: selfID, RootID: root.ID.RootID}
	meta, err := r.store.LoadMetadata(id)
	if err != nil {
		return nil, fmt.Errorf("drive: restore subdialog metadata: %w", err)
	}
	latest, err := r.store.LoadLatest(id)
	if err != nil {
		return nil, fmt.Errorf("drive: restore subdialog latest: %w", err)
	}
	if meta.AssignmentFromSup == nil || meta.SupdialogRef == nil {
		return nil, fmt.Errorf("drive: subdialog %s has no recorded assignment", selfID)
	}

	sub := dialog.NewSubDialog(id, meta.AgentID, meta.TaskDocPath, meta.CreatedAt, *meta.SupdialogRef, root.ID, *meta.AssignmentFromSup)
	sub.CurrentCourse = latest.CurrentCourse
	sub.RunState = latest.RunState
	sub.PersistenceStatus = latest.Status
	msgs, err := r.replayMessages(id, latest.CurrentCourse)
	if err != nil {
		return nil, err
	}
	sub.Messages = msgs

	root.RegisterSubdialog(sub)
	return sub, nil
}

// replayMessages reconstructs an in-memory transcript from the persisted
// course log: every assistant saying and tool/teammate result, in append
// order. The full streaming/thinking detail stays in the course log for
// replay to UI clients; only the durable turns matter for the next round's
// context.
func (r *Resolver) replayMessages(id store.DialogID, course int) ([]provider.Message, error) {
	var out []provider.Message
	for c := 1; c <= course; c++ {
		events, err := r.store.LoadEvents(id, c)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			switch ev.Type {
			case store.EventSayingStreamFinish:
				if content, ok := ev.Payload["content"].(string); ok && content != "" {
					out = append(out, provider.Message{Role: provider.RoleAssistant, Content: content})
				}
			case store.EventToolResult, store.EventTeammateResponse:
				if content, ok := ev.Payload["response"].(string); ok && content != "" {
					out = append(out, provider.Message{Role: provider.RoleTool, ToolCallID: ev.CallID, Content: content})
				} else if msg, ok := ev.Payload["error"].(string); ok && msg != "" {
					out = append(out, provider.Message{Role: provider.RoleTool, ToolCallID: ev.CallID, Content: fmt.Sprintf("Call failed: %s", msg)})
				}
			}
		}
	}
	return out, nil
}
