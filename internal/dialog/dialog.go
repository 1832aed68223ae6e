// Package dialog implements the Dialog object model (§3 DATA MODEL): the
// in-memory representation of a root dialog or subdialog, kept consistent
// with the Event Store (internal/store) that persists it.
package dialog

import (
	"sync"
	"time"

	"dominds/internal/drivetypes"
	"dominds/internal/provider"
	"dominds/internal/store"
)

// ContextHealth is the Context Health Gate's last verdict for a dialog
// (§4.4 step "consult Context Health Gate").
type ContextHealth struct {
	EstimatedTokens int
	WindowBudget    int
	LastCheckedAt   time.Time
}

// Reminder is a single tellask-pending reminder line owned by a dialog
// (§4.11). A dialog owns at most one.
type Reminder struct {
	Heading        string
	Summary        string
	Lines          []string
	PendingCount   int
	UpdatedAt      time.Time
	Signature      string
}

// Dialog is the common state shared by every root dialog and subdialog.
// Identity fields are immutable after creation; the rest mutates only while
// the caller holds Lock.
type Dialog struct {
	ID          store.DialogID
	AgentID     string
	TaskDocPath string
	CreatedAt   time.Time

	mu sync.Mutex

	CurrentCourse         int
	Messages              []provider.Message
	Reminder              *Reminder
	ContextHealth          ContextHealth
	PersistenceStatus      store.Status
	LastUserLanguageCode   string
	UpNextPrompt           string
	RunState              store.RunState
}

// Lock guards all mutable fields above. Distinct from the per-dialog
// scheduler queue lock (which serializes drive rounds) — this one protects
// quick in-memory reads/writes between rounds, e.g. appending a reply.
func (d *Dialog) Lock()   { d.mu.Lock() }
func (d *Dialog) Unlock() { d.mu.Unlock() }

// RootDialog is a Dialog with Diligence Push and subdialog-registry state.
// A Dialog is a root iff ID.IsRoot().
type RootDialog struct {
	Dialog

	DisableDiligencePush         bool
	DiligencePushRemainingBudget int

	// SubdialogAgentPrimingMode controls how a freshly spawned subdialog's
	// first system turn is assembled; an opaque string interpreted by the
	// external collaborator that builds system prompts.
	SubdialogAgentPrimingMode string

	// subdialogs indexes every live subdialog in this root's subtree by
	// selfId, so reply routing and revival never need to walk the tree.
	subMu      sync.RWMutex
	subdialogs map[string]*SubDialog

	// sessionMu guards sessionRegistry, the Type-B session index (§3
	// "subdialogRegistry: mapping (agentId, sessionSlug) -> subdialog
	// selfId"). Distinct from subMu since the Special-Call Executor mutates
	// this under the root's subdialog-txn lock, a different lock than the
	// one protecting the plain selfId index.
	sessionMu      sync.RWMutex
	sessionRegistry map[sessionKey]string
}

// sessionKey is the Type-B session index key: (targetAgentId, sessionSlug).
type sessionKey struct {
	AgentID     string
	SessionSlug string
}

// NewRootDialog constructs a fresh in-memory RootDialog. It does not touch
// the Event Store; callers persist via store.Store.CreateRootDialog
// separately and then register the result here.
func NewRootDialog(id store.DialogID, agentID, taskDocPath string, now time.Time) *RootDialog {
	return &RootDialog{
		Dialog: Dialog{
			ID:                id,
			AgentID:           agentID,
			TaskDocPath:       taskDocPath,
			CreatedAt:         now,
			CurrentCourse:     1,
			PersistenceStatus: store.StatusRunning,
			RunState:          store.RunState{Kind: store.RunIdleWaitingUser},
		},
		subdialogs:      make(map[string]*SubDialog),
		sessionRegistry: make(map[sessionKey]string),
	}
}

// SessionLookup resolves a Type-B (agentId, sessionSlug) pair to a live
// subdialog selfId, reporting ok=false if no entry exists. Callers are
// expected to hold the root's subdialog-txn lock (internal/store.WithTxnLock)
// around the read-check-write sequence this backs (§4.5 Type B execution
// step 1); this method itself only guards the map's memory safety.
func (r *RootDialog) SessionLookup(agentID, sessionSlug string) (string, bool) {
	r.sessionMu.RLock()
	defer r.sessionMu.RUnlock()
	id, ok := r.sessionRegistry[sessionKey{AgentID: agentID, SessionSlug: sessionSlug}]
	return id, ok
}

// SessionRegister binds (agentId, sessionSlug) to selfID, overwriting any
// prior binding. Used both when a Type-B call creates a fresh subdialog and
// (idempotently) when it reuses one.
func (r *RootDialog) SessionRegister(agentID, sessionSlug, selfID string) {
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()
	r.sessionRegistry[sessionKey{AgentID: agentID, SessionSlug: sessionSlug}] = selfID
}

// SessionPrune removes a stale (agentId, sessionSlug) entry, used when the
// registered subdialog is found to be dead and must be re-created rather
// than reused (§3 RootDialog invariant: "every entry points to a live or
// persisted subdialog whose run-state is not dead").
func (r *RootDialog) SessionPrune(agentID, sessionSlug string) {
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()
	delete(r.sessionRegistry, sessionKey{AgentID: agentID, SessionSlug: sessionSlug})
}

// SessionRegistrySize reports how many Type-B session bindings are live,
// used by the registry-canonicity test property.
func (r *RootDialog) SessionRegistrySize() int {
	r.sessionMu.RLock()
	defer r.sessionMu.RUnlock()
	return len(r.sessionRegistry)
}

// SessionEntries returns a snapshot of every (agentId, sessionSlug) -> selfId
// binding, for the sweep in internal/diligence to check liveness against.
func (r *RootDialog) SessionEntries() map[[2]string]string {
	r.sessionMu.RLock()
	defer r.sessionMu.RUnlock()
	out := make(map[[2]string]string, len(r.sessionRegistry))
	for k, v := range r.sessionRegistry {
		out[[2]string{k.AgentID, k.SessionSlug}] = v
	}
	return out
}

// RegisterSubdialog adds sub to this root's subtree index.
func (r *RootDialog) RegisterSubdialog(sub *SubDialog) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subdialogs[sub.ID.SelfID] = sub
}

// UnregisterSubdialog removes selfID from this root's subtree index.
func (r *RootDialog) UnregisterSubdialog(selfID string) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	delete(r.subdialogs, selfID)
}

// Subdialog looks up a live subdialog by selfId.
func (r *RootDialog) Subdialog(selfID string) (*SubDialog, bool) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	sub, ok := r.subdialogs[selfID]
	return sub, ok
}

// Subdialogs returns a snapshot of every currently-registered subdialog.
func (r *RootDialog) Subdialogs() []*SubDialog {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	out := make([]*SubDialog, 0, len(r.subdialogs))
	for _, s := range r.subdialogs {
		out = append(out, s)
	}
	return out
}

// SubDialog is a Dialog spawned by a supdialog via tellask/tellaskBack/
// tellaskSessionless/freshBootsReasoning.
type SubDialog struct {
	Dialog

	SupdialogRef      store.DialogID
	RootDialogRef     store.DialogID
	AssignmentFromSup store.AssignmentFromSup
	SessionSlug       string

	// SubdialogReplyTarget, when set, names the specific pending call this
	// subdialog's next reply must resolve, overriding
	// AssignmentFromSup.CallerDialogID (§4.6 tie-break rule). Set by the
	// Drive Executor from the DriveOptions it was scheduled with.
	SubdialogReplyTarget *drivetypes.ReplyTarget
}

// NewSubDialog constructs a fresh in-memory SubDialog.
func NewSubDialog(id store.DialogID, agentID, taskDocPath string, now time.Time, sup store.DialogID, root store.DialogID, assignment store.AssignmentFromSup) *SubDialog {
	return &SubDialog{
		Dialog: Dialog{
			ID:                id,
			AgentID:           agentID,
			TaskDocPath:       taskDocPath,
			CreatedAt:         now,
			CurrentCourse:     1,
			PersistenceStatus: store.StatusRunning,
			RunState:          store.RunState{Kind: store.RunIdleWaitingUser},
		},
		SupdialogRef:      sup,
		RootDialogRef:     root,
		AssignmentFromSup: assignment,
		SessionSlug:       assignment.SessionSlug,
	}
}

// ReplyTarget resolves which pending call this subdialog's next reply must
// satisfy: SubdialogReplyTarget wins if set, otherwise the call that
// originally spawned it (§4.6).
func (s *SubDialog) ReplyTarget() drivetypes.ReplyTarget {
	if s.SubdialogReplyTarget != nil {
		return *s.SubdialogReplyTarget
	}
	callType := store.CallTypeB
	switch s.AssignmentFromSup.CallName {
	case store.CallTellaskSessionless, store.CallFreshBootsReasoning:
		callType = store.CallTypeC
	case store.CallTellaskBack:
		callType = store.CallTypeA
	}
	return drivetypes.ReplyTarget{
		OwnerDialogID: s.AssignmentFromSup.CallerDialogID,
		CallType:      callType,
		CallID:        s.AssignmentFromSup.CallID,
	}
}
