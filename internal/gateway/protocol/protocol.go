package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"dominds/internal/dialog"
	"dominds/internal/diligence"
	"dominds/internal/drivetypes"
	"dominds/internal/gateway/websocket"
	"dominds/internal/provider"
	"dominds/internal/q4h"
	"dominds/internal/registry"
	"dominds/internal/reminder"
	"dominds/internal/runstate"
	"dominds/internal/store"
	"dominds/pkg/logger"
)

// BudgetResolver supplies the configured diligence-push budget ceiling for
// an agent, consulted on refill_diligence_push_budget.
type BudgetResolver interface {
	MaxDiligencePushBudget(agentID string) int
}

// IDGenerator mints opaque ids for freshly created root dialogs.
type IDGenerator func() string

// Dispatcher implements websocket.Dispatcher: it is the single seam between
// the wire protocol and the orchestration core.
type Dispatcher struct {
	store    *store.Store
	registry *registry.Registry
	driver   drivetypes.Driver
	q4h      *q4h.Manager
	push     *diligence.Pusher
	reminder *reminder.Syncer
	hub      *websocket.Hub
	budgets  BudgetResolver
	newID    IDGenerator
}

// New constructs a Dispatcher wired to its collaborators.
func New(s *store.Store, reg *registry.Registry, driver drivetypes.Driver, q *q4h.Manager, push *diligence.Pusher, rem *reminder.Syncer, hub *websocket.Hub, budgets BudgetResolver, newID IDGenerator) *Dispatcher {
	return &Dispatcher{store: s, registry: reg, driver: driver, q4h: q, push: push, reminder: rem, hub: hub, budgets: budgets, newID: newID}
}

// Dispatch routes one inbound Envelope to its handler, replying with an
// "error" frame if the payload doesn't parse or the handler fails.
func (d *Dispatcher) Dispatch(client *websocket.Client, env websocket.Envelope) {
	var err error
	switch env.Type {
	case TypeCreateDialog:
		err = d.handleCreateDialog(client, env.Payload)
	case TypeDisplayDialog:
		err = d.handleDisplayDialog(client, env.Payload)
	case TypeDisplayCourse:
		err = d.handleDisplayCourse(client, env.Payload)
	case TypeDriveByUserMsg:
		err = d.handleDriveByUserMsg(env.Payload)
	case TypeDriveByUserAnswer:
		err = d.handleDriveByUserAnswer(env.Payload)
	case TypeInterruptDialog:
		err = d.handleInterruptDialog(env.Payload)
	case TypeEmergencyStop:
		err = d.handleEmergencyStop()
	case TypeResumeDialog:
		err = d.handleResumeDialog(env.Payload)
	case TypeResumeAll:
		err = d.handleResumeAll()
	case TypeSetDiligencePush:
		err = d.handleSetDiligencePush(env.Payload)
	case TypeRefillDiligenceBudget:
		err = d.handleRefillDiligenceBudget(env.Payload)
	case TypeDeclareSubdialogDead:
		err = d.handleDeclareSubdialogDead(env.Payload)
	case TypeGetQ4HState:
		err = d.handleGetQ4HState(client)
	case TypeDisplayReminders:
		err = d.handleDisplayReminders(client, env.Payload)
	case TypeSetUILanguage:
		err = d.handleSetUILanguage(env.Payload)
	default:
		logger.Warn().Str("type", env.Type).Msg("protocol: unknown message type")
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("type", env.Type).Msg("protocol: handler failed")
		d.hub.SendTyped(client, TypeError, ErrorPayload{Message: err.Error()})
	}
}

func subscriptionKey(id store.DialogID) string {
	return id.RootID + "/" + id.SelfID
}

// resolveDialog locates a live dialog.Dialog for id, rehydrating its root
// through the registry if necessary. The Drive Executor's resolver already
// does this lazily on every drive round; the protocol layer only needs
// read access here so it goes through the registry directly, registering
// roots on demand is the resolver's job and happens the next time a round
// actually drives this id.
func (d *Dispatcher) resolveDialog(id store.DialogID) (*dialog.Dialog, *dialog.RootDialog, bool) {
	root, ok := d.registry.Get(id.RootID)
	if !ok {
		return nil, nil, false
	}
	if id.IsRoot() {
		return &root.Dialog, root, true
	}
	sub, ok := root.Subdialog(id.SelfID)
	if !ok {
		return nil, root, false
	}
	return &sub.Dialog, root, true
}

func (d *Dispatcher) handleCreateDialog(client *websocket.Client, raw json.RawMessage) error {
	var p CreateDialogPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("protocol: parse create_dialog: %w", err)
	}

	selfID := d.newID()
	id := store.DialogID{SelfID: selfID, RootID: selfID}
	meta := store.Metadata{
		ID:          id,
		AgentID:     p.AgentID,
		TaskDocPath: p.TaskDocPath,
		CreatedAt:   time.Now(),
	}
	if err := d.store.CreateRootDialog(meta); err != nil {
		return fmt.Errorf("protocol: create root dialog: %w", err)
	}

	latest, err := d.store.LoadLatest(id)
	if err != nil {
		return fmt.Errorf("protocol: load fresh latest: %w", err)
	}
	root := dialog.NewRootDialog(id, p.AgentID, p.TaskDocPath, meta.CreatedAt)
	root.RunState = latest.RunState
	d.registry.Register(root)

	ref := DialogRef{SelfID: id.SelfID, RootID: id.RootID}
	if err := d.hub.SendTyped(client, TypeCreateDialogResult, CreateDialogResult{RequestID: p.RequestID, Dialog: ref}); err != nil {
		return err
	}
	return d.hub.SendTyped(client, TypeDialogReady, DialogOnlyPayload{Dialog: ref})
}

func (d *Dispatcher) handleDisplayDialog(client *websocket.Client, raw json.RawMessage) error {
	var p DisplayDialogPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("protocol: parse display_dialog: %w", err)
	}
	id := p.Dialog.dialogID()

	dlg, _, ok := d.resolveDialog(id)
	if !ok {
		return fmt.Errorf("protocol: dialog %s/%s is not live", id.RootID, id.SelfID)
	}

	dlg.Lock()
	course := dlg.CurrentCourse
	runState := dlg.RunState
	dlg.Unlock()

	events, err := d.store.LoadAllEvents(id)
	if err != nil {
		return fmt.Errorf("protocol: load events for replay: %w", err)
	}

	d.hub.Subscribe(client, subscriptionKey(id))

	if err := d.hub.SendTyped(client, TypeDialogReplay, DialogReplay{Dialog: p.Dialog, Course: course, Events: events}); err != nil {
		return err
	}
	if err := d.hub.SendTyped(client, TypeRunStateEvt, RunStateEvt{Dialog: p.Dialog, RunState: runState}); err != nil {
		return err
	}

	questions, err := d.q4h.AllPending()
	if err != nil {
		return fmt.Errorf("protocol: load pending questions: %w", err)
	}
	var filtered []store.HumanQuestion
	for _, q := range questions {
		if q.RootID == id.RootID && q.SelfID == id.SelfID {
			filtered = append(filtered, q)
		}
	}
	if err := d.hub.SendTyped(client, TypeQ4HStateResponse, Q4HStateResponse{Questions: filtered}); err != nil {
		return err
	}

	return d.hub.SendTyped(client, TypeDialogReady, DialogOnlyPayload{Dialog: p.Dialog})
}

func (d *Dispatcher) handleDisplayCourse(client *websocket.Client, raw json.RawMessage) error {
	var p DisplayCoursePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("protocol: parse display_course: %w", err)
	}
	id := p.Dialog.dialogID()

	events, err := d.store.LoadEvents(id, p.Course)
	if err != nil {
		return fmt.Errorf("protocol: load course %d: %w", p.Course, err)
	}
	return d.hub.SendTyped(client, TypeCourseReplay, CourseReplay{Dialog: p.Dialog, Course: p.Course, Events: events})
}

func (d *Dispatcher) handleDriveByUserMsg(raw json.RawMessage) error {
	var p DriveByUserMsgPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("protocol: parse drive_dlg_by_user_msg: %w", err)
	}
	id := p.Dialog.dialogID()

	if dlg, _, ok := d.resolveDialog(id); ok && p.UserLanguageCode != "" {
		dlg.Lock()
		dlg.LastUserLanguageCode = p.UserLanguageCode
		dlg.Unlock()
	}

	d.driver.ScheduleDrive(id, p.Content, drivetypes.DriveOptions{})
	return nil
}

func (d *Dispatcher) handleDriveByUserAnswer(raw json.RawMessage) error {
	var p DriveByUserAnswerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("protocol: parse drive_dialog_by_user_answer: %w", err)
	}
	id := p.Dialog.dialogID()

	course, err := d.store.CurrentCourseNumber(id)
	if err != nil {
		return fmt.Errorf("protocol: current course: %w", err)
	}

	outcome, err := d.q4h.Answer(id, p.QuestionID, p.Content, course, d)
	if err != nil {
		return fmt.Errorf("protocol: answer q4h: %w", err)
	}

	if err := d.hub.BroadcastTyped(TypeQ4HAnswered, outcome.Question); err != nil {
		return err
	}

	if !outcome.HasOtherPending {
		d.driver.ScheduleDrive(id, "", drivetypes.DriveOptions{})
		return nil
	}

	// id still has a pending subdialog from the same batch; driving now
	// would interleave this round with the subdialog's in-flight reply, so
	// queue the answer as upNext instead and let revival drive it once the
	// subdialog resolves (§4.9).
	if dlg, _, ok := d.resolveDialog(id); ok {
		dlg.Lock()
		dlg.UpNextPrompt = p.Content
		dlg.Unlock()
	}
	return nil
}

// ReceiveTeammateCallResult implements q4h.ResultReceiver: it mirrors the
// human's answer into id's course log and, if id is currently hydrated,
// into its in-memory messages, the same two-step q4h.Manager.Answer expects
// from internal/reply's equivalent receiver for subdialog replies.
func (d *Dispatcher) ReceiveTeammateCallResult(id store.DialogID, callID string, answerText string) error {
	course, err := d.store.CurrentCourseNumber(id)
	if err != nil {
		return err
	}
	if err := d.store.AppendEvent(id, store.Event{
		Course: course,
		Type:   store.EventToolResult,
		CallID: callID,
		Payload: map[string]any{
			"call_name": "askHuman",
			"response":  answerText,
		},
	}); err != nil {
		return err
	}

	dlg, _, ok := d.resolveDialog(id)
	if !ok {
		return nil
	}
	dlg.Lock()
	dlg.Messages = append(dlg.Messages, provider.Message{Role: provider.RoleTool, ToolCallID: callID, Content: answerText})
	dlg.Unlock()
	return nil
}

func (d *Dispatcher) handleInterruptDialog(raw json.RawMessage) error {
	var p DialogOnlyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("protocol: parse interrupt_dialog: %w", err)
	}
	id := p.Dialog.dialogID()

	applied, err := runstate.RequestInterruptDialog(d.store, id, "user_requested")
	if err != nil {
		return fmt.Errorf("protocol: interrupt: %w", err)
	}
	if !applied {
		return nil
	}
	d.syncInMemoryRunState(id, store.RunState{Kind: store.RunInterrupted, Reason: "user_requested"})
	return d.hub.BroadcastTyped(TypeRunStateEvt, RunStateEvt{Dialog: p.Dialog, RunState: store.RunState{Kind: store.RunInterrupted, Reason: "user_requested"}})
}

func (d *Dispatcher) handleEmergencyStop() error {
	ids, err := d.store.ListDialogIDs(store.StatusRunning)
	if err != nil {
		return fmt.Errorf("protocol: list running dialogs: %w", err)
	}
	applied, errs := runstate.RequestEmergencyStopAll(d.store, ids, "emergency_stop")
	for _, e := range errs {
		logger.Warn().Err(e).Msg("protocol: emergency stop failed for one dialog")
	}
	logger.Info().Int("applied", applied).Msg("protocol: emergency stop applied")
	for _, id := range ids {
		d.syncInMemoryRunState(id, store.RunState{Kind: store.RunInterrupted, Reason: "emergency_stop"})
	}
	return d.hub.BroadcastTyped(TypeRunStateEvt, RunStateEvt{RunState: store.RunState{Kind: store.RunInterrupted, Reason: "emergency_stop"}})
}

func (d *Dispatcher) resumeOne(id store.DialogID) error {
	var wasInterrupted bool
	if err := d.store.MutateLatest(id, func(l *store.Latest) error {
		if l.RunState.Kind == store.RunInterrupted {
			l.RunState = store.RunState{Kind: store.RunIdleWaitingUser}
			wasInterrupted = true
		}
		return nil
	}); err != nil {
		return err
	}
	if !wasInterrupted {
		return nil
	}
	d.syncInMemoryRunState(id, store.RunState{Kind: store.RunIdleWaitingUser})
	d.driver.ScheduleDrive(id, "", drivetypes.DriveOptions{AllowResumeFromInterrupted: true})
	return nil
}

func (d *Dispatcher) handleResumeDialog(raw json.RawMessage) error {
	var p DialogOnlyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("protocol: parse resume_dialog: %w", err)
	}
	return d.resumeOne(p.Dialog.dialogID())
}

func (d *Dispatcher) handleResumeAll() error {
	ids, err := d.store.ListDialogIDs(store.StatusRunning)
	if err != nil {
		return fmt.Errorf("protocol: list running dialogs: %w", err)
	}
	for _, id := range ids {
		if err := d.resumeOne(id); err != nil {
			logger.Warn().Err(err).Str("self_id", id.SelfID).Msg("protocol: resume_all failed for one dialog")
		}
	}
	return nil
}

func (d *Dispatcher) handleSetDiligencePush(raw json.RawMessage) error {
	var p SetDiligencePushPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("protocol: parse set_diligence_push: %w", err)
	}
	id := p.Dialog.dialogID()
	if !id.IsRoot() {
		return fmt.Errorf("protocol: set_diligence_push only applies to root dialogs")
	}
	root, ok := d.registry.Get(id.RootID)
	if !ok {
		return fmt.Errorf("protocol: root %s is not live", id.RootID)
	}

	triggerPush, err := d.push.SetDisabled(root, p.DisableDiligencePush)
	if err != nil {
		return fmt.Errorf("protocol: set diligence disabled: %w", err)
	}
	if err := d.hub.BroadcastTyped(TypeDiligencePushUpdated, DiligencePushUpdated{Dialog: p.Dialog, DisableDiligencePush: p.DisableDiligencePush}); err != nil {
		return err
	}
	if triggerPush {
		d.driver.ScheduleDrive(id, "", drivetypes.DriveOptions{})
	}
	return nil
}

func (d *Dispatcher) handleRefillDiligenceBudget(raw json.RawMessage) error {
	var p DialogOnlyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("protocol: parse refill_diligence_push_budget: %w", err)
	}
	id := p.Dialog.dialogID()
	if !id.IsRoot() {
		return fmt.Errorf("protocol: refill_diligence_push_budget only applies to root dialogs")
	}
	root, ok := d.registry.Get(id.RootID)
	if !ok {
		return fmt.Errorf("protocol: root %s is not live", id.RootID)
	}

	if err := d.push.Refill(root, d.budgets.MaxDiligencePushBudget(root.AgentID)); err != nil {
		return fmt.Errorf("protocol: refill budget: %w", err)
	}
	root.Lock()
	remaining := root.DiligencePushRemainingBudget
	root.Unlock()
	return d.hub.BroadcastTyped(TypeDiligenceBudgetEvt, DiligenceBudgetEvt{Dialog: p.Dialog, RemainingBudget: remaining})
}

func (d *Dispatcher) handleDeclareSubdialogDead(raw json.RawMessage) error {
	var p DeclareSubdialogDeadPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("protocol: parse declare_subdialog_dead: %w", err)
	}
	id := p.Dialog.dialogID()
	if id.IsRoot() {
		return fmt.Errorf("protocol: declare_subdialog_dead requires a non-root dialog")
	}

	if err := runstate.MarkDead(d.store, id, "declared_dead_by_user"); err != nil {
		return fmt.Errorf("protocol: mark dead: %w", err)
	}
	d.syncInMemoryRunState(id, store.RunState{Kind: store.RunDead, Reason: "declared_dead_by_user"})

	meta, err := d.store.LoadMetadata(id)
	if err != nil {
		return fmt.Errorf("protocol: load metadata: %w", err)
	}
	if meta.SupdialogRef == nil || meta.AssignmentFromSup == nil {
		return d.hub.BroadcastTyped(TypeRunStateEvt, RunStateEvt{Dialog: p.Dialog, RunState: store.RunState{Kind: store.RunDead, Reason: "declared_dead_by_user"}})
	}
	parentID := meta.AssignmentFromSup.CallerDialogID

	if err := d.store.MutatePendingSubdialogs(parentID, func(list []store.PendingSubdialogRecord) ([]store.PendingSubdialogRecord, error) {
		out := make([]store.PendingSubdialogRecord, 0, len(list))
		consumed := false
		for _, rec := range list {
			if !consumed && rec.SubdialogID == id.SelfID {
				consumed = true
				continue
			}
			out = append(out, rec)
		}
		return out, nil
	}); err != nil {
		return fmt.Errorf("protocol: consume pending record: %w", err)
	}

	callID := meta.AssignmentFromSup.CallID
	note := p.Note
	if note == "" {
		note = "no reason given"
	}
	failure := fmt.Sprintf("Teammate dialog %s was declared dead: %s", id.SelfID, note)

	parentCourse, err := d.store.CurrentCourseNumber(parentID)
	if err != nil {
		return fmt.Errorf("protocol: parent current course: %w", err)
	}
	if err := d.store.AppendEvent(parentID, store.Event{
		Course: parentCourse,
		Type:   store.EventTeammateResponse,
		CallID: callID,
		Payload: map[string]any{
			"call_name": string(meta.AssignmentFromSup.CallName),
			"response":  failure,
		},
	}); err != nil {
		return fmt.Errorf("protocol: append failure response: %w", err)
	}

	if parentDlg, _, ok := d.resolveDialog(parentID); ok {
		parentDlg.Lock()
		parentDlg.Messages = append(parentDlg.Messages, provider.Message{Role: provider.RoleTool, ToolCallID: callID, Content: failure})
		parentDlg.Unlock()

		hasQ4H, err := d.q4h.HasPendingQuestion(parentID)
		if err == nil {
			pending, perr := d.store.LoadPendingSubdialogs(parentID)
			parentLatest, lerr := d.store.LoadLatest(parentID)
			// A dead, terminal, or interrupted parent must not be silently
			// revived by this declare-dead call either (§4.4 step 2b).
			revivable := lerr == nil && parentLatest.RunState.Kind != store.RunDead &&
				parentLatest.RunState.Kind != store.RunTerminal && parentLatest.RunState.Kind != store.RunInterrupted
			if perr == nil && !hasQ4H && len(pending) == 0 && revivable {
				if parentID.IsRoot() {
					if serr := d.store.SetNeedsDrive(parentID, true); serr == nil {
						d.registry.MarkNeedsDrive(parentID.RootID, "declare_subdialog_dead", "pending_subdialogs_resolved")
					}
				} else {
					d.driver.ScheduleDrive(parentID, "", drivetypes.DriveOptions{})
				}
			}
		}
	}

	return d.hub.BroadcastTyped(TypeRunStateEvt, RunStateEvt{Dialog: p.Dialog, RunState: store.RunState{Kind: store.RunDead, Reason: "declared_dead_by_user"}})
}

func (d *Dispatcher) handleGetQ4HState(client *websocket.Client) error {
	questions, err := d.q4h.AllPending()
	if err != nil {
		return fmt.Errorf("protocol: load pending questions: %w", err)
	}
	return d.hub.SendTyped(client, TypeQ4HStateResponse, Q4HStateResponse{Questions: questions})
}

func (d *Dispatcher) handleDisplayReminders(client *websocket.Client, raw json.RawMessage) error {
	var p DialogOnlyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("protocol: parse display_reminders: %w", err)
	}
	id := p.Dialog.dialogID()

	dlg, _, ok := d.resolveDialog(id)
	if !ok {
		return fmt.Errorf("protocol: dialog %s/%s is not live", id.RootID, id.SelfID)
	}
	dlg.Lock()
	err := d.reminder.Sync(id, dlg)
	content := reminder.Content(dlg)
	dlg.Unlock()
	if err != nil {
		return fmt.Errorf("protocol: sync reminder: %w", err)
	}

	return d.hub.SendTyped(client, TypeRemindersSnapshot, RemindersSnapshot{Dialog: p.Dialog, Content: content})
}

func (d *Dispatcher) handleSetUILanguage(raw json.RawMessage) error {
	var p SetUILanguagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("protocol: parse set_ui_language: %w", err)
	}
	// The UI language preference is per-connection display state; the core
	// has no use for it beyond this acknowledgment since every dialog's
	// own LastUserLanguageCode is set from drive_dlg_by_user_msg instead.
	logger.Debug().Str("ui_language", p.UILanguage).Msg("protocol: set_ui_language")
	return nil
}

func (d *Dispatcher) syncInMemoryRunState(id store.DialogID, rs store.RunState) {
	dlg, _, ok := d.resolveDialog(id)
	if !ok {
		return
	}
	dlg.Lock()
	dlg.RunState = rs
	dlg.Unlock()
}
