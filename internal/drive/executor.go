package drive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dominds/internal/diligence"
	"dominds/internal/dialog"
	"dominds/internal/drivetypes"
	"dominds/internal/provider"
	"dominds/internal/q4h"
	"dominds/internal/registry"
	"dominds/internal/reminder"
	"dominds/internal/reply"
	"dominds/internal/runstate"
	"dominds/internal/scheduler"
	"dominds/internal/specialcall"
	"dominds/internal/store"
	"dominds/pkg/logger"
)

// ErrDialogBusy is returned by DriveDialog when the caller asked to fail fast
// rather than wait (WaitInQue false) and the target dialog's queue already
// holds rounds waiting to run. A round that is executing with nothing queued
// behind it does not count as busy, and ScheduleDrive never returns this
// error (§4.4 "DialogBusy fail-fast").
var ErrDialogBusy = errors.New("drive: dialog busy")

// maxCriticalCountdown bounds how many consecutive memory-flush rounds a
// dialog gets before the Context Health Gate gives up and suspends it
// (§4.4 edge case).
const maxCriticalCountdown = 3

// Minds supplies the per-agent system prompt and tool catalogue a round
// needs but the Drive Executor does not own: loading and rendering YAML
// agent/team configuration is an external collaborator's job (§1).
type Minds interface {
	SystemPrompt(agentID, taskDocPath string) (string, error)
	Tools(agentID string) ([]provider.Tool, error)
	Model(agentID string) string
}

// ProviderResolver picks the provider.Provider a given agent talks to.
type ProviderResolver interface {
	Resolve(agentID string) (provider.Provider, error)
}

// Executor is the Drive Executor (§4.4): the component that actually runs
// one round of a dialog against an LLM provider, executes whatever special
// calls come back, and decides what happens next. It implements
// drivetypes.Driver so internal/specialcall and internal/reply can trigger
// rounds without importing this package.
type Executor struct {
	store     *store.Store
	registry  *registry.Registry
	resolver  *Resolver
	runQueue  *scheduler.RunQueue
	health    *HealthGate
	minds     Minds
	providers ProviderResolver
	q4h       *q4h.Manager
	diligence *diligence.Pusher
	reminder  *reminder.Syncer

	// special and replyRouter close the dependency loop: both need a
	// drivetypes.Driver, which this Executor is, so Wire constructs this
	// Executor first and assigns them afterward.
	special     *specialcall.Executor
	replyRouter *reply.Router

	countMu    sync.Mutex
	countdowns map[string]int // queueKey -> remaining critical-countdown rounds
}

// newExecutor constructs a bare Executor; Wire is the usual entry point
// since it also builds and attaches the Special-Call Executor and Reply
// Router this Executor needs to finish a round.
func newExecutor(s *store.Store, reg *registry.Registry, resolver *Resolver, runQueue *scheduler.RunQueue, health *HealthGate, minds Minds, providers ProviderResolver, q *q4h.Manager, push *diligence.Pusher, rem *reminder.Syncer) *Executor {
	return &Executor{
		store:      s,
		registry:   reg,
		resolver:   resolver,
		runQueue:   runQueue,
		health:     health,
		minds:      minds,
		providers:  providers,
		q4h:        q,
		diligence:  push,
		reminder:   rem,
		countdowns: make(map[string]int),
	}
}

// Wire assembles the Drive Executor together with the Special-Call
// Executor and Reply Router it drives and is driven by, breaking their
// mutual dependency by constructing this Executor first and handing it to
// both as their drivetypes.Driver before anything runs a round.
func Wire(s *store.Store, reg *registry.Registry, resolver *Resolver, runQueue *scheduler.RunQueue, health *HealthGate, minds Minds, providers ProviderResolver, q *q4h.Manager, push *diligence.Pusher, rem *reminder.Syncer, agents specialcall.AgentResolver, newID specialcall.IDGenerator) *Executor {
	e := newExecutor(s, reg, resolver, runQueue, health, minds, providers, q, push, rem)
	e.special = specialcall.New(s, reg, e, q, agents, newID)
	e.replyRouter = reply.New(s, reg, q, e)
	return e
}

func queueKey(id store.DialogID) string {
	return id.RootID + "/" + id.SelfID
}

// DriveDialog runs id's next round inline, blocking for the result (§4.4,
// used by Type A's synchronous tellaskBack invocation and FBR's serial
// self-rounds).
func (e *Executor) DriveDialog(ctx context.Context, id store.DialogID, prompt string, opts drivetypes.DriveOptions) (string, error) {
	key := queueKey(id)
	if !opts.WaitInQue && e.runQueue.Pending(key) > 0 {
		return "", ErrDialogBusy
	}

	var lastSaying string
	resultCh, err := e.runQueue.Enqueue(key, ctx, func(roundCtx context.Context) error {
		saying, runErr := e.runRound(roundCtx, id, prompt, opts)
		lastSaying = saying
		return runErr
	})
	if err != nil {
		return "", err
	}
	if err := <-resultCh; err != nil {
		return "", err
	}
	return lastSaying, nil
}

// ScheduleDrive enqueues id's next round without waiting for it, logging
// any enqueue failure rather than propagating it: callers of ScheduleDrive
// (reply revival, the Backend Driver Loop) are fire-and-forget by design.
func (e *Executor) ScheduleDrive(id store.DialogID, prompt string, opts drivetypes.DriveOptions) {
	_, err := e.runQueue.Enqueue(queueKey(id), context.Background(), func(roundCtx context.Context) error {
		_, runErr := e.runRound(roundCtx, id, prompt, opts)
		return runErr
	})
	if err != nil {
		logger.Get().Warn().Err(err).Str("dialog_id", id.SelfID).Str("root_id", id.RootID).Msg("drive: schedule failed")
	}
}

// runRound is the single round contract of §4.4, executed with this
// dialog's per-dialog lock already held by the scheduler.RunQueue worker.
func (e *Executor) runRound(ctx context.Context, id store.DialogID, prompt string, opts drivetypes.DriveOptions) (string, error) {
	root, err := e.resolver.ResolveRoot(id.RootID)
	if err != nil {
		return "", fmt.Errorf("drive: resolve root: %w", err)
	}
	var d *dialog.Dialog
	var sub *dialog.SubDialog
	if id.IsRoot() {
		d = &root.Dialog
	} else {
		sub, err = e.resolver.ResolveSub(root, id.SelfID)
		if err != nil {
			return "", fmt.Errorf("drive: resolve subdialog: %w", err)
		}
		d = &sub.Dialog
	}

	d.Lock()
	runState := d.RunState
	d.Unlock()

	// Run-state eligibility: a dialog already proceeding_stop_requested,
	// interrupted, dead, or terminal does not get a new round started under
	// it (§4.4 step "run-state checks").
	switch runState.Kind {
	case store.RunDead, store.RunTerminal:
		return "", fmt.Errorf("drive: dialog %s is %s", id.SelfID, runState.Kind)
	case store.RunProceedingStopRequested:
		return "", nil
	case store.RunInterrupted:
		// A non-user-driven trigger (registry wakeup, subdialog revival,
		// diligence push) must not silently resume an interrupted dialog;
		// only an explicit resume or a fresh user prompt may (§4.4 step 2b).
		if !opts.AllowResumeFromInterrupted && prompt == "" {
			return "", nil
		}
	}

	if hasQ4H, err := e.q4h.HasPendingQuestion(id); err != nil {
		return "", fmt.Errorf("drive: check q4h: %w", err)
	} else if hasQ4H {
		// Still waiting on the human; a stray trigger (e.g. a sibling
		// subdialog's reply) must not start a round out from under an open
		// question (§4.9).
		return "", nil
	}

	if prompt == "" {
		// Resolve the effective prompt (§4.4 step "resolve effective
		// prompt"): an explicit prompt always wins; otherwise take the
		// dialog's queued upNext prompt at most once.
		d.Lock()
		prompt = d.UpNextPrompt
		d.UpNextPrompt = ""
		d.Unlock()
	}

	if err := e.store.MutateLatest(id, func(l *store.Latest) error {
		l.RunState = store.RunState{Kind: store.RunProceeding}
		l.NeedsDrive = false
		return nil
	}); err != nil {
		return "", fmt.Errorf("drive: mark proceeding: %w", err)
	}
	d.Lock()
	d.RunState = store.RunState{Kind: store.RunProceeding}
	d.Unlock()

	if id.IsRoot() {
		e.registry.MarkNotNeedingDrive(id.RootID, "drive_executor", "round_started")
	}

	if id.IsRoot() && prompt == "" && !opts.SuppressDiligencePush {
		pushPrompt, granted, pushErr := e.diligence.Decide(root, false)
		if pushErr != nil {
			logger.Get().Warn().Err(pushErr).Str("root_id", id.RootID).Msg("drive: diligence push decision failed")
		} else if granted {
			prompt = pushPrompt
		}
	}

	saying, runErr := e.driveOnce(ctx, root, sub, d, id, prompt, opts)

	finalState := store.RunState{Kind: store.RunIdleWaitingUser}
	if runErr != nil {
		finalState = store.RunState{Kind: store.RunInterrupted, Reason: "round_error"}
	}
	if stateErr := e.store.MutateLatest(id, func(l *store.Latest) error {
		if l.RunState.Kind == store.RunProceeding {
			l.RunState = finalState
		}
		return nil
	}); stateErr != nil {
		logger.Get().Warn().Err(stateErr).Msg("drive: failed to close out run state")
	}
	d.Lock()
	if d.RunState.Kind == store.RunProceeding {
		d.RunState = finalState
	}
	d.Unlock()

	if runErr != nil {
		return "", runErr
	}
	return saying, nil
}

func (e *Executor) driveOnce(ctx context.Context, root *dialog.RootDialog, sub *dialog.SubDialog, d *dialog.Dialog, id store.DialogID, prompt string, opts drivetypes.DriveOptions) (string, error) {
	d.Lock()
	if err := e.reminder.Sync(id, d); err != nil {
		logger.Get().Warn().Err(err).Str("dialog_id", id.SelfID).Msg("drive: reminder sync failed")
	}
	reminderContent := reminder.Content(d)
	course := d.CurrentCourse
	agentID := d.AgentID
	taskDocPath := d.TaskDocPath
	if prompt != "" {
		d.Messages = append(d.Messages, provider.Message{Role: provider.RoleUser, Content: prompt})
	}
	messages := append([]provider.Message(nil), d.Messages...)
	d.Unlock()

	if reminderContent != "" {
		messages = append(messages, provider.Message{Role: provider.RoleUser, Content: reminderContent})
	}

	key := queueKey(id)
	e.countMu.Lock()
	countdown, seen := e.countdowns[key]
	if !seen {
		countdown = maxCriticalCountdown
	}
	e.countMu.Unlock()

	decision := e.health.Check(ctx, key, messages, countdown)
	switch decision.Verdict {
	case VerdictSuspend:
		runstate.RequestInterruptDialog(e.store, id, "context_health_suspend:"+decision.Reason)
		return "", fmt.Errorf("drive: context health suspended dialog: %s", decision.Reason)
	case VerdictContinue:
		messages = decision.Messages
		countdown--
	default:
		countdown = maxCriticalCountdown
	}
	e.countMu.Lock()
	e.countdowns[key] = countdown
	e.countMu.Unlock()

	systemPrompt, err := e.minds.SystemPrompt(agentID, taskDocPath)
	if err != nil {
		return "", fmt.Errorf("drive: load system prompt: %w", err)
	}
	tools, err := e.minds.Tools(agentID)
	if err != nil {
		return "", fmt.Errorf("drive: load tools: %w", err)
	}
	prov, err := e.providers.Resolve(agentID)
	if err != nil {
		return "", fmt.Errorf("drive: resolve provider: %w", err)
	}

	req := provider.ChatRequest{
		Model:          e.minds.Model(agentID),
		Messages:       append([]provider.Message{{Role: provider.RoleSystem, Content: systemPrompt}}, messages...),
		Tools:          tools,
		Stream:         true,
		ConversationID: id.SelfID,
	}

	if err := e.store.AppendEvent(id, store.Event{Course: course, Type: store.EventPrompting, Timestamp: time.Now()}); err != nil {
		return "", fmt.Errorf("drive: append prompting event: %w", err)
	}

	content, calls, err := e.streamRound(ctx, id, course, prov, req)
	if err != nil {
		return "", err
	}

	d.Lock()
	if content != "" {
		d.Messages = append(d.Messages, provider.Message{Role: provider.RoleAssistant, Content: content})
	}
	d.Unlock()

	if len(calls) == 0 {
		return content, nil
	}

	caller := specialcall.CallerInfo{ID: id, AgentID: agentID, TaskDocPath: taskDocPath, Root: root, Sub: sub}
	result, err := e.special.Execute(ctx, caller, calls, course)
	if err != nil {
		return content, fmt.Errorf("drive: special-call execution: %w", err)
	}
	if len(result.ToolMessages) > 0 {
		d.Lock()
		d.Messages = append(d.Messages, result.ToolMessages...)
		d.Unlock()
	}

	if !result.Suspend {
		next, err := e.driveOnce(ctx, root, sub, d, id, "", opts)
		if err != nil {
			return content, err
		}
		return next, nil
	}

	if !id.IsRoot() && sub != nil {
		target := sub.ReplyTarget()
		parentCourse, err := e.store.CurrentCourseNumber(target.OwnerDialogID)
		if err != nil {
			return content, fmt.Errorf("drive: load parent course: %w", err)
		}
		if err := e.replyRouter.SupplyResponseToSupdialog(id, target, parentCourse); err != nil {
			return content, fmt.Errorf("drive: reply routing on suspend: %w", err)
		}
	}
	return content, nil
}

// streamRound drives prov.Stream to completion, persisting each event to
// the course log and accumulating the assistant's final text plus any
// function calls it emitted.
func (e *Executor) streamRound(ctx context.Context, id store.DialogID, course int, prov provider.Provider, req provider.ChatRequest) (string, []specialcall.RawCall, error) {
	events, err := prov.Stream(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("drive: start stream: %w", err)
	}

	var content string
	var calls []specialcall.RawCall
	seenCall := make(map[string]int) // call id -> index in calls, for tool_call_update merges

	for ev := range events {
		switch ev.Type {
		case provider.EventTypeContent:
			content += ev.Delta
			_ = e.store.AppendEvent(id, store.Event{Course: course, Type: store.EventSayingStreamChunk, Timestamp: time.Now(), Payload: map[string]any{"delta": ev.Delta}})
		case provider.EventTypeThinking:
			_ = e.store.AppendEvent(id, store.Event{Course: course, Type: store.EventThinkingChunk, Timestamp: time.Now(), Payload: map[string]any{"delta": ev.Thinking}})
		case provider.EventTypeToolCall:
			if ev.ToolCall == nil {
				continue
			}
			args := ev.ToolCall.Arguments
			name := ev.ToolCall.Name
			if ev.ToolCall.Function != nil {
				name = ev.ToolCall.Function.Name
				args = ev.ToolCall.Function.Arguments
			}
			seenCall[ev.ToolCall.ID] = len(calls)
			calls = append(calls, specialcall.RawCall{CallID: ev.ToolCall.ID, Name: name, Arguments: []byte(args)})
			_ = e.store.AppendEvent(id, store.Event{Course: course, Type: store.EventFunctionCall, CallID: ev.ToolCall.ID, Timestamp: time.Now(), Payload: map[string]any{"name": name, "arguments": args}})
		case provider.EventTypeToolCallUpdate:
			if ev.ToolCallUpdate == nil {
				continue
			}
			if idx, ok := seenCall[ev.ToolCallUpdate.ID]; ok && ev.ToolCallUpdate.Arguments != "" {
				calls[idx].Arguments = []byte(ev.ToolCallUpdate.Arguments)
			}
		case provider.EventTypeError:
			return "", nil, fmt.Errorf("drive: provider stream: %w", ev.Error)
		case provider.EventTypeDone:
			_ = e.store.AppendEvent(id, store.Event{Course: course, Type: store.EventSayingStreamFinish, Timestamp: time.Now(), Payload: map[string]any{"content": content, "finish_reason": ev.FinishReason}})
		}
	}

	return content, calls, nil
}
