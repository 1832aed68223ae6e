// Package diligence implements Diligence Push (§4.10): the root-dialog
// auto-continue budget that lets an idle root keep working without a fresh
// user message, plus the periodic refill and stale Type-B session sweep that
// keep that budget and the subdialog-session index honest over time.
package diligence

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"dominds/internal/dialog"
	"dominds/internal/registry"
	"dominds/internal/store"
	"dominds/pkg/logger"
)

// AutoContinuePrompt is injected in place of a user message when a push
// attempt is granted. It is deliberately generic: the dialog's own course
// history carries whatever context the next step needs.
const AutoContinuePrompt = "Continue working on the task without waiting for further input. Summarize progress so far, then proceed with the next step."

// BudgetResolver reports the configured maximum push budget for an agent.
// A value <=0 means "no configured max": Refill then adds a flat amount
// instead of resetting to a ceiling (§4.10 refill semantics).
type BudgetResolver interface {
	MaxDiligencePushBudget(agentID string) int
}

// additiveRefillAmount is the flat top-up applied when no configured max
// exists for an agent.
const additiveRefillAmount = 3

// Pusher decides and records Diligence Push attempts for individual roots.
type Pusher struct {
	store *store.Store
}

func NewPusher(s *store.Store) *Pusher {
	return &Pusher{store: s}
}

// Decide consults root's push state for a round that is NOT explicitly
// driven by a user message (userDriven=false) and, if a push is granted,
// returns the auto-continue prompt and atomically decrements the budget
// both in memory and on disk. ok=false means "disabled": the round should
// proceed with no injected prompt, or the dialog should simply stay idle.
func (p *Pusher) Decide(root *dialog.RootDialog, userDriven bool) (prompt string, ok bool, err error) {
	if userDriven {
		return "", false, nil
	}

	root.Lock()
	if root.DisableDiligencePush || root.DiligencePushRemainingBudget <= 0 {
		root.Unlock()
		return "", false, nil
	}
	root.DiligencePushRemainingBudget--
	remaining := root.DiligencePushRemainingBudget
	id := root.ID
	root.Unlock()

	if err := p.store.MutateLatest(id, func(l *store.Latest) error {
		l.DiligencePushRemainingBudget = &remaining
		return nil
	}); err != nil {
		return "", false, fmt.Errorf("diligence: persist decremented budget: %w", err)
	}
	return AutoContinuePrompt, true, nil
}

// SetDisabled flips root's disable flag and reports whether that change
// should trigger one immediate push attempt: only a true->false transition
// on an idle, drivable root with remaining budget does (§4.10).
func (p *Pusher) SetDisabled(root *dialog.RootDialog, disabled bool) (triggerPush bool, err error) {
	root.Lock()
	was := root.DisableDiligencePush
	root.DisableDiligencePush = disabled
	idle := root.RunState.Kind == store.RunIdleWaitingUser
	hasBudget := root.DiligencePushRemainingBudget > 0
	id := root.ID
	root.Unlock()

	if err := p.store.MutateLatest(id, func(l *store.Latest) error {
		v := disabled
		l.DisableDiligencePush = &v
		return nil
	}); err != nil {
		return false, fmt.Errorf("diligence: persist disable flag: %w", err)
	}

	return was && !disabled && idle && hasBudget, nil
}

// Refill resets root's remaining budget per §4.10: a configured max resets
// to that ceiling, otherwise the budget grows by a flat amount with no
// upper bound.
func (p *Pusher) Refill(root *dialog.RootDialog, configuredMax int) error {
	root.Lock()
	if configuredMax > 0 {
		root.DiligencePushRemainingBudget = configuredMax
	} else {
		root.DiligencePushRemainingBudget += additiveRefillAmount
	}
	remaining := root.DiligencePushRemainingBudget
	id := root.ID
	root.Unlock()

	return p.store.MutateLatest(id, func(l *store.Latest) error {
		l.DiligencePushRemainingBudget = &remaining
		return nil
	})
}

// Scheduler runs the periodic sweep: refill every registered root's budget
// and prune stale Type-B session entries whose target subdialog has died.
// Grounded on the teacher's own cron-driven background jobs; robfig/cron/v3
// is already a direct dependency, unwired until this package.
type Scheduler struct {
	cron     *cron.Cron
	pusher   *Pusher
	registry *registry.Registry
	budgets  BudgetResolver
}

func NewScheduler(pusher *Pusher, reg *registry.Registry, budgets BudgetResolver) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		pusher:   pusher,
		registry: reg,
		budgets:  budgets,
	}
}

// Start schedules the sweep on spec (standard 5-field cron syntax) and
// begins running it in the background. Call Stop to end it.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return fmt.Errorf("diligence: schedule sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop ends the scheduled sweep, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sweep() {
	for _, root := range s.registry.All() {
		if err := s.pusher.Refill(root, s.budgets.MaxDiligencePushBudget(root.AgentID)); err != nil {
			logger.Get().Warn().Err(err).Str("root_id", root.ID.RootID).Msg("diligence: refill failed")
		}
		s.pruneStaleSessions(root)
	}
}

// pruneStaleSessions drops Type-B session bindings pointing at a subdialog
// that has already run to completion and died. Only entries for subdialogs
// currently hydrated in the root's subtree index are checked: an entry
// referring to a subdialog not yet rehydrated is left alone, since liveness
// can't be determined without a disk read this sweep isn't in the business
// of doing.
func (s *Scheduler) pruneStaleSessions(root *dialog.RootDialog) {
	for key, selfID := range root.SessionEntries() {
		sub, ok := root.Subdialog(selfID)
		if !ok {
			continue
		}
		sub.Lock()
		dead := sub.RunState.Kind == store.RunDead
		sub.Unlock()
		if dead {
			root.SessionPrune(key[0], key[1])
		}
	}
}
