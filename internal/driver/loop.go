// Package driver implements the Backend Driver Loop (§4.3): the single
// goroutine that wakes on every Dialog Registry trigger, re-checks which
// roots are eligible, and schedules a round for each one through the Drive
// Executor.
package driver

import (
	"context"
	"sync"

	"dominds/internal/dialog"
	"dominds/internal/drivetypes"
	"dominds/internal/registry"
	"dominds/internal/runstate"
	"dominds/internal/store"
	"dominds/pkg/logger"
)

// Loop is the Backend Driver Loop. It owns no dialog state itself — it only
// decides, on every wakeup, which needing-drive roots are still eligible
// and asks the Drive Executor to run them.
type Loop struct {
	store    *store.Store
	registry *registry.Registry
	driver   drivetypes.Driver

	done    chan struct{}
	closeMu sync.Once
	wg      sync.WaitGroup
}

// New constructs a Loop. Run must be called (typically in its own
// goroutine) to start consuming trigger events.
func New(s *store.Store, reg *registry.Registry, d drivetypes.Driver) *Loop {
	return &Loop{
		store:    s,
		registry: reg,
		driver:   d,
		done:     make(chan struct{}),
	}
}

// Bootstrap runs the one-time startup sequence §4.7 requires before any
// round is driven: rehydrate the Event Store's location index for every
// running dialog, then reconcile any run state left proceeding or
// proceeding_stop_requested by a crash into interrupted{crash_recovery}.
func Bootstrap(s *store.Store) (reconciledCount int, err error) {
	if err := s.Rehydrate(store.StatusRunning); err != nil {
		return 0, err
	}
	ids, err := s.ListDialogIDs(store.StatusRunning)
	if err != nil {
		return 0, err
	}
	return runstate.ReconcileCrashRecovery(s, ids)
}

// Run blocks, consuming DriveTriggerEvents and re-evaluating eligible
// dialogs, until Stop is called or ctx is done (§4.3 steps 1-4).
func (l *Loop) Run(ctx context.Context) {
	l.wg.Add(1)
	defer l.wg.Done()

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.done:
		}
		close(stop)
	}()
	defer func() { <-stop }()

	for {
		if _, ok := l.registry.WaitForDriveTrigger(l.done); !ok {
			return
		}
		l.sweep()
	}
}

// Stop ends Run's loop. Idempotent.
func (l *Loop) Stop() {
	l.closeMu.Do(func() { close(l.done) })
}

// Wait blocks until Run has returned.
func (l *Loop) Wait() {
	l.wg.Wait()
}

// sweep re-scans every root currently flagged needsDrive and, for each one
// still eligible, schedules a round. A root found ineligible (dead,
// terminal, interrupted, or already mid-round) has its flag cleared instead
// so a stale trigger doesn't spin the loop forever re-checking it (§4.3 step
// 4). Interrupted roots stay ineligible here because a registry wakeup is
// never a user-driven resume; only resume_dialog/resume_all may revive one.
func (l *Loop) sweep() {
	for _, root := range l.registry.DialogsNeedingDrive() {
		if !l.eligible(root) {
			logger.Get().Debug().Str("root_id", root.ID.RootID).Msg("driver: root not eligible, clearing needs_drive")
			l.registry.MarkNotNeedingDrive(root.ID.RootID, "driver_loop", "ineligible")
			continue
		}
		l.driver.ScheduleDrive(root.ID, "", drivetypes.DriveOptions{})
	}
}

func (l *Loop) eligible(root *dialog.RootDialog) bool {
	root.Lock()
	kind := root.RunState.Kind
	root.Unlock()

	switch kind {
	case store.RunDead, store.RunTerminal, store.RunProceeding, store.RunProceedingStopRequested, store.RunInterrupted:
		return false
	default:
		return true
	}
}
