// Package runstate implements the Run-State Machine (§4.7): legal
// transitions between idle_waiting_user, proceeding,
// proceeding_stop_requested, interrupted, dead, and terminal, plus the
// crash-recovery reconciliation that runs once at startup.
package runstate

import (
	"dominds/internal/store"
)

// CrashRecoveryReason is the fixed reason stamped onto every dialog whose
// persisted run state was proceeding or proceeding_stop_requested when the
// process last exited (§4.7 "crash reconciliation").
const CrashRecoveryReason = "crash_recovery"

// CanTransition reports whether moving from `from` to `to` is a legal
// Run-State Machine edge. dead is a sink: every edge out of dead except
// dead->dead is rejected (enforced again, defensively, by
// store.Store.MutateLatest's ErrDeadImmutable check).
func CanTransition(from, to store.RunStateKind) bool {
	if from == store.RunDead {
		return to == store.RunDead
	}
	switch from {
	case store.RunIdleWaitingUser:
		return to == store.RunProceeding || to == store.RunDead
	case store.RunProceeding:
		switch to {
		case store.RunProceedingStopRequested, store.RunInterrupted, store.RunDead, store.RunTerminal, store.RunIdleWaitingUser:
			return true
		default:
			return false
		}
	case store.RunProceedingStopRequested:
		switch to {
		case store.RunInterrupted, store.RunDead, store.RunTerminal, store.RunIdleWaitingUser:
			return true
		default:
			return false
		}
	case store.RunInterrupted:
		switch to {
		case store.RunProceeding, store.RunDead, store.RunIdleWaitingUser:
			return true
		default:
			return false
		}
	case store.RunTerminal:
		// Terminal (completed/archived) is not itself a sink in the data
		// model the way dead is, but this runtime only ever moves into it
		// via explicit archival, never back out through this machine.
		return to == store.RunDead
	default:
		return false
	}
}

// RequestInterruptDialog interrupts id with the given reason if it is
// currently proceeding or proceeding_stop_requested. It is idempotent:
// calling it again on an already-interrupted dialog (for the same or a
// different reason) returns applied=false without error, matching the
// spec's `{applied: bool}` contract (§4.7).
func RequestInterruptDialog(s *store.Store, id store.DialogID, reason string) (applied bool, err error) {
	err = s.MutateLatest(id, func(l *store.Latest) error {
		switch l.RunState.Kind {
		case store.RunProceeding, store.RunProceedingStopRequested:
			l.RunState = store.RunState{Kind: store.RunInterrupted, Reason: reason}
			applied = true
		case store.RunInterrupted, store.RunDead, store.RunTerminal, store.RunIdleWaitingUser:
			applied = false
		}
		return nil
	})
	return applied, err
}

// RequestStopDialog marks a proceeding dialog proceeding_stop_requested,
// the cooperative "finish this round, then stop" signal. No-op (applied
// false) if the dialog is not currently proceeding.
func RequestStopDialog(s *store.Store, id store.DialogID) (applied bool, err error) {
	err = s.MutateLatest(id, func(l *store.Latest) error {
		if l.RunState.Kind == store.RunProceeding {
			l.RunState = store.RunState{Kind: store.RunProceedingStopRequested}
			applied = true
		}
		return nil
	})
	return applied, err
}

// MarkDead transitions id irreversibly to dead with the given reason. Safe
// to call on an already-dead dialog (idempotent re-dead).
func MarkDead(s *store.Store, id store.DialogID, reason string) error {
	return s.MutateLatest(id, func(l *store.Latest) error {
		l.RunState = store.RunState{Kind: store.RunDead, Reason: reason}
		return nil
	})
}

// RequestEmergencyStopAll interrupts every dialog among ids that is
// currently proceeding or proceeding_stop_requested. It does not fail fast:
// a failure on one dialog is recorded but does not stop the rest from being
// attempted, matching the error-handling policy that the driver loop never
// dies on a single dialog's failure (§7).
func RequestEmergencyStopAll(s *store.Store, ids []store.DialogID, reason string) (appliedCount int, errs []error) {
	for _, id := range ids {
		applied, err := RequestInterruptDialog(s, id, reason)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if applied {
			appliedCount++
		}
	}
	return appliedCount, errs
}

// ReconcileCrashRecovery scans every dialog (root and nested subdialog)
// under the running status and rewrites any proceeding or
// proceeding_stop_requested run state to interrupted{crash_recovery}. It
// must run once at startup before the Backend Driver Loop begins, so that
// no dialog is left claiming to be mid-round when nothing is actually
// running it.
func ReconcileCrashRecovery(s *store.Store, ids []store.DialogID) (reconciledCount int, err error) {
	for _, id := range ids {
		mutated := false
		mutErr := s.MutateLatest(id, func(l *store.Latest) error {
			switch l.RunState.Kind {
			case store.RunProceeding, store.RunProceedingStopRequested:
				l.RunState = store.RunState{Kind: store.RunInterrupted, Reason: CrashRecoveryReason}
				l.NeedsDrive = false
				mutated = true
			}
			return nil
		})
		if mutErr != nil {
			return reconciledCount, mutErr
		}
		if mutated {
			reconciledCount++
		}
	}
	return reconciledCount, nil
}
