// Package reminder implements Tellask Reminder Sync (§4.11): keeping each
// dialog's single pendingTellask reminder in step with its pending-subdialog
// list, so the model is reminded what it is still waiting on without having
// to re-derive it from the raw pending list every round.
//
// Grounded on internal/q4h's mergedBody rendering (a numbered plain-text
// body built from pending call records) and internal/dialog.Reminder's
// existing shape.
package reminder

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"dominds/internal/dialog"
	"dominds/internal/store"
)

const headLimit = 140

var callTypeLabel = map[store.CallType]string{
	store.CallTypeA: "reply",
	store.CallTypeB: "session",
	store.CallTypeC: "one-shot",
}

// Syncer recomputes and writes a dialog's owned reminder from its current
// pending-subdialog view.
type Syncer struct {
	store *store.Store
}

func NewSyncer(s *store.Store) *Syncer {
	return &Syncer{store: s}
}

// Sync loads id's pending-subdialog list and brings d's owned reminder in
// step with it. Callers must hold d's lock for the duration (§4.11 "under
// the dialog lock").
func (s *Syncer) Sync(id store.DialogID, d *dialog.Dialog) error {
	pending, err := s.store.LoadPendingSubdialogs(id)
	if err != nil {
		return fmt.Errorf("reminder: load pending subdialogs: %w", err)
	}

	if len(pending) == 0 {
		d.Reminder = nil
		return nil
	}

	next := buildReminder(pending)

	if d.Reminder == nil {
		d.Reminder = next
		return nil
	}
	if d.Reminder.Signature != next.Signature || d.Reminder.Summary != next.Summary {
		*d.Reminder = *next
	}
	return nil
}

func buildReminder(pending []store.PendingSubdialogRecord) *dialog.Reminder {
	lines := make([]string, 0, len(pending))
	sigParts := make([]string, 0, len(pending))

	for _, p := range pending {
		label := callTypeLabel[p.CallType]
		if label == "" {
			label = string(p.CallType)
		}
		head := headOf(p.TellaskContent, headLimit)

		lines = append(lines, fmt.Sprintf("@%s | %s | %s", p.TargetAgentID, label, head))
		sigParts = append(sigParts, strings.Join([]string{p.SubdialogID, p.TargetAgentID, string(p.CallType), p.SessionSlug, head}, "\x1f"))
	}

	sort.Strings(sigParts)
	signature := strings.Join(sigParts, "\x1e")

	heading := "Pending teammate responses"
	summary := fmt.Sprintf("%d call(s) still outstanding.", len(pending))

	numbered := make([]string, len(lines))
	for i, l := range lines {
		numbered[i] = fmt.Sprintf("%d. %s", i+1, l)
	}

	return &dialog.Reminder{
		Heading:      heading,
		Summary:      summary,
		Lines:        numbered,
		PendingCount: len(pending),
		UpdatedAt:    time.Now(),
		Signature:    signature,
	}
}

func headOf(s string, limit int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}

// Content renders d's current reminder as a single block of text to splice
// into the next prompt, or "" if the dialog owns no reminder.
func Content(d *dialog.Dialog) string {
	if d.Reminder == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", d.Reminder.Heading, d.Reminder.Summary)
	for _, line := range d.Reminder.Lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// CheckInvariant reports an error if d somehow carries more than one
// reminder's worth of conflicting state. Dialog.Reminder is a single
// pointer so the sole-owner invariant holds by construction in this
// representation; this only guards against a caller that bypassed Sync and
// left a reminder behind with no pending subdialogs, or one whose
// PendingCount disagrees with the pending list, which would indicate a prior
// write broke the contract (§4.11).
func CheckInvariant(d *dialog.Dialog, pendingCount int) error {
	if d.Reminder == nil {
		return nil
	}
	if pendingCount == 0 {
		return fmt.Errorf("reminder: invariant violation: dialog %s owns a reminder with no pending subdialogs", d.ID.SelfID)
	}
	if d.Reminder.PendingCount != pendingCount {
		return fmt.Errorf("reminder: invariant violation: dialog %s reminder count %d does not match pending count %d", d.ID.SelfID, d.Reminder.PendingCount, pendingCount)
	}
	return nil
}
