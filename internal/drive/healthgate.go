package drive

import (
	"context"
	"fmt"

	"dominds/internal/compaction"
	"dominds/internal/provider"
)

// HealthVerdict is the Context Health Gate's decision for a round (§4.4
// "consult Context Health Gate").
type HealthVerdict int

const (
	// VerdictProceed means the round may run with its messages as-is.
	VerdictProceed HealthVerdict = iota
	// VerdictContinue means the gate compacted or truncated messages and the
	// round should proceed with the returned, shrunk transcript.
	VerdictContinue
	// VerdictSuspend means the transcript is over budget even after
	// compaction and the round must not call the provider; the dialog is
	// parked pending intervention (§4.4 edge case: critical countdown
	// exhausted).
	VerdictSuspend
)

// HealthDecision is the gate's verdict plus the (possibly rewritten)
// messages the round should use.
type HealthDecision struct {
	Verdict  HealthVerdict
	Reason   string
	Messages []provider.Message
}

// HealthGate wraps a compaction.Compactor with the proceed/continue/suspend
// decision the Drive Executor consults before every round. Grounded on
// compaction.Compactor's own NeedsMemoryFlush/NeedsCompaction distinction:
// a memory flush is urgent enough to force synchronous compaction even when
// it means stalling the round, while ordinary NeedsCompaction can run the
// cheaper CompactWithFallback path.
type HealthGate struct {
	compactor *compaction.Compactor
}

// NewHealthGate constructs a HealthGate over an already-configured
// Compactor (context window and byte budget set by the caller via
// WithContextWindow/WithMaxRequestBytes).
func NewHealthGate(c *compaction.Compactor) *HealthGate {
	return &HealthGate{compactor: c}
}

// Check runs one round's worth of health evaluation. criticalCountdown
// counts how many consecutive rounds this dialog has needed a memory flush
// without making progress; when it reaches zero, the gate suspends instead
// of compacting again, so a dialog that cannot shrink its own transcript
// doesn't spin forever.
func (g *HealthGate) Check(ctx context.Context, sessionID string, messages []provider.Message, criticalCountdown int) HealthDecision {
	if g.compactor.NeedsMemoryFlush(messages) {
		if criticalCountdown <= 0 {
			return HealthDecision{Verdict: VerdictSuspend, Reason: "memory_flush_exhausted", Messages: messages}
		}
		compacted, err := g.compactor.Compact(ctx, messages)
		if err != nil {
			return HealthDecision{Verdict: VerdictSuspend, Reason: fmt.Sprintf("memory_flush_failed: %v", err), Messages: messages}
		}
		g.compactor.IncrementCompactionCount(sessionID)
		return HealthDecision{Verdict: VerdictContinue, Reason: "memory_flush", Messages: compacted}
	}

	if g.compactor.NeedsCompaction(messages) {
		compacted := g.compactor.CompactWithFallback(ctx, messages)
		g.compactor.IncrementCompactionCount(sessionID)
		return HealthDecision{Verdict: VerdictContinue, Reason: "routine_compaction", Messages: compacted}
	}

	return HealthDecision{Verdict: VerdictProceed, Messages: messages}
}
