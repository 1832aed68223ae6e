package specialcall

import (
	"context"
	"fmt"

	"dominds/internal/provider"
	"dominds/internal/store"
)

// executeFBR implements §4.5 "freshBootsReasoning (FBR) execution": one
// self-directed subdialog driven serially for `effort` rounds, each told to
// adopt a distinct perspective and avoid repeating prior conclusions.
func (e *Executor) executeFBR(ctx context.Context, caller CallerInfo, pc ParsedCall, course int) (provider.Message, bool, error) {
	effort := e.agents.DefaultFBREffort(caller.AgentID)
	if pc.Effort != nil {
		effort = *pc.Effort
	}
	if effort < 1 {
		return provider.Message{}, false, ErrFBRDisabled
	}

	selfID := e.newID()
	subID := store.DialogID{SelfID: selfID, RootID: caller.Root.ID.RootID}
	assignment := store.AssignmentFromSup{
		CallName:       store.CallFreshBootsReasoning,
		TellaskContent: pc.TellaskContent,
		OriginMemberID: caller.AgentID,
		CallerDialogID: caller.ID,
		CallID:         pc.CallID,
	}
	if err := e.createSubdialog(caller, subID, caller.AgentID, assignment); err != nil {
		return provider.Message{}, false, err
	}

	var lastSaying string
	var roundErr error
	for i := 1; i <= effort; i++ {
		final := i == effort
		if final {
			// Written before the final round so that, if the subdialog
			// replies upstream before this call returns, the pending
			// record is already in place to be consumed (§4.5 step 2,
			// §8 "FBR round count").
			if err := e.appendPendingRecord(caller.ID, subID.SelfID, pc, course, store.CallTypeC); err != nil {
				return provider.Message{}, false, err
			}
		}
		body := fbrRoundPrompt(pc.TellaskContent, i, effort, final)
		lastSaying, roundErr = e.driver.DriveDialog(ctx, subID, body, DriveOptions{WaitInQue: true})
		if roundErr != nil {
			break
		}
	}

	// The final round may already have delivered its reply upstream via
	// Reply Routing by the time DriveDialog returns (if the subdialog's own
	// drive round performed reply supply). Re-check whether the pending
	// record this call wrote is still present to decide whether the caller
	// must still suspend waiting for it (§4.5 step 2 "re-check").
	suspend, err := e.fbrStillPending(caller.ID, subID.SelfID)
	if err != nil {
		return provider.Message{}, false, err
	}

	if roundErr != nil {
		return provider.Message{}, suspend, fmt.Errorf("fresh-boots round failed: %w", roundErr)
	}
	if suspend {
		return e.acceptedMessage(pc.CallID), true, nil
	}
	return provider.Message{Role: provider.RoleTool, ToolCallID: pc.CallID, Content: lastSaying}, false, nil
}

func (e *Executor) fbrStillPending(callerID store.DialogID, subdialogID string) (bool, error) {
	list, err := e.store.LoadPendingSubdialogs(callerID)
	if err != nil {
		return false, err
	}
	for _, r := range list {
		if r.SubdialogID == subdialogID {
			return true, nil
		}
	}
	return false, nil
}

// fbrRoundPrompt builds the header that tells the model to adopt a distinct
// perspective for round i of effort, never repeating prior-round
// conclusions; the final round additionally demands novel angles and
// evidence (§4.5).
func fbrRoundPrompt(content string, round, effort int, final bool) string {
	header := fmt.Sprintf("Fresh-boots reasoning round %d/%d: adopt a perspective distinct from any prior round. Do not restate conclusions you already reached.", round, effort)
	if final {
		header += " This is the final round: surface genuinely novel angles and supporting evidence rather than summarizing."
	}
	return header + "\n\n" + content
}
