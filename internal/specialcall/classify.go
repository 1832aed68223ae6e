package specialcall

import "dominds/internal/store"

// Classify resolves a parsed call's reply semantics (§4.5 "Classification").
// isSubdialog reports whether the caller is itself a subdialog (needed
// because tellaskBack is only legal from a subdialog).
func Classify(pc ParsedCall, isSubdialog bool) (store.CallType, error) {
	switch pc.Name {
	case store.CallTellaskBack:
		if !isSubdialog {
			return "", ErrTellaskBackFromRoot
		}
		return store.CallTypeA, nil
	case store.CallTellask:
		return store.CallTypeB, nil
	case store.CallTellaskSessionless:
		return store.CallTypeC, nil
	case store.CallFreshBootsReasoning:
		// FBR is a self-directed Type-C subdialog (§4.5).
		return store.CallTypeC, nil
	case store.CallAskHuman:
		// askHuman has no pending-subdialog call type; it resolves through
		// the Q4H queue, never the pending-subdialogs file.
		return "", nil
	default:
		return "", ErrUnknownCall
	}
}
