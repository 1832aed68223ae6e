// Package specialcall implements the Special-Call Executor (§4.5): parsing
// model-emitted inter-agent calls into a typed variant, classifying them
// into Type A/B/C reply semantics, and executing the resulting side effects
// on the dialog/subdialog graph.
package specialcall

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"dominds/internal/store"
)

// RawCall is one model-emitted function call within a single generation,
// before it is parsed or validated.
type RawCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// ParsedCall is a validated, typed model call ready for classification and
// execution.
type ParsedCall struct {
	CallID         string
	Name           store.CallName
	TellaskContent string
	TargetAgentID  string   // tellask, tellaskSessionless
	SessionSlug    string   // tellask only
	MentionList    []string // tellask, tellaskSessionless
	Effort         *int     // freshBootsReasoning only; nil means "use agent default"
}

// ParseIssue describes one malformed call. Per §4.5, a malformed call in a
// batch does not prevent the other, well-formed calls in that batch from
// executing.
type ParseIssue struct {
	CallID string
	Name   string
	Err    error
}

func (i ParseIssue) Error() string {
	return fmt.Sprintf("specialcall: call %s (%s): %v", i.CallID, i.Name, i.Err)
}

// sessionSlugPattern implements the slug grammar from §3:
// alpha (alnum|_|-)* ('.' segment)*, where each dot-segment has the same
// shape as the head.
var sessionSlugPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(\.[A-Za-z][A-Za-z0-9_-]*)*$`)

// ValidSessionSlug reports whether slug matches the grammar from §3.
func ValidSessionSlug(slug string) bool {
	return sessionSlugPattern.MatchString(slug)
}

// recognizedNames is the fixed set of call names the executor accepts
// (§4.5 "Reject names not in ...").
var recognizedNames = map[string]store.CallName{
	string(store.CallTellaskBack):         store.CallTellaskBack,
	string(store.CallTellask):             store.CallTellask,
	string(store.CallTellaskSessionless):  store.CallTellaskSessionless,
	string(store.CallAskHuman):            store.CallAskHuman,
	string(store.CallFreshBootsReasoning): store.CallFreshBootsReasoning,
}

// ParseBatch parses every raw call in a single generation's batch, returning
// the valid calls and a ParseIssue for each malformed one. Order of valid
// calls matches the input order.
func ParseBatch(raws []RawCall) ([]ParsedCall, []ParseIssue) {
	var valid []ParsedCall
	var issues []ParseIssue
	for _, raw := range raws {
		pc, err := Parse(raw)
		if err != nil {
			issues = append(issues, ParseIssue{CallID: raw.CallID, Name: raw.Name, Err: err})
			continue
		}
		valid = append(valid, *pc)
	}
	return valid, issues
}

// Parse validates a single raw call against §4.5's rules, returning the
// typed ParsedCall or the first validation error encountered.
func Parse(raw RawCall) (*ParsedCall, error) {
	name, ok := recognizedNames[raw.Name]
	if !ok {
		return nil, ErrUnknownCall
	}

	var args map[string]any
	if len(raw.Arguments) > 0 {
		if err := json.Unmarshal(raw.Arguments, &args); err != nil {
			return nil, ErrArgumentsNotObject
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	content, _ := args["tellaskContent"].(string)
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyTellaskContent
	}

	pc := &ParsedCall{
		CallID:         raw.CallID,
		Name:           name,
		TellaskContent: content,
		MentionList:    stringSlice(args["mentionList"]),
	}

	switch name {
	case store.CallTellask:
		target, err := targetAgentID(args)
		if err != nil {
			return nil, err
		}
		slug, _ := args["sessionSlug"].(string)
		if !ValidSessionSlug(slug) {
			return nil, ErrBadSessionSlug
		}
		pc.TargetAgentID = target
		pc.SessionSlug = slug

	case store.CallTellaskSessionless:
		target, err := targetAgentID(args)
		if err != nil {
			return nil, err
		}
		pc.TargetAgentID = target

	case store.CallFreshBootsReasoning:
		if raw, ok := args["effort"]; ok {
			effort, err := asInt(raw)
			if err != nil || effort < 0 || effort > 100 {
				return nil, ErrBadEffort
			}
			pc.Effort = &effort
		}

	case store.CallAskHuman, store.CallTellaskBack:
		// No further required fields beyond tellaskContent.
	}

	return pc, nil
}

// targetAgentID reads targetAgentId (or its agentId/target aliases),
// stripping a leading '@' if present (§4.5 "optionally @-prefixed,
// normalized by stripping leading @").
func targetAgentID(args map[string]any) (string, error) {
	for _, key := range []string{"targetAgentId", "agentId", "target"} {
		if v, ok := args[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimPrefix(strings.TrimSpace(v), "@"), nil
		}
	}
	return "", ErrMissingTargetAgent
}

func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not an integer")
		}
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("not a number")
	}
}
