package specialcall

import "errors"

var (
	// ErrUnknownCall is returned by Parse for a model call name outside the
	// fixed set {tellaskBack, tellask, tellaskSessionless, askHuman,
	// freshBootsReasoning} (§4.5 "Reject names not in ...").
	ErrUnknownCall = errors.New("specialcall: unknown call name")

	// ErrArgumentsNotObject is returned when a call's arguments are not a
	// JSON object.
	ErrArgumentsNotObject = errors.New("specialcall: arguments must be a JSON object")

	// ErrEmptyTellaskContent is returned when tellaskContent is missing or
	// empty (every call requires it).
	ErrEmptyTellaskContent = errors.New("specialcall: tellaskContent is required and must be nonempty")

	// ErrMissingTargetAgent is returned when tellask/tellaskSessionless omit
	// targetAgentId (or its agentId/target aliases).
	ErrMissingTargetAgent = errors.New("specialcall: targetAgentId is required")

	// ErrBadSessionSlug is returned when tellask's sessionSlug fails the
	// slug grammar `alpha (alnum|_|-)* ('.' segment)*`.
	ErrBadSessionSlug = errors.New("specialcall: sessionSlug does not match the slug grammar")

	// ErrBadEffort is returned when freshBootsReasoning's effort is present
	// but outside [0,100] or non-integer.
	ErrBadEffort = errors.New("specialcall: effort must be an integer in [0,100]")

	// ErrTellaskBackFromRoot is returned when a root dialog (not a
	// subdialog) issues tellaskBack; Type A replies to a supdialog that a
	// root, by definition, does not have.
	ErrTellaskBackFromRoot = errors.New("specialcall: tellaskBack is invalid from a root dialog")

	// ErrDirectSelfCall is returned when a non-FBR call's targetAgentId
	// equals the caller's own agentId (§4.5 "Self-call invariant").
	ErrDirectSelfCall = errors.New("specialcall: direct self-calls are rejected, use freshBootsReasoning instead")

	// ErrFBRDisabled is returned when the resolved fresh-boots-reasoning
	// effort is < 1 (§4.5 step 1).
	ErrFBRDisabled = errors.New("specialcall: freshBootsReasoning is disabled for this agent (effort < 1)")
)
