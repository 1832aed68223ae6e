package store

import "time"

// DialogID identifies a dialog by its own id and the id of the root that
// owns its subtree. A dialog is a root iff SelfID == RootID.
type DialogID struct {
	SelfID string
	RootID string
}

// IsRoot reports whether this id names a root dialog.
func (id DialogID) IsRoot() bool {
	return id.SelfID == id.RootID
}

// Status is the on-disk persistence status directory a root dialog lives
// under: <workspace>/dialogs/<status>/<rootId>/.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Valid reports whether s is one of the three recognized statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusCompleted, StatusArchived:
		return true
	default:
		return false
	}
}

// RunStateKind tags the Run-State Machine's variant (§4.7).
type RunStateKind string

const (
	RunIdleWaitingUser         RunStateKind = "idle_waiting_user"
	RunProceeding              RunStateKind = "proceeding"
	RunProceedingStopRequested RunStateKind = "proceeding_stop_requested"
	RunInterrupted             RunStateKind = "interrupted"
	RunDead                    RunStateKind = "dead"
	RunTerminal                RunStateKind = "terminal"
)

// TerminalStatus is the sub-state carried by RunTerminal.
type TerminalStatus string

const (
	TerminalCompleted TerminalStatus = "completed"
	TerminalArchived  TerminalStatus = "archived"
)

// RunState is the tagged variant from §3/§4.7. Reason is populated for
// ProceedingStopRequested/Interrupted/Dead; TerminalStatus for Terminal.
type RunState struct {
	Kind           RunStateKind   `yaml:"kind" json:"kind"`
	Reason         string         `yaml:"reason,omitempty" json:"reason,omitempty"`
	TerminalStatus TerminalStatus `yaml:"terminal_status,omitempty" json:"terminal_status,omitempty"`
}

// IsDead reports whether this state is the irreversible dead state.
func (r RunState) IsDead() bool { return r.Kind == RunDead }

// Latest is the single mutable file per dialog (§3 "Dialog Latest Pointer").
type Latest struct {
	CurrentCourse                int       `yaml:"current_course" json:"current_course"`
	LastModified                 time.Time `yaml:"last_modified" json:"last_modified"`
	Status                       Status    `yaml:"status" json:"status"`
	MessageCount                 int       `yaml:"message_count" json:"message_count"`
	FunctionCallCount            int       `yaml:"function_call_count" json:"function_call_count"`
	SubdialogCount               int       `yaml:"subdialog_count" json:"subdialog_count"`
	RunState                     RunState  `yaml:"run_state" json:"run_state"`
	DisableDiligencePush         *bool     `yaml:"disable_diligence_push,omitempty" json:"disable_diligence_push,omitempty"`
	DiligencePushRemainingBudget *int      `yaml:"diligence_push_remaining_budget,omitempty" json:"diligence_push_remaining_budget,omitempty"`
	NeedsDrive                   bool      `yaml:"needs_drive" json:"needs_drive"`
}

// CallType distinguishes the three special-call execution shapes (§4.5).
type CallType string

const (
	CallTypeA CallType = "A" // tellaskBack — reply-to-supdialog
	CallTypeB CallType = "B" // tellask — session-keyed
	CallTypeC CallType = "C" // tellaskSessionless — one-shot
)

// CallName is the special-call function name the model invoked.
type CallName string

const (
	CallTellask             CallName = "tellask"
	CallTellaskBack         CallName = "tellaskBack"
	CallTellaskSessionless  CallName = "tellaskSessionless"
	CallAskHuman            CallName = "askHuman"
	CallFreshBootsReasoning CallName = "freshBootsReasoning"
)

// AssignmentFromSup is the immutable record of a subdialog's originating
// call (§3 SubDialog.assignmentFromSup), mutable only via an atomic
// reassignment on Type-B resume.
type AssignmentFromSup struct {
	CallName          CallName `yaml:"call_name" json:"call_name"`
	MentionList       []string `yaml:"mention_list,omitempty" json:"mention_list,omitempty"`
	TellaskContent    string   `yaml:"tellask_content" json:"tellask_content"`
	OriginMemberID    string   `yaml:"origin_member_id,omitempty" json:"origin_member_id,omitempty"`
	CallerDialogID    DialogID `yaml:"caller_dialog_id" json:"caller_dialog_id"`
	CallID            string   `yaml:"call_id" json:"call_id"`
	SessionSlug       string   `yaml:"session_slug,omitempty" json:"session_slug,omitempty"`
	CollectiveTargets []string `yaml:"collective_targets,omitempty" json:"collective_targets,omitempty"`
}

// Metadata is the one-shot-write per-dialog record (§6 metadata.yaml).
type Metadata struct {
	ID                DialogID           `yaml:"id" json:"id"`
	AgentID           string             `yaml:"agent_id" json:"agent_id"`
	TaskDocPath       string             `yaml:"task_doc_path" json:"task_doc_path"`
	CreatedAt         time.Time          `yaml:"created_at" json:"created_at"`
	SupdialogRef      *DialogID          `yaml:"supdialog_ref,omitempty" json:"supdialog_ref,omitempty"`
	RootDialogRef     *DialogID          `yaml:"root_dialog_ref,omitempty" json:"root_dialog_ref,omitempty"`
	AssignmentFromSup *AssignmentFromSup `yaml:"assignment_from_sup,omitempty" json:"assignment_from_sup,omitempty"`
	SessionSlug       string             `yaml:"session_slug,omitempty" json:"session_slug,omitempty"`
}

// PendingSubdialogRecord is one entry of a caller dialog's persisted pending
// list (§3), mutated only under the caller's subdialog-txn lock.
type PendingSubdialogRecord struct {
	SubdialogID    string    `yaml:"subdialog_id" json:"subdialog_id"`
	CreatedAt      time.Time `yaml:"created_at" json:"created_at"`
	CallName       CallName  `yaml:"call_name" json:"call_name"`
	MentionList    []string  `yaml:"mention_list,omitempty" json:"mention_list,omitempty"`
	TellaskContent string    `yaml:"tellask_content" json:"tellask_content"`
	TargetAgentID  string    `yaml:"target_agent_id" json:"target_agent_id"`
	CallID         string    `yaml:"call_id" json:"call_id"`
	CallingCourse  int       `yaml:"calling_course,omitempty" json:"calling_course,omitempty"`
	CallType       CallType  `yaml:"call_type" json:"call_type"`
	SessionSlug    string    `yaml:"session_slug,omitempty" json:"session_slug,omitempty"`
}

// CallSiteRef locates the model call that produced a Q4H question.
type CallSiteRef struct {
	Course       int `yaml:"course" json:"course"`
	MessageIndex int `yaml:"message_index" json:"message_index"`
}

// HumanQuestion is a pending askHuman question (§3, §4.9). Its ID has the
// form q4h-<rootId>-<selfId>-c<course>-<callId>.
type HumanQuestion struct {
	ID               string      `yaml:"id" json:"id"`
	RootID           string      `yaml:"root_id" json:"root_id"`
	SelfID           string      `yaml:"self_id" json:"self_id"`
	AgentID          string      `yaml:"agent_id" json:"agent_id"`
	TaskDocPath      string      `yaml:"task_doc_path" json:"task_doc_path"`
	TellaskContent   string      `yaml:"tellask_content" json:"tellask_content"`
	AskedAt          time.Time   `yaml:"asked_at" json:"asked_at"`
	CallID           string      `yaml:"call_id" json:"call_id"`
	RemainingCallIDs []string    `yaml:"remaining_call_ids,omitempty" json:"remaining_call_ids,omitempty"`
	CallSiteRef      CallSiteRef `yaml:"call_site_ref" json:"call_site_ref"`
}

// EventType tags the kind of a course-log entry (§3 "Course Event").
type EventType string

const (
	EventPrompting           EventType = "prompting"
	EventSayingStreamStart   EventType = "saying_stream_start"
	EventSayingStreamChunk   EventType = "saying_stream_chunk"
	EventSayingStreamFinish  EventType = "saying_stream_finish"
	EventThinkingChunk       EventType = "thinking_chunk"
	EventFunctionCall        EventType = "function_call"
	EventTeammateCallAnchor  EventType = "teammate_call_anchor_record"
	EventToolResult          EventType = "tool_result"
	EventTeammateResponse    EventType = "teammate_response_record"
	EventContextHealth       EventType = "context_health_snapshot"
	EventReminderMutation    EventType = "reminder_mutation"
)

// AnchorRole distinguishes the two roles a teammate_call_anchor_record can
// carry (§4.6 step 5).
type AnchorRole string

const (
	AnchorAssignment AnchorRole = "assignment"
	AnchorResponse   AnchorRole = "response"
)

// Event is one entry of a course's append-only log. GenSeq increases
// monotonically within a course; Course is fixed once the event is written.
type Event struct {
	GenSeq    int64          `yaml:"gen_seq" json:"gen_seq"`
	Course    int            `yaml:"course" json:"course"`
	Type      EventType      `yaml:"type" json:"type"`
	Timestamp time.Time      `yaml:"timestamp" json:"timestamp"`
	CallID    string         `yaml:"call_id,omitempty" json:"call_id,omitempty"`
	AnchorRole AnchorRole    `yaml:"anchor_role,omitempty" json:"anchor_role,omitempty"`
	Payload   map[string]any `yaml:"payload,omitempty" json:"payload,omitempty"`
}
