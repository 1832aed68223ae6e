// Package protocol implements the control & streaming protocol dispatcher
// (§6): it interprets the Envelope types internal/gateway/websocket routes
// to it and drives the orchestration core (registry, Drive Executor, Q4H
// Queue, Diligence Push, Reminder Sync) on the gateway's behalf.
package protocol

import "dominds/internal/store"

// Client→server message types (§6).
const (
	TypeCreateDialog             = "create_dialog"
	TypeDisplayDialog            = "display_dialog"
	TypeDisplayCourse            = "display_course"
	TypeDriveByUserMsg           = "drive_dlg_by_user_msg"
	TypeDriveByUserAnswer        = "drive_dialog_by_user_answer"
	TypeInterruptDialog          = "interrupt_dialog"
	TypeEmergencyStop            = "emergency_stop"
	TypeResumeDialog             = "resume_dialog"
	TypeResumeAll                = "resume_all"
	TypeSetDiligencePush         = "set_diligence_push"
	TypeRefillDiligenceBudget    = "refill_diligence_push_budget"
	TypeDeclareSubdialogDead     = "declare_subdialog_dead"
	TypeGetQ4HState              = "get_q4h_state"
	TypeDisplayReminders         = "display_reminders"
	TypeSetUILanguage            = "set_ui_language"
)

// Server→client message types (§6).
const (
	TypeCreateDialogResult  = "create_dialog_result"
	TypeDialogReady         = "dialog_ready"
	TypeRunStateEvt         = "dlg_run_state_evt"
	TypeDiligencePushUpdated = "diligence_push_updated"
	TypeDiligenceBudgetEvt  = "diligence_budget_evt"
	TypeQ4HStateResponse    = "q4h_state_response"
	TypeNewQ4HAsked         = "new_q4h_asked"
	TypeQ4HAnswered         = "q4h_answered"
	TypeWelcome             = "welcome"
	TypeError               = "error"
	TypeRemindersSnapshot   = "reminders_snapshot"
	TypeCourseReplay        = "course_replay"
	TypeDialogReplay        = "dialog_replay"
)

// DialogRef names a dialog the way every client→server payload does:
// selfId/rootId, equal for a root. Status is an optional hint the client
// supplies (which on-disk status directory to look under); the dispatcher
// does not require it since the Event Store's location index already knows.
type DialogRef struct {
	SelfID string `json:"selfId"`
	RootID string `json:"rootId"`
	Status string `json:"status,omitempty"`
}

func (d DialogRef) dialogID() store.DialogID {
	return store.DialogID{SelfID: d.SelfID, RootID: d.RootID}
}

// CreateDialogPayload is create_dialog's body.
type CreateDialogPayload struct {
	RequestID   string `json:"requestId"`
	AgentID     string `json:"agentId"`
	TaskDocPath string `json:"taskDocPath"`
}

// CreateDialogResult answers create_dialog.
type CreateDialogResult struct {
	RequestID string    `json:"requestId"`
	Dialog    DialogRef `json:"dialog"`
}

// DisplayDialogPayload is display_dialog's body.
type DisplayDialogPayload struct {
	Dialog DialogRef `json:"dialog"`
}

// DisplayCoursePayload is display_course's body.
type DisplayCoursePayload struct {
	Dialog DialogRef `json:"dialog"`
	Course int       `json:"course"`
}

// DriveByUserMsgPayload is drive_dlg_by_user_msg's body.
type DriveByUserMsgPayload struct {
	Dialog           DialogRef `json:"dialog"`
	Content          string    `json:"content"`
	MsgID            string    `json:"msgId"`
	UserLanguageCode string    `json:"userLanguageCode,omitempty"`
}

// DriveByUserAnswerPayload is drive_dialog_by_user_answer's body.
type DriveByUserAnswerPayload struct {
	Dialog           DialogRef `json:"dialog"`
	Content          string    `json:"content"`
	MsgID            string    `json:"msgId"`
	QuestionID       string    `json:"questionId"`
	ContinuationType string    `json:"continuationType,omitempty"`
}

// DialogOnlyPayload covers every message whose body is just {dialog}:
// interrupt_dialog, resume_dialog, refill_diligence_push_budget,
// display_reminders.
type DialogOnlyPayload struct {
	Dialog DialogRef `json:"dialog"`
}

// SetDiligencePushPayload is set_diligence_push's body.
type SetDiligencePushPayload struct {
	Dialog               DialogRef `json:"dialog"`
	DisableDiligencePush bool      `json:"disableDiligencePush"`
}

// DeclareSubdialogDeadPayload is declare_subdialog_dead's body.
type DeclareSubdialogDeadPayload struct {
	Dialog DialogRef `json:"dialog"`
	Note   string    `json:"note,omitempty"`
}

// SetUILanguagePayload is set_ui_language's body.
type SetUILanguagePayload struct {
	UILanguage string `json:"uiLanguage"`
}

// RunStateEvt is dlg_run_state_evt's body.
type RunStateEvt struct {
	Dialog   DialogRef      `json:"dialog"`
	RunState store.RunState `json:"runState"`
}

// DiligencePushUpdated is diligence_push_updated's body.
type DiligencePushUpdated struct {
	Dialog               DialogRef `json:"dialog"`
	DisableDiligencePush bool      `json:"disableDiligencePush"`
}

// DiligenceBudgetEvt is diligence_budget_evt's body.
type DiligenceBudgetEvt struct {
	Dialog           DialogRef `json:"dialog"`
	RemainingBudget  int       `json:"remainingBudget"`
}

// Q4HStateResponse is q4h_state_response's body: every pending question in
// the workspace, the global view the human-facing UI reads from.
type Q4HStateResponse struct {
	Questions []store.HumanQuestion `json:"questions"`
}

// RemindersSnapshot is display_reminders' response body.
type RemindersSnapshot struct {
	Dialog  DialogRef `json:"dialog"`
	Content string    `json:"content"`
}

// CourseReplay is display_course's response body.
type CourseReplay struct {
	Dialog DialogRef     `json:"dialog"`
	Course int           `json:"course"`
	Events []store.Event `json:"events"`
}

// DialogReplay is display_dialog's persisted-event-replay body, sent once
// before the live subscription attaches.
type DialogReplay struct {
	Dialog DialogRef     `json:"dialog"`
	Course int           `json:"course"`
	Events []store.Event `json:"events"`
}

// ErrorPayload is the error server→client body.
type ErrorPayload struct {
	Message string `json:"message"`
}

// WelcomePayload is welcome's body, sent once right after a client connects.
type WelcomePayload struct {
	ServerWorkLanguage    string   `json:"serverWorkLanguage"`
	SupportedLanguageCodes []string `json:"supportedLanguageCodes"`
}
