// Package models defines the core domain types for the voicepilot
// orchestrator: plans produced by the LLM, tasks driven by the executor,
// approvals for irreversible steps, and the HTTP request/response contracts.
package models

import (
	"time"
)

// ── Plan ─────────────────────────────────────────────────────

// PlanStep is one tool invocation inside a Plan. Steps are immutable once
// the planner has validated them.
type PlanStep struct {
	// Tool is the qualified tool name, e.g. "browser.open".
	Tool string `json:"tool"`
	// Args are the tool arguments. Their shape is only known to the
	// browser gateway, which resolves them per action.
	Args map[string]interface{} `json:"args"`
	// NeedsOK marks the step as requiring explicit user approval
	// before it may run (checkout, payment, form submission).
	NeedsOK bool `json:"needs_ok"`
	// OKPrompt is the message shown to the user when approval is requested.
	OKPrompt *string `json:"ok_prompt"`
}

// Plan is an ordered sequence of steps produced by the LLM from a user
// utterance. A valid plan has at least one step.
type Plan struct {
	Goal  string     `json:"goal"`
	Steps []PlanStep `json:"steps"`
}

// ── Task state ───────────────────────────────────────────────

// TaskStatus is the in-memory task lifecycle enumeration. The persisted
// vocabulary differs; see the store package for the mapping.
type TaskStatus string

const (
	TaskPending           TaskStatus = "pending"
	TaskRunning           TaskStatus = "running"
	TaskPausedForApproval TaskStatus = "paused_for_approval"
	TaskCompleted         TaskStatus = "completed"
	TaskFailed            TaskStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Step result statuses.
const (
	StepOK      = "ok"
	StepError   = "error"
	StepSkipped = "skipped"
)

// StepResult records the outcome of one attempted plan step.
// Invariant: Results[i].StepIndex == i for every task.
type StepResult struct {
	StepIndex int                    `json:"step_index"`
	Tool      string                 `json:"tool"`
	Args      map[string]interface{} `json:"args"`
	Status    string                 `json:"status"` // ok | error | skipped
	Output    interface{}            `json:"output,omitempty"`
	Error     *string                `json:"error,omitempty"`
}

// Task is the unit of work the executor drives from pending to a terminal
// status. Once an executor starts a task it is the sole mutator.
type Task struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Status      TaskStatus   `json:"status"`
	Goal        string       `json:"goal"`
	Plan        *Plan        `json:"plan,omitempty"`
	Results     []StepResult `json:"results"`
	CurrentStep int          `json:"current_step"`
	Error       *string      `json:"error,omitempty"`
	// Reply is the natural-language summary generated after completion.
	Reply *string `json:"reply,omitempty"`
	// PendingApprovalID is set while Status == paused_for_approval.
	PendingApprovalID *string `json:"pending_approval_id,omitempty"`
}

// ── Approvals ────────────────────────────────────────────────

// Approval represents "the user has permitted step N of task T to proceed".
// At most one unresolved approval exists per task at any time.
type Approval struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	StepIndex  int        `json:"step_index"`
	OKPrompt   string     `json:"ok_prompt"`
	Approved   bool       `json:"approved"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// ── HTTP contracts ───────────────────────────────────────────

// ChatRequest is the body of POST /v1/chat and POST /v1/tasks/enqueue.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is returned by POST /v1/chat.
type ChatResponse struct {
	TaskID  string     `json:"task_id"`
	Status  TaskStatus `json:"status"`
	Message string     `json:"message"`
}

// TaskResponse is the task projection returned by the tasks endpoints.
type TaskResponse struct {
	ID                string       `json:"id"`
	Status            TaskStatus   `json:"status"`
	Goal              string       `json:"goal"`
	CurrentStep       int          `json:"current_step"`
	Results           []StepResult `json:"results"`
	PendingApprovalID *string      `json:"pending_approval_id,omitempty"`
	Error             *string      `json:"error,omitempty"`
	Reply             *string      `json:"reply,omitempty"`
}

// TaskView projects a task into its HTTP response shape.
func TaskView(t *Task) TaskResponse {
	results := t.Results
	if results == nil {
		results = []StepResult{}
	}
	return TaskResponse{
		ID:                t.ID,
		Status:            t.Status,
		Goal:              t.Goal,
		CurrentStep:       t.CurrentStep,
		Results:           results,
		PendingApprovalID: t.PendingApprovalID,
		Error:             t.Error,
		Reply:             t.Reply,
	}
}

// ApprovalResponse is returned by POST /v1/approvals/{id}/ok.
type ApprovalResponse struct {
	ApprovalID string `json:"approval_id"`
	TaskID     string `json:"task_id"`
	OKPrompt   string `json:"ok_prompt"`
	Approved   bool   `json:"approved"`
}

// BrowserProxyRequest is the body of POST /internal/browser/proxy.
type BrowserProxyRequest struct {
	Action string                 `json:"action"`
	Args   map[string]interface{} `json:"args"`
}

// BrowserProxyResponse echoes the action alongside the agent's raw result.
type BrowserProxyResponse struct {
	Action string      `json:"action"`
	Result interface{} `json:"result"`
}
