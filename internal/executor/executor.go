// Package executor drives tasks step by step until a terminal status.
//
// Flow per step:
//  1. If the step needs approval → create an Approval, pause the task,
//     wait on the process-local signal (bounded by the approval timeout).
//  2. Dispatch the tool through the browser gateway.
//  3. Append the StepResult to the task.
//  4. On any error, fail the task and stop.
//
// Once an executor starts a task it is the task's sole mutator; at most
// one executor ever drives a given task id.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voicepilot/voicepilot/internal/metrics"
	"github.com/voicepilot/voicepilot/internal/store"
	"github.com/voicepilot/voicepilot/pkg/models"
)

// UnknownServiceError means a step's tool prefix is not a known service.
// Only "browser" is dispatchable today.
type UnknownServiceError struct {
	Service string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown service: %q (only \"browser\" is available)", e.Service)
}

// BrowserGateway dispatches a named browser action; satisfied by *browser.Client.
type BrowserGateway interface {
	Dispatch(ctx context.Context, action string, args map[string]interface{}) (interface{}, error)
}

// ReplyGenerator produces the spoken reply for a finished task; satisfied
// by *llm.Client.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, goal string, results []models.StepResult) (string, error)
}

// Executor walks plan steps, enforces approval gates and records results.
type Executor struct {
	store           store.Store
	browser         BrowserGateway
	llm             ReplyGenerator
	approvalTimeout time.Duration
}

// New creates an executor. approvalTimeout bounds how long a paused task
// waits for the user before failing.
func New(s store.Store, bg BrowserGateway, rg ReplyGenerator, approvalTimeout time.Duration) *Executor {
	if approvalTimeout <= 0 {
		approvalTimeout = 300 * time.Second
	}
	return &Executor{store: s, browser: bg, llm: rg, approvalTimeout: approvalTimeout}
}

// Start schedules Run on a fresh goroutine and returns immediately.
// Ingress uses this so request completion never waits on execution.
func (e *Executor) Start(task *models.Task) {
	go e.Run(context.Background(), task)
}

// Run drives the task until terminal. Pre: task.Plan is set and
// task.Status == pending.
func (e *Executor) Run(ctx context.Context, task *models.Task) {
	metrics.TasksStarted.Inc()

	task.Status = models.TaskRunning
	e.save(ctx, task)

	log.Info().
		Str("task_id", task.ID).
		Str("goal", task.Goal).
		Int("steps", len(task.Plan.Steps)).
		Msg("task execution started")

	for i := range task.Plan.Steps {
		step := task.Plan.Steps[i]

		task.CurrentStep = i
		e.save(ctx, task)

		if step.NeedsOK {
			if !e.requestApproval(ctx, task, i, step) {
				msg := "approval not received"
				e.recordStep(ctx, task, i, step, models.StepSkipped, nil, &msg)
				e.failTask(ctx, task, fmt.Sprintf("step %d required approval but none was received", i))
				return
			}
		}

		output, err := e.dispatch(ctx, step)
		if err != nil {
			errMsg := err.Error()
			e.recordStep(ctx, task, i, step, models.StepError, nil, &errMsg)
			e.failTask(ctx, task, fmt.Sprintf("step %d (%s): %v", i, step.Tool, err))
			return
		}
		e.recordStep(ctx, task, i, step, models.StepOK, output, nil)
	}

	task.Status = models.TaskCompleted
	reply, err := e.llm.GenerateReply(ctx, task.Goal, task.Results)
	if err != nil {
		// Reply generation never fails a completed task.
		log.Warn().Err(err).Str("task_id", task.ID).Msg("reply generation failed, using fallback")
		reply = "Done: " + task.Goal
	}
	task.Reply = &reply
	e.save(ctx, task)

	metrics.TasksFinished.WithLabelValues(string(models.TaskCompleted)).Inc()
	log.Info().
		Str("task_id", task.ID).
		Int("steps", len(task.Results)).
		Msg("task completed")
}

// ── Approval gate ────────────────────────────────────────────

// requestApproval creates the approval record, pauses the task and waits
// for the signal. The signal is allocated by SaveApproval before the task
// is persisted as paused, so a resolution arriving in between is not lost.
func (e *Executor) requestApproval(ctx context.Context, task *models.Task, stepIndex int, step models.PlanStep) bool {
	prompt := fmt.Sprintf("Approve step %d: %s?", stepIndex, step.Tool)
	if step.OKPrompt != nil && *step.OKPrompt != "" {
		prompt = *step.OKPrompt
	}

	approval := &models.Approval{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		StepIndex: stepIndex,
		OKPrompt:  prompt,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.SaveApproval(ctx, approval); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("failed to persist approval")
		return false
	}
	metrics.ApprovalsRequested.Inc()

	task.Status = models.TaskPausedForApproval
	task.PendingApprovalID = &approval.ID
	e.save(ctx, task)

	log.Info().
		Str("task_id", task.ID).
		Str("approval_id", approval.ID).
		Int("step", stepIndex).
		Msg("paused for approval")

	sig := e.store.Signal(approval.ID)
	if sig == nil || !sig.Wait(e.approvalTimeout) {
		// pending_approval_id is only meaningful while paused; the caller
		// persists the failure.
		task.PendingApprovalID = nil
		return false
	}

	task.Status = models.TaskRunning
	task.PendingApprovalID = nil
	e.save(ctx, task)
	return true
}

// ── Dispatch ─────────────────────────────────────────────────

func (e *Executor) dispatch(ctx context.Context, step models.PlanStep) (interface{}, error) {
	service, action, found := strings.Cut(step.Tool, ".")
	if !found || service != "browser" {
		return nil, &UnknownServiceError{Service: service}
	}
	return e.browser.Dispatch(ctx, action, step.Args)
}

// ── Helpers ──────────────────────────────────────────────────

func (e *Executor) recordStep(ctx context.Context, task *models.Task, idx int, step models.PlanStep, status string, output interface{}, errMsg *string) {
	task.Results = append(task.Results, models.StepResult{
		StepIndex: idx,
		Tool:      step.Tool,
		Args:      step.Args,
		Status:    status,
		Output:    output,
		Error:     errMsg,
	})
	metrics.Steps.WithLabelValues(status).Inc()
	e.save(ctx, task)
}

func (e *Executor) failTask(ctx context.Context, task *models.Task, reason string) {
	task.Status = models.TaskFailed
	task.Error = &reason
	e.save(ctx, task)

	metrics.TasksFinished.WithLabelValues(string(models.TaskFailed)).Inc()
	log.Error().
		Str("task_id", task.ID).
		Str("error", reason).
		Msg("task failed")
}

func (e *Executor) save(ctx context.Context, task *models.Task) {
	if err := e.store.SaveTask(ctx, task); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("failed to persist task")
	}
}
