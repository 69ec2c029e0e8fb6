// Package handlers implements the HTTP handlers for the voicepilot
// orchestrator: chat/enqueue ingress, task polling, approval resolution
// and the internal browser proxy.
package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voicepilot/voicepilot/internal/browser"
	"github.com/voicepilot/voicepilot/internal/metrics"
	"github.com/voicepilot/voicepilot/internal/planner"
	"github.com/voicepilot/voicepilot/internal/store"
	"github.com/voicepilot/voicepilot/pkg/models"
)

// TaskRunner starts background execution of a planned task; satisfied by
// *executor.Executor.
type TaskRunner interface {
	Start(task *models.Task)
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Store    store.Store
	Planner  *planner.Planner
	Executor TaskRunner
	Browser  *browser.Client
}

// New creates a Handlers instance with all dependencies.
func New(s store.Store, p *planner.Planner, exec TaskRunner, bc *browser.Client) *Handlers {
	return &Handlers{Store: s, Planner: p, Executor: exec, Browser: bc}
}

// ── Ingress (chat / enqueue) ─────────────────────────────────

// Chat accepts a user utterance, plans synchronously, starts execution in
// the background and answers immediately. Clients poll GET /v1/tasks/{id}.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	task, ok := h.planTask(w, r)
	if !ok {
		return
	}

	// Snapshot before handing the task to the executor goroutine.
	resp := models.ChatResponse{
		TaskID:  task.ID,
		Status:  task.Status,
		Message: "Plan generated. Execution started.",
	}
	h.Executor.Start(task)

	respondJSON(w, http.StatusOK, resp)
}

// EnqueueTask is the non-conversational twin of Chat: same planning flow,
// but it answers 202 with the full task projection.
func (h *Handlers) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	task, ok := h.planTask(w, r)
	if !ok {
		return
	}

	view := models.TaskView(task)
	h.Executor.Start(task)

	respondJSON(w, http.StatusAccepted, view)
}

// planTask is the shared ingress flow: create a pending task, plan
// synchronously, persist. On planner failure the task is persisted as
// failed and a 502 goes out; the second return value is false.
func (h *Handlers) planTask(w http.ResponseWriter, r *http.Request) (*models.Task, bool) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "Field \"message\" is required")
		return nil, false
	}

	task := &models.Task{
		ID:        uuid.New().String(),
		Status:    models.TaskPending,
		Goal:      req.Message,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveTask(r.Context(), task); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}

	// Planning is synchronous; it usually takes 1-5 s.
	plan, err := h.Planner.BuildPlan(r.Context(), req.Message)
	if err != nil {
		errMsg := err.Error()
		task.Status = models.TaskFailed
		task.Error = &errMsg
		if saveErr := h.Store.SaveTask(r.Context(), task); saveErr != nil {
			log.Error().Err(saveErr).Str("task_id", task.ID).Msg("failed to persist failed task")
		}
		metrics.TasksFinished.WithLabelValues(string(models.TaskFailed)).Inc()

		log.Warn().Err(err).Str("task_id", task.ID).Msg("planning failed")
		respondJSON(w, http.StatusBadGateway, map[string]string{
			"error":   "Failed to generate plan: " + errMsg,
			"task_id": task.ID,
		})
		return nil, false
	}

	task.Plan = plan
	task.Goal = plan.Goal
	if err := h.Store.SaveTask(r.Context(), task); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}

	log.Info().
		Str("task_id", task.ID).
		Str("goal", plan.Goal).
		Int("steps", len(plan.Steps)).
		Msg("task planned")
	return task, true
}

// ── Tasks ────────────────────────────────────────────────────

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	task, err := h.Store.GetTask(r.Context(), taskID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "Task not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, models.TaskView(task))
}

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Store.ListTasks(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]models.TaskResponse, 0, len(tasks))
	for i := range tasks {
		views = append(views, models.TaskView(&tasks[i]))
	}
	respondJSON(w, http.StatusOK, views)
}

// ── Approvals ────────────────────────────────────────────────

// ApproveStep resolves a pending approval and fires the executor's signal.
func (h *Handlers) ApproveStep(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approvalID")

	approval, err := h.Store.GetApproval(r.Context(), approvalID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "Approval not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if approval.Approved {
		respondError(w, http.StatusConflict, "Approval already resolved")
		return
	}

	resolved, err := h.Store.ResolveApproval(r.Context(), approvalID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !resolved {
		// Lost the race against a concurrent resolution.
		respondError(w, http.StatusConflict, "Approval already resolved")
		return
	}
	metrics.ApprovalsResolved.Inc()

	log.Info().
		Str("approval_id", approvalID).
		Str("task_id", approval.TaskID).
		Int("step", approval.StepIndex).
		Msg("approval granted")

	respondJSON(w, http.StatusOK, models.ApprovalResponse{
		ApprovalID: approval.ID,
		TaskID:     approval.TaskID,
		OKPrompt:   approval.OKPrompt,
		Approved:   true,
	})
}

// ── Internal browser proxy ───────────────────────────────────

// BrowserProxy forwards an action straight to the browser-agent, bypassing
// the planner. Debug and integration use only.
func (h *Handlers) BrowserProxy(w http.ResponseWriter, r *http.Request) {
	var req models.BrowserProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Args == nil {
		req.Args = map[string]interface{}{}
	}

	result, err := h.Browser.Dispatch(r.Context(), req.Action, req.Args)
	if err != nil {
		var upstream *browser.UpstreamError
		if errors.As(err, &upstream) {
			respondError(w, http.StatusBadGateway, "browser-agent error: "+err.Error())
			return
		}
		// Unknown action or bad arguments, rejected before any request.
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, models.BrowserProxyResponse{
		Action: req.Action,
		Result: result,
	})
}

// BrowserScreenshot returns the agent's current screenshot as PNG bytes.
func (h *Handlers) BrowserScreenshot(w http.ResponseWriter, r *http.Request) {
	result, err := h.Browser.Screenshot(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "failed to take screenshot: "+err.Error())
		return
	}

	obj, _ := result.(map[string]interface{})
	encoded, _ := obj["image_base64"].(string)
	if encoded == "" {
		respondError(w, http.StatusBadGateway, "browser-agent returned no image")
		return
	}

	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		respondError(w, http.StatusBadGateway, "browser-agent returned invalid image data")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}

// ── Health ───────────────────────────────────────────────────

// Health reports liveness plus store reachability.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := h.Store.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]string{"status": status, "service": "voicepilot-api-core"})
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
