package handlers_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicepilot/voicepilot/internal/api"
	"github.com/voicepilot/voicepilot/internal/api/handlers"
	"github.com/voicepilot/voicepilot/internal/browser"
	"github.com/voicepilot/voicepilot/internal/planner"
	"github.com/voicepilot/voicepilot/internal/store"
	"github.com/voicepilot/voicepilot/pkg/models"
)

type fakePlanSource struct {
	plan map[string]interface{}
	err  error
}

func (f *fakePlanSource) GetPlanJSON(ctx context.Context, userMessage string) (map[string]interface{}, error) {
	return f.plan, f.err
}

type fakeRunner struct {
	started []*models.Task
}

func (f *fakeRunner) Start(task *models.Task) {
	f.started = append(f.started, task)
}

type fixture struct {
	store   *store.MemoryStore
	runner  *fakeRunner
	handler http.Handler
}

func newFixture(t *testing.T, source planner.PlanSource, agentHandler http.HandlerFunc) *fixture {
	t.Helper()

	s := store.NewMemoryStore()
	runner := &fakeRunner{}

	var agentURL string
	if agentHandler != nil {
		agent := httptest.NewServer(agentHandler)
		t.Cleanup(agent.Close)
		agentURL = agent.URL
	} else {
		// Closed server: any browser call fails fast.
		agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		agent.Close()
		agentURL = agent.URL
	}

	h := handlers.New(s, planner.New(source), runner, browser.New(agentURL, time.Second))
	return &fixture{store: s, runner: runner, handler: api.NewRouter(h)}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func validPlanSource() *fakePlanSource {
	return &fakePlanSource{plan: map[string]interface{}{
		"goal": "open google",
		"steps": []interface{}{
			map[string]interface{}{
				"tool": "browser.open",
				"args": map[string]interface{}{"url": "https://google.com"},
			},
		},
	}}
}

// ── Chat / enqueue ───────────────────────────────────────────

func TestChat_Success(t *testing.T) {
	f := newFixture(t, validPlanSource(), nil)

	w := doJSON(t, f.handler, http.MethodPost, "/v1/chat", models.ChatRequest{Message: "abre google"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, models.TaskPending, resp.Status)
	assert.NotEmpty(t, resp.Message)

	// Execution was scheduled for exactly this task.
	require.Len(t, f.runner.started, 1)
	assert.Equal(t, resp.TaskID, f.runner.started[0].ID)

	// The task goal was replaced by the plan's goal.
	task, err := f.store.GetTask(context.Background(), resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "open google", task.Goal)
	require.NotNil(t, task.Plan)
}

func TestEnqueue_Accepted(t *testing.T) {
	f := newFixture(t, validPlanSource(), nil)

	w := doJSON(t, f.handler, http.MethodPost, "/v1/tasks/enqueue", models.ChatRequest{Message: "open google"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp models.TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, models.TaskPending, resp.Status)
	assert.Equal(t, "open google", resp.Goal)
	assert.NotNil(t, resp.Results)

	require.Len(t, f.runner.started, 1)
}

func TestEnqueue_PlannerFailure(t *testing.T) {
	f := newFixture(t, &fakePlanSource{plan: map[string]interface{}{"bogus": true}}, nil)

	w := doJSON(t, f.handler, http.MethodPost, "/v1/tasks/enqueue", models.ChatRequest{Message: "do something"})
	require.Equal(t, http.StatusBadGateway, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["error"])
	require.NotEmpty(t, resp["task_id"])

	// The task is persisted as failed, plan still nil.
	task, err := f.store.GetTask(context.Background(), resp["task_id"])
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, task.Status)
	require.NotNil(t, task.Error)
	assert.NotEmpty(t, *task.Error)
	assert.Nil(t, task.Plan)

	assert.Empty(t, f.runner.started, "a failed plan must not start execution")
}

func TestEnqueue_BadRequests(t *testing.T) {
	f := newFixture(t, validPlanSource(), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/tasks/enqueue", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w2 := doJSON(t, f.handler, http.MethodPost, "/v1/tasks/enqueue", models.ChatRequest{Message: ""})
	assert.Equal(t, http.StatusBadRequest, w2.Code)
}

// ── Tasks ────────────────────────────────────────────────────

func TestGetTask(t *testing.T) {
	f := newFixture(t, validPlanSource(), nil)

	task := &models.Task{
		ID:        "t-1",
		Status:    models.TaskCompleted,
		Goal:      "open google",
		CreatedAt: time.Now().UTC(),
		Results:   []models.StepResult{{StepIndex: 0, Tool: "browser.open", Status: models.StepOK}},
	}
	require.NoError(t, f.store.SaveTask(context.Background(), task))

	w := doJSON(t, f.handler, http.MethodGet, "/v1/tasks/t-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "t-1", resp.ID)
	assert.Equal(t, models.TaskCompleted, resp.Status)
	require.Len(t, resp.Results, 1)
}

func TestGetTask_NotFound(t *testing.T) {
	f := newFixture(t, validPlanSource(), nil)

	w := doJSON(t, f.handler, http.MethodGet, "/v1/tasks/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTasks(t *testing.T) {
	f := newFixture(t, validPlanSource(), nil)

	for _, id := range []string{"t-1", "t-2"} {
		require.NoError(t, f.store.SaveTask(context.Background(), &models.Task{
			ID: id, Status: models.TaskPending, Goal: "g", CreatedAt: time.Now().UTC(),
		}))
	}

	w := doJSON(t, f.handler, http.MethodGet, "/v1/tasks/", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp []models.TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp, 2)
}

// ── Approvals ────────────────────────────────────────────────

func TestApproveStep(t *testing.T) {
	f := newFixture(t, validPlanSource(), nil)

	approval := &models.Approval{
		ID:        "a-1",
		TaskID:    "t-1",
		StepIndex: 0,
		OKPrompt:  "Approve step 0: browser.click?",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveApproval(context.Background(), approval))
	sig := f.store.Signal("a-1")
	require.NotNil(t, sig)

	w := doJSON(t, f.handler, http.MethodPost, "/v1/approvals/a-1/ok", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ApprovalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "a-1", resp.ApprovalID)
	assert.Equal(t, "t-1", resp.TaskID)
	assert.True(t, resp.Approved)

	assert.True(t, sig.Fired(), "resolution must fire the executor's signal")

	// Second resolution conflicts, no side effect.
	w2 := doJSON(t, f.handler, http.MethodPost, "/v1/approvals/a-1/ok", nil)
	assert.Equal(t, http.StatusConflict, w2.Code)
}

func TestApproveStep_NotFound(t *testing.T) {
	f := newFixture(t, validPlanSource(), nil)

	w := doJSON(t, f.handler, http.MethodPost, "/v1/approvals/ghost/ok", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ── Internal browser proxy ───────────────────────────────────

func TestBrowserProxy_Success(t *testing.T) {
	f := newFixture(t, validPlanSource(), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/browser/open", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"title": "Google"})
	})

	w := doJSON(t, f.handler, http.MethodPost, "/internal/browser/proxy", models.BrowserProxyRequest{
		Action: "open",
		Args:   map[string]interface{}{"url": "https://google.com"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.BrowserProxyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "open", resp.Action)
	result := resp.Result.(map[string]interface{})
	assert.Equal(t, "Google", result["title"])
}

func TestBrowserProxy_UnknownAction(t *testing.T) {
	f := newFixture(t, validPlanSource(), func(w http.ResponseWriter, r *http.Request) {
		t.Error("unknown action must not reach the agent")
	})

	w := doJSON(t, f.handler, http.MethodPost, "/internal/browser/proxy", models.BrowserProxyRequest{
		Action: "teleport",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBrowserProxy_UpstreamFailure(t *testing.T) {
	f := newFixture(t, validPlanSource(), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	w := doJSON(t, f.handler, http.MethodPost, "/internal/browser/proxy", models.BrowserProxyRequest{
		Action: "open",
		Args:   map[string]interface{}{"url": "https://x"},
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestBrowserScreenshot(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	f := newFixture(t, validPlanSource(), func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"image_base64": base64.StdEncoding.EncodeToString(png),
		})
	})

	w := doJSON(t, f.handler, http.MethodGet, "/internal/browser/screenshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, png, w.Body.Bytes())
}

func TestBrowserScreenshot_NoImage(t *testing.T) {
	f := newFixture(t, validPlanSource(), func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	w := doJSON(t, f.handler, http.MethodGet, "/internal/browser/screenshot", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

// ── Health ───────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	f := newFixture(t, validPlanSource(), nil)

	w := doJSON(t, f.handler, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}
