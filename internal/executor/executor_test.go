package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicepilot/voicepilot/internal/store"
	"github.com/voicepilot/voicepilot/pkg/models"
)

type fakeBrowser struct {
	dispatch func(action string, args map[string]interface{}) (interface{}, error)
	calls    []string
}

func (f *fakeBrowser) Dispatch(ctx context.Context, action string, args map[string]interface{}) (interface{}, error) {
	f.calls = append(f.calls, action)
	if f.dispatch != nil {
		return f.dispatch(action, args)
	}
	return map[string]interface{}{"ok": true}, nil
}

type fakeReplier struct {
	reply string
	err   error
}

func (f *fakeReplier) GenerateReply(ctx context.Context, goal string, results []models.StepResult) (string, error) {
	return f.reply, f.err
}

func newTask(steps ...models.PlanStep) *models.Task {
	return &models.Task{
		ID:        "t-1",
		Status:    models.TaskPending,
		Goal:      "test goal",
		CreatedAt: time.Now().UTC(),
		Plan:      &models.Plan{Goal: "test goal", Steps: steps},
	}
}

// waitForStatus polls the store until the task reaches the wanted status.
func waitForStatus(t *testing.T, s store.Store, id string, want models.TaskStatus) *models.Task {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			task, _ := s.GetTask(context.Background(), id)
			t.Fatalf("task never reached %s (currently %v)", want, task)
			return nil
		default:
		}
		task, err := s.GetTask(context.Background(), id)
		if err == nil && task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRun_HappyPath(t *testing.T) {
	s := store.NewMemoryStore()
	exec := New(s, &fakeBrowser{}, &fakeReplier{reply: "all done"}, time.Second)

	task := newTask(
		models.PlanStep{Tool: "browser.open", Args: map[string]interface{}{"url": "https://google.com"}},
		models.PlanStep{Tool: "browser.extract", Args: map[string]interface{}{"selector": "body"}},
	)
	exec.Run(context.Background(), task)

	got, err := s.GetTask(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, got.Status)
	require.Len(t, got.Results, 2)
	for i, r := range got.Results {
		assert.Equal(t, i, r.StepIndex)
		assert.Equal(t, models.StepOK, r.Status)
	}
	require.NotNil(t, got.Reply)
	assert.Equal(t, "all done", *got.Reply)
	assert.Nil(t, got.Error)
	assert.Nil(t, got.PendingApprovalID)
}

func TestRun_ApprovalGranted(t *testing.T) {
	s := store.NewMemoryStore()
	exec := New(s, &fakeBrowser{}, &fakeReplier{reply: "bought it"}, 5*time.Second)

	task := newTask(models.PlanStep{
		Tool:    "browser.click",
		Args:    map[string]interface{}{"element_id": "buy"},
		NeedsOK: true,
	})
	go exec.Run(context.Background(), task)

	paused := waitForStatus(t, s, "t-1", models.TaskPausedForApproval)
	require.NotNil(t, paused.PendingApprovalID)

	approval, err := s.GetApproval(context.Background(), *paused.PendingApprovalID)
	require.NoError(t, err)
	assert.Equal(t, "t-1", approval.TaskID)
	assert.Equal(t, 0, approval.StepIndex)
	assert.Equal(t, "Approve step 0: browser.click?", approval.OKPrompt)
	assert.False(t, approval.Approved)

	resolved, err := s.ResolveApproval(context.Background(), approval.ID)
	require.NoError(t, err)
	require.True(t, resolved)

	done := waitForStatus(t, s, "t-1", models.TaskCompleted)
	require.Len(t, done.Results, 1)
	assert.Equal(t, models.StepOK, done.Results[0].Status)
	assert.Nil(t, done.PendingApprovalID)
}

func TestRun_ApprovalCustomPrompt(t *testing.T) {
	s := store.NewMemoryStore()
	exec := New(s, &fakeBrowser{}, &fakeReplier{reply: "ok"}, 5*time.Second)

	prompt := "Really submit the order?"
	task := newTask(models.PlanStep{
		Tool:     "browser.click",
		Args:     map[string]interface{}{"element_id": "submit"},
		NeedsOK:  true,
		OKPrompt: &prompt,
	})
	go exec.Run(context.Background(), task)

	paused := waitForStatus(t, s, "t-1", models.TaskPausedForApproval)
	approval, err := s.GetApproval(context.Background(), *paused.PendingApprovalID)
	require.NoError(t, err)
	assert.Equal(t, prompt, approval.OKPrompt)

	_, err = s.ResolveApproval(context.Background(), approval.ID)
	require.NoError(t, err)
	waitForStatus(t, s, "t-1", models.TaskCompleted)
}

func TestRun_ApprovalTimeout(t *testing.T) {
	s := store.NewMemoryStore()
	browser := &fakeBrowser{}
	exec := New(s, browser, &fakeReplier{}, 30*time.Millisecond)

	task := newTask(models.PlanStep{
		Tool:    "browser.click",
		Args:    map[string]interface{}{"element_id": "buy"},
		NeedsOK: true,
	})
	exec.Run(context.Background(), task)

	got, err := s.GetTask(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, got.Status)
	require.Len(t, got.Results, 1)
	assert.Equal(t, models.StepSkipped, got.Results[0].Status)
	require.NotNil(t, got.Results[0].Error)
	assert.Equal(t, "approval not received", *got.Results[0].Error)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "required approval")
	assert.Nil(t, got.PendingApprovalID)
	assert.Empty(t, browser.calls, "the gated step must not run")
}

func TestRun_StepError(t *testing.T) {
	s := store.NewMemoryStore()
	browser := &fakeBrowser{
		dispatch: func(action string, args map[string]interface{}) (interface{}, error) {
			if action == "click" {
				return nil, errors.New("element not found")
			}
			return map[string]interface{}{"ok": true}, nil
		},
	}
	exec := New(s, browser, &fakeReplier{}, time.Second)

	task := newTask(
		models.PlanStep{Tool: "browser.open", Args: map[string]interface{}{"url": "https://x"}},
		models.PlanStep{Tool: "browser.click", Args: map[string]interface{}{"element_id": "nope"}},
		models.PlanStep{Tool: "browser.close", Args: map[string]interface{}{}},
	)
	exec.Run(context.Background(), task)

	got, err := s.GetTask(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, got.Status)
	require.Len(t, got.Results, 2, "execution stops at the failing step")
	assert.Equal(t, models.StepOK, got.Results[0].Status)
	assert.Equal(t, models.StepError, got.Results[1].Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "step 1 (browser.click)")
	assert.Contains(t, *got.Error, "element not found")
	assert.Nil(t, got.Reply)
}

func TestRun_UnknownService(t *testing.T) {
	s := store.NewMemoryStore()
	browser := &fakeBrowser{}
	exec := New(s, browser, &fakeReplier{}, time.Second)

	task := newTask(models.PlanStep{Tool: "email.send", Args: map[string]interface{}{}})
	exec.Run(context.Background(), task)

	got, err := s.GetTask(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "unknown service")
	assert.Empty(t, browser.calls)
}

func TestRun_ReplyFailureUsesFallback(t *testing.T) {
	s := store.NewMemoryStore()
	exec := New(s, &fakeBrowser{}, &fakeReplier{err: errors.New("llm down")}, time.Second)

	task := newTask(models.PlanStep{Tool: "browser.open", Args: map[string]interface{}{"url": "https://x"}})
	exec.Run(context.Background(), task)

	got, err := s.GetTask(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, got.Status, "reply failure never fails a completed task")
	require.NotNil(t, got.Reply)
	assert.Equal(t, "Done: test goal", *got.Reply)
}

func TestRun_ResultsVisibleBetweenSteps(t *testing.T) {
	s := store.NewMemoryStore()

	sawFirstResult := false
	browser := &fakeBrowser{}
	browser.dispatch = func(action string, args map[string]interface{}) (interface{}, error) {
		if action == "extract" {
			// By the time step 1 runs, step 0's result must be persisted.
			task, err := s.GetTask(context.Background(), "t-1")
			if err == nil && len(task.Results) == 1 && task.Results[0].Status == models.StepOK {
				sawFirstResult = true
			}
		}
		return map[string]interface{}{"ok": true}, nil
	}
	exec := New(s, browser, &fakeReplier{reply: "done"}, time.Second)

	task := newTask(
		models.PlanStep{Tool: "browser.open", Args: map[string]interface{}{"url": "https://x"}},
		models.PlanStep{Tool: "browser.extract", Args: map[string]interface{}{"selector": "body"}},
	)
	exec.Run(context.Background(), task)

	assert.True(t, sawFirstResult)
}
