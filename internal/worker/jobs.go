// Package worker implements the periodic worker: cron-scheduled and
// on-demand jobs coordinated through a Redis-backed queue (asynq).
//
// Every job is HTTP-only against the orchestrator and downstream
// services; the worker never touches the database directly.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/voicepilot/voicepilot/internal/config"
)

// Job type names. These are the queue-visible identifiers; external
// producers enqueue by these names.
const (
	TypeHealthCheck     = "health_check"
	TypeDailyBriefing   = "daily_briefing"
	TypeBrowserTask     = "browser_task"
	TypeSummarizeMemory = "summarize_memory"
)

// BrowserTaskPayload is the payload of an on-demand browser_task job.
type BrowserTaskPayload struct {
	URL    string `json:"url"`
	Action string `json:"action"`
}

// SummarizeMemoryPayload is the payload of a summarize_memory job.
// An empty SessionID lets the orchestrator decide what to summarize.
type SummarizeMemoryPayload struct {
	SessionID string `json:"session_id,omitempty"`
}

// Jobs holds the handlers for all queue job types.
type Jobs struct {
	cfg        config.WorkerConfig
	browserURL string
	httpClient *http.Client
	redis      *redis.Client
}

// NewJobs creates the job handler set. The Redis client is used only for
// the queue-backend probe inside health_check.
func NewJobs(cfg *config.Config) (*Jobs, error) {
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Jobs{
		cfg:        cfg.Worker,
		browserURL: strings.TrimRight(cfg.Browser.AgentURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		redis:      redis.NewClient(opt),
	}, nil
}

// Close releases the Redis probe connection.
func (j *Jobs) Close() error {
	return j.redis.Close()
}

// NewMux wires each job type to its handler.
func NewMux(j *Jobs) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeHealthCheck, j.HealthCheck)
	mux.HandleFunc(TypeDailyBriefing, j.DailyBriefing)
	mux.HandleFunc(TypeBrowserTask, j.BrowserTask)
	mux.HandleFunc(TypeSummarizeMemory, j.SummarizeMemory)
	return mux
}

// ── health_check ─────────────────────────────────────────────

// HealthCheck pings api-core, the browser-agent, llm-runtime and the
// queue backend, and logs per-service status. A down service does not
// fail the job; the probe result is the log line.
func (j *Jobs) HealthCheck(ctx context.Context, _ *asynq.Task) error {
	endpoints := map[string]string{
		"api-core":      j.cfg.APICoreURL + "/health",
		"browser-agent": j.browserURL + "/health",
		"llm-runtime":   j.cfg.LLMRuntimeURL + "/api/tags", // Ollama health
	}

	for name, url := range endpoints {
		status := j.probe(ctx, url)
		event := log.Info()
		if status != "ok" {
			event = log.Warn()
		}
		event.Str("service", name).Str("status", status).Msg("health_check")
	}

	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := j.redis.Ping(redisCtx).Err(); err != nil {
		log.Warn().Err(err).Str("service", "redis").Str("status", "down").Msg("health_check")
	} else {
		log.Info().Str("service", "redis").Str("status", "ok").Msg("health_check")
	}

	return nil
}

func (j *Jobs) probe(ctx context.Context, url string) string {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return "error:" + err.Error()
	}
	resp, err := j.httpClient.Do(req)
	if err != nil {
		return "down"
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		return "ok"
	}
	return fmt.Sprintf("degraded:%d", resp.StatusCode)
}

// ── daily_briefing ───────────────────────────────────────────

// DailyBriefing asks the orchestrator for the morning briefing through
// the regular chat ingress. Transport failures are returned so the queue
// retries the job.
func (j *Jobs) DailyBriefing(ctx context.Context, _ *asynq.Task) error {
	message := "Good morning. Give me today's briefing: pending tasks, reminders and a summary of system status."

	status, err := j.postJSON(ctx, j.cfg.APICoreURL+"/v1/chat", map[string]string{"message": message})
	if err != nil {
		log.Error().Err(err).Msg("daily_briefing failed")
		return err
	}

	log.Info().Int("status", status).Msg("daily_briefing sent")
	if status >= 300 {
		return fmt.Errorf("daily_briefing: api-core returned %d", status)
	}
	return nil
}

// ── browser_task ─────────────────────────────────────────────

// BrowserTask enqueues a one-off browser task through the orchestrator's
// regular ingress, which plans and executes it like any user request.
func (j *Jobs) BrowserTask(ctx context.Context, t *asynq.Task) error {
	var p BrowserTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("browser_task: bad payload: %w", err)
	}
	if p.Action == "" {
		p.Action = "screenshot"
	}

	message := fmt.Sprintf("Open %s and perform the %s action.", p.URL, p.Action)

	status, err := j.postJSON(ctx, j.cfg.APICoreURL+"/v1/tasks/enqueue", map[string]string{"message": message})
	if err != nil {
		log.Error().Err(err).Str("url", p.URL).Msg("browser_task failed")
		return err
	}

	log.Info().Int("status", status).Str("url", p.URL).Str("action", p.Action).Msg("browser_task enqueued")
	if status >= 300 {
		return fmt.Errorf("browser_task: api-core returned %d", status)
	}
	return nil
}

// ── summarize_memory ─────────────────────────────────────────

// SummarizeMemory asks the orchestrator to compact a session's
// conversational memory. Best effort: a non-2xx answer is logged, not
// retried, since memory is a side channel.
func (j *Jobs) SummarizeMemory(ctx context.Context, t *asynq.Task) error {
	var p SummarizeMemoryPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("summarize_memory: bad payload: %w", err)
		}
	}

	payload := map[string]string{}
	if p.SessionID != "" {
		payload["session_id"] = p.SessionID
	}

	status, err := j.postJSON(ctx, j.cfg.APICoreURL+"/v1/memory/summarize", payload)
	if err != nil {
		log.Error().Err(err).Msg("summarize_memory failed")
		return err
	}

	log.Info().Int("status", status).Msg("summarize_memory done")
	return nil
}

// ── Helpers ──────────────────────────────────────────────────

func (j *Jobs) postJSON(ctx context.Context, url string, payload interface{}) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}
