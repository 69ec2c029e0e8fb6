package worker

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/voicepilot/voicepilot/internal/config"
)

// Default queue semantics for every job: hard per-job timeout, bounded
// retries, and results kept in Redis for an hour.
func defaultOpts() []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(300 * time.Second),
		asynq.Retention(time.Hour),
	}
}

// HealthCheckMinutes computes the explicit minute set for the health_check
// cron. N must divide 60; misconfigured values fall back to 5.
func HealthCheckMinutes(n int) []int {
	if n <= 0 || 60%n != 0 {
		n = 5
	}
	minutes := make([]int, 0, 60/n)
	for m := 0; m < 60; m += n {
		minutes = append(minutes, m)
	}
	sort.Ints(minutes)
	return minutes
}

// healthCheckCronspec renders the minute set as a standard cron line,
// e.g. "0,5,10,...,55 * * * *".
func healthCheckCronspec(n int) string {
	minutes := HealthCheckMinutes(n)
	parts := make([]string, len(minutes))
	for i, m := range minutes {
		parts[i] = strconv.Itoa(m)
	}
	return strings.Join(parts, ",") + " * * * *"
}

// RegisterSchedule attaches the fixed cron entries to the scheduler:
// health_check every N minutes and daily_briefing at the configured
// UTC hour:minute.
func RegisterSchedule(s *asynq.Scheduler, cfg config.WorkerConfig) error {
	if _, err := s.Register(
		healthCheckCronspec(cfg.HealthCheckEveryNMinutes),
		asynq.NewTask(TypeHealthCheck, nil),
		defaultOpts()...,
	); err != nil {
		return fmt.Errorf("register health_check: %w", err)
	}

	briefingSpec := fmt.Sprintf("%d %d * * *", cfg.DailyBriefingMinute, cfg.DailyBriefingHour)
	if _, err := s.Register(
		briefingSpec,
		asynq.NewTask(TypeDailyBriefing, nil),
		defaultOpts()...,
	); err != nil {
		return fmt.Errorf("register daily_briefing: %w", err)
	}

	return nil
}

// Enqueuer enqueues on-demand jobs from outside the worker (api-core,
// operational tooling). It wraps an asynq client with the default queue
// semantics applied.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer creates an enqueuer against the given Redis connection.
func NewEnqueuer(redisOpt asynq.RedisConnOpt) *Enqueuer {
	return &Enqueuer{client: asynq.NewClient(redisOpt)}
}

// Close releases the underlying queue connection.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// EnqueueHealthCheck schedules one immediate health_check run.
func (e *Enqueuer) EnqueueHealthCheck() error {
	_, err := e.client.Enqueue(asynq.NewTask(TypeHealthCheck, nil), defaultOpts()...)
	return err
}

// EnqueueBrowserTask schedules a one-off browser task.
func (e *Enqueuer) EnqueueBrowserTask(url, action string) error {
	payload, err := marshalPayload(BrowserTaskPayload{URL: url, Action: action})
	if err != nil {
		return err
	}
	_, err = e.client.Enqueue(asynq.NewTask(TypeBrowserTask, payload), defaultOpts()...)
	return err
}

// EnqueueSummarizeMemory schedules a memory summarization pass.
func (e *Enqueuer) EnqueueSummarizeMemory(sessionID string) error {
	payload, err := marshalPayload(SummarizeMemoryPayload{SessionID: sessionID})
	if err != nil {
		return err
	}
	_, err = e.client.Enqueue(asynq.NewTask(TypeSummarizeMemory, payload), defaultOpts()...)
	return err
}

func marshalPayload(p interface{}) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	return b, nil
}
