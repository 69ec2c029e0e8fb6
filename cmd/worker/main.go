// voicepilot worker — the periodic job runner.
//
// A single process acts as both worker (drains the Redis queue) and
// scheduler (emits the cron jobs): health_check every N minutes,
// daily_briefing at the configured UTC time, plus on-demand
// browser_task and summarize_memory jobs enqueued from outside.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voicepilot/voicepilot/internal/config"
	"github.com/voicepilot/voicepilot/internal/worker"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("voicepilot worker starting...")

	cfg := config.Load()

	redisOpt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.Redis.URL).Msg("Invalid REDIS_URL")
	}

	jobs, err := worker.NewJobs(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize job handlers")
	}
	defer jobs.Close()

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	if err := worker.RegisterSchedule(scheduler, cfg.Worker); err != nil {
		log.Fatal().Err(err).Msg("Failed to register schedule")
	}

	// Run one health check at startup to verify connectivity.
	enqueuer := worker.NewEnqueuer(redisOpt)
	defer enqueuer.Close()
	if err := enqueuer.EnqueueHealthCheck(); err != nil {
		log.Warn().Err(err).Msg("Failed to enqueue startup health check")
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			log.Fatal().Err(err).Msg("Scheduler failed")
		}
	}()

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down gracefully...")
		scheduler.Shutdown()
		srv.Shutdown()
	}()

	log.Info().
		Int("health_check_every_n_minutes", cfg.Worker.HealthCheckEveryNMinutes).
		Int("daily_briefing_hour", cfg.Worker.DailyBriefingHour).
		Msg("worker ready")

	if err := srv.Run(worker.NewMux(jobs)); err != nil {
		log.Fatal().Err(err).Msg("Worker failed")
	}
}
