// Package server provides the public entry point for initializing the
// voicepilot orchestrator (api-core).
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(srv.Addr, srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/voicepilot/voicepilot/internal/api"
	"github.com/voicepilot/voicepilot/internal/api/handlers"
	"github.com/voicepilot/voicepilot/internal/browser"
	"github.com/voicepilot/voicepilot/internal/config"
	"github.com/voicepilot/voicepilot/internal/executor"
	"github.com/voicepilot/voicepilot/internal/llm"
	"github.com/voicepilot/voicepilot/internal/planner"
	"github.com/voicepilot/voicepilot/internal/store"
	"github.com/voicepilot/voicepilot/internal/telemetry"
)

// Server holds the initialized orchestrator.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the task/approval store (Postgres or in-memory).
	Store store.Store

	// Addr is the host:port the server should listen on.
	Addr string

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all orchestrator components from environment config
// and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the orchestrator with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Tasks persisted as running or waiting for approval before a restart
	// can never resume: their approval signals died with the old process.
	swept, err := dataStore.SweepInterrupted(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep interrupted tasks: %w", err)
	}
	if swept > 0 {
		log.Warn().Int("tasks", swept).Msg("failed tasks interrupted by restart")
	}

	llmClient := llm.New(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout)
	browserClient := browser.New(cfg.Browser.AgentURL, cfg.Browser.Timeout)
	plan := planner.New(llmClient)
	exec := executor.New(dataStore, browserClient, llmClient, cfg.ApprovalTimeout())

	log.Info().Str("model", cfg.LLM.Model).Msg("LLM gateway initialized")
	log.Info().Str("agent", cfg.Browser.AgentURL).Msg("Browser gateway initialized")

	h := handlers.New(dataStore, plan, exec, browserClient)
	router := api.NewRouter(h)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Addr:         fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		ShutdownFunc: shutdown,
	}, nil
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL == "" {
		log.Info().Msg("In-memory store initialized (DATABASE_URL not set)")
		return store.NewMemoryStore(), nil
	}

	pg, err := store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MinConns, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("init postgres store: %w", err)
	}
	log.Info().Msg("PostgreSQL store initialized")
	return pg, nil
}
