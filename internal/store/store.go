// Package store provides task and approval persistence for the orchestrator,
// plus the process-local approval signal registry.
//
// Two implementations exist: PostgreSQL (production, pgx pool) and in-memory
// (local dev, tests). Task storage is the source of truth for task status;
// signals are process-local and are lost on restart by design.
package store

import (
	"context"

	"github.com/voicepilot/voicepilot/pkg/models"
)

// Store is the persistence interface the executor and HTTP handlers depend on.
type Store interface {
	// SaveTask upserts a task by id and bumps UpdatedAt.
	SaveTask(ctx context.Context, task *models.Task) error

	// GetTask returns a task by id, or *ErrNotFound.
	GetTask(ctx context.Context, id string) (*models.Task, error)

	// ListTasks returns all tasks, newest first.
	ListTasks(ctx context.Context) ([]models.Task, error)

	// SaveApproval inserts an approval if absent; idempotent. The first
	// save allocates the process-local signal for the approval id.
	SaveApproval(ctx context.Context, approval *models.Approval) error

	// GetApproval returns an approval by id, or *ErrNotFound.
	GetApproval(ctx context.Context, id string) (*models.Approval, error)

	// ResolveApproval atomically flips an unresolved approval to approved
	// and fires its signal. Returns false when the approval was already
	// resolved (the signal is never fired twice) or unknown.
	ResolveApproval(ctx context.Context, id string) (bool, error)

	// Signal returns the process-local signal for an approval id, or nil
	// if unknown in this process (e.g. after a restart).
	Signal(approvalID string) *Signal

	// SweepInterrupted fails every non-terminal task. Called once at
	// startup: tasks that were running or waiting for approval before a
	// restart can never resume because their signals are gone.
	SweepInterrupted(ctx context.Context) (int, error)

	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is a store not-found error.
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}
