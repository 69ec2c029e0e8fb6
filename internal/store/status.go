package store

import "github.com/voicepilot/voicepilot/pkg/models"

// The persisted status vocabulary differs from the in-memory enum.
// This table is the single source of truth for the mapping; adding a
// new status means editing it here and nowhere else.
//
//	in-memory            persisted
//	pending              pending
//	running              running
//	paused_for_approval  waiting_approval
//	completed            done
//	failed               failed
//	(none)               cancelled   → read back as failed

const (
	dbStatusPending         = "pending"
	dbStatusRunning         = "running"
	dbStatusWaitingApproval = "waiting_approval"
	dbStatusDone            = "done"
	dbStatusFailed          = "failed"
	dbStatusCancelled       = "cancelled"
)

func statusToDB(s models.TaskStatus) string {
	switch s {
	case models.TaskPending:
		return dbStatusPending
	case models.TaskRunning:
		return dbStatusRunning
	case models.TaskPausedForApproval:
		return dbStatusWaitingApproval
	case models.TaskCompleted:
		return dbStatusDone
	case models.TaskFailed:
		return dbStatusFailed
	}
	return dbStatusFailed
}

func statusFromDB(s string) models.TaskStatus {
	switch s {
	case dbStatusPending:
		return models.TaskPending
	case dbStatusRunning:
		return models.TaskRunning
	case dbStatusWaitingApproval:
		return models.TaskPausedForApproval
	case dbStatusDone:
		return models.TaskCompleted
	case dbStatusFailed, dbStatusCancelled:
		return models.TaskFailed
	}
	return models.TaskFailed
}

// Approval rows persist a status column rather than a bool.
const (
	dbApprovalPending  = "pending"
	dbApprovalApproved = "approved"
)
