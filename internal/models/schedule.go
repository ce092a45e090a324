package models

import "time"

// Scheduled transaction statuses. scheduled -> executing -> terminal, with
// executing -> scheduled as the retry-reschedule edge and
// scheduled -> cancelled as the only user-cancellable edge.
const (
	ScheduleStatusScheduled = "scheduled"
	ScheduleStatusExecuting = "executing"
	ScheduleStatusCompleted = "completed"
	ScheduleStatusFailed    = "failed"
	ScheduleStatusCancelled = "cancelled"
)

// ScheduledTransaction is a single transfer held until its due time and then
// dispatched by the scheduler loop with bounded retry.
type ScheduledTransaction struct {
	Id           string          `json:"id"`
	UserId       string          `json:"user_id"`
	Request      TransferRequest `json:"request"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Status       string          `json:"status"`
	ExecutedAt   time.Time       `json:"executed_at,omitempty"`
	TransferId   string          `json:"transfer_id,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Version      int64           `json:"version"`
}

// ScheduleOptions carries per-call scheduling policy.
type ScheduleOptions struct {
	MaxRetries int `json:"max_retries"`
}

// DispatchEntry is one member of the time-ordered dispatch queue. The queue
// is global across users, so entries carry the owning user id.
type DispatchEntry struct {
	UserId     string    `json:"user_id"`
	ScheduleId string    `json:"schedule_id"`
	Due        time.Time `json:"due"`
}
