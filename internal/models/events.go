package models

import "time"

// Event names published through the notification sink. Webhook subscribers
// filter on these.
const (
	EventBatchCreated   = "batch.created"
	EventBatchCompleted = "batch.completed"
	EventBatchCancelled = "batch.cancelled"

	EventTransferScheduled = "transfer.scheduled"
	EventTransferExecuted  = "transfer.executed"
	EventTransferRetry     = "transfer.retry"
	EventTransferFailed    = "transfer.failed"
	EventTransferCancelled = "transfer.cancelled"

	EventTransferConfirmed     = "transfer.confirmed"
	EventTransferFailedOnChain = "transfer.failed_onchain"
	EventTransferStuck         = "transfer.stuck"
)

// Subscription registers a webhook endpoint for a user. An empty Events list
// subscribes to everything.
type Subscription struct {
	Id        string    `json:"id"`
	UserId    string    `json:"user_id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Matches reports whether the subscription wants the given event.
func (s *Subscription) Matches(event string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}
