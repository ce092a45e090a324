package store

import (
	"context"
	"errors"
	"time"

	"transfer-orchestrator-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrVersionConflict = errors.New("concurrent modification detected")
)

// OrchestratorStore defines the contract that every backend (Redis, in-memory,
// ...) must satisfy. Entities are persisted as JSON values with TTL; per-user
// membership uses the backend's native set/index capability and the dispatch
// queue its native time-ordered structure. Every Update* call is a
// compare-and-set on the entity's Version field and returns
// ErrVersionConflict when the stored version differs.
type OrchestratorStore interface {
	// --- Batches ---
	CreateBatch(ctx context.Context, batch *models.BatchJob) error
	UpdateBatch(ctx context.Context, batch *models.BatchJob) error
	GetBatch(ctx context.Context, userId, batchId string) (*models.BatchJob, error)
	ListUserBatches(ctx context.Context, userId string) ([]models.BatchJob, error)

	// --- Scheduled transactions ---
	CreateSchedule(ctx context.Context, sched *models.ScheduledTransaction) error
	UpdateSchedule(ctx context.Context, sched *models.ScheduledTransaction) error
	GetSchedule(ctx context.Context, userId, scheduleId string) (*models.ScheduledTransaction, error)
	ListUserSchedules(ctx context.Context, userId string) ([]models.ScheduledTransaction, error)

	// --- Dispatch queue (global, ordered by due time ascending) ---
	EnqueueDispatch(ctx context.Context, entry models.DispatchEntry) error
	DueDispatches(ctx context.Context, now time.Time) ([]models.DispatchEntry, error)
	RemoveDispatch(ctx context.Context, userId, scheduleId string) error

	// --- Monitored transactions ---
	CreateMonitor(ctx context.Context, mon *models.MonitoredTransaction) error
	UpdateMonitor(ctx context.Context, mon *models.MonitoredTransaction) error
	GetMonitor(ctx context.Context, userId, transferId string) (*models.MonitoredTransaction, error)
	ListUserMonitors(ctx context.Context, userId string) ([]models.MonitoredTransaction, error)
	ListAllMonitors(ctx context.Context) ([]models.MonitoredTransaction, error)
	DeleteMonitor(ctx context.Context, userId, transferId string) error

	// --- Per-user monitoring configuration ---
	GetMonitoringConfig(ctx context.Context, userId string) (*models.MonitoringConfig, error)
	SetMonitoringConfig(ctx context.Context, cfg *models.MonitoringConfig) error

	// --- Webhook subscriptions ---
	AddSubscription(ctx context.Context, sub *models.Subscription) error
	RemoveSubscription(ctx context.Context, userId, subId string) (bool, error)
	ListSubscriptions(ctx context.Context, userId string) ([]models.Subscription, error)

	// --- Lifecycle ---
	Close()
}
