/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"transfer-orchestrator-go/internal/common"
	"transfer-orchestrator-go/internal/executor"
	"transfer-orchestrator-go/internal/journal"
	"transfer-orchestrator-go/internal/models"
	"transfer-orchestrator-go/internal/notify"
	"transfer-orchestrator-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransferWatcher begins confirmation monitoring for a submitted transfer
// when the owning user has auto-monitoring enabled. Optional collaborator.
type TransferWatcher interface {
	AutoMonitor(ctx context.Context, userId string, result *models.SubmitResult, chain string)
}

// ServiceParams wires the scheduler's collaborators. Watcher and Registry may
// be nil; Clock defaults to time.Now.
type ServiceParams struct {
	Store    store.OrchestratorStore
	Executor executor.TransferExecutor
	Notifier notify.Notifier
	Journal  journal.Journal
	Registry *common.AssetRegistry
	Watcher  TransferWatcher
	Config   models.SchedulerConfig
	Clock    func() time.Time
}

// Service holds future-dated transfers in a time-ordered dispatch queue and
// executes them once due, with bounded retry. The dispatch loop is owned by
// this instance: Start/Stop follow the process lifecycle, and the clock is
// injectable so ticks can be driven deterministically in tests.
type Service struct {
	store    store.OrchestratorStore
	executor executor.TransferExecutor
	notifier notify.Notifier
	journal  journal.Journal
	registry *common.AssetRegistry
	watcher  TransferWatcher
	cfg      models.SchedulerConfig
	clock    func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewService(params ServiceParams) *Service {
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:    params.Store,
		executor: params.Executor,
		notifier: params.Notifier,
		journal:  params.Journal,
		registry: params.Registry,
		watcher:  params.Watcher,
		cfg:      params.Config,
		clock:    clock,
	}
}

// ScheduleTransaction validates the request and due time, persists the
// record in scheduled, and enqueues it in the global dispatch queue.
func (s *Service) ScheduleTransaction(ctx context.Context, userId string, req models.TransferRequest, scheduledFor time.Time, options models.ScheduleOptions) (*models.ScheduledTransaction, error) {
	if userId == "" {
		return nil, fmt.Errorf("%w: user id is required", common.ErrInvalidRequest)
	}
	if err := s.registry.ValidateTransferRequest(req); err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	scheduledFor = scheduledFor.UTC()
	if !scheduledFor.After(now) {
		return nil, fmt.Errorf("%w: scheduled time %s is not in the future",
			common.ErrInvalidRequest, scheduledFor.Format(time.RFC3339))
	}
	if scheduledFor.After(now.Add(s.cfg.MaxHorizon)) {
		return nil, fmt.Errorf("%w: scheduled time %s is more than %s ahead",
			common.ErrInvalidRequest, scheduledFor.Format(time.RFC3339), s.cfg.MaxHorizon)
	}

	maxRetries := options.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.cfg.DefaultMaxRetries
	}

	sched := &models.ScheduledTransaction{
		Id:           uuid.New().String(),
		UserId:       userId,
		Request:      req,
		ScheduledFor: scheduledFor,
		Status:       models.ScheduleStatusScheduled,
		MaxRetries:   maxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("failed to create scheduled transaction: %w", err)
	}
	if err := s.store.EnqueueDispatch(ctx, models.DispatchEntry{
		UserId:     userId,
		ScheduleId: sched.Id,
		Due:        scheduledFor,
	}); err != nil {
		return nil, fmt.Errorf("failed to enqueue scheduled transaction: %w", err)
	}

	zap.L().Info("Transaction scheduled",
		zap.String("schedule_id", sched.Id),
		zap.String("user_id", userId),
		zap.Time("scheduled_for", scheduledFor),
		zap.Int("max_retries", maxRetries))

	s.notifier.Publish(ctx, userId, models.EventTransferScheduled, map[string]interface{}{
		"schedule_id":   sched.Id,
		"scheduled_for": scheduledFor,
	})

	return sched, nil
}

// CancelScheduledTransaction cancels a waiting transaction. Only legal from
// scheduled; the queue entry is removed so later ticks never attempt it.
func (s *Service) CancelScheduledTransaction(ctx context.Context, userId, scheduleId string) (bool, error) {
	sched, err := s.store.GetSchedule(ctx, userId, scheduleId)
	if err != nil {
		return false, err
	}
	if sched.Status != models.ScheduleStatusScheduled {
		return false, fmt.Errorf("%w: scheduled transaction %s is %s, only scheduled ones can be cancelled",
			common.ErrStateConflict, scheduleId, sched.Status)
	}

	sched.Status = models.ScheduleStatusCancelled
	sched.UpdatedAt = s.clock().UTC()
	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return false, fmt.Errorf("%w: scheduled transaction %s changed concurrently",
				common.ErrStateConflict, scheduleId)
		}
		return false, fmt.Errorf("failed to cancel scheduled transaction: %w", err)
	}
	if err := s.store.RemoveDispatch(ctx, userId, scheduleId); err != nil {
		zap.L().Warn("Failed to remove dispatch entry for cancelled transaction",
			zap.String("schedule_id", scheduleId),
			zap.Error(err))
	}

	zap.L().Info("Scheduled transaction cancelled",
		zap.String("schedule_id", scheduleId),
		zap.String("user_id", userId))

	s.notifier.Publish(ctx, userId, models.EventTransferCancelled, map[string]interface{}{
		"schedule_id": scheduleId,
	})

	return true, nil
}

// GetSchedule returns a scheduled transaction owned by the user.
func (s *Service) GetSchedule(ctx context.Context, userId, scheduleId string) (*models.ScheduledTransaction, error) {
	return s.store.GetSchedule(ctx, userId, scheduleId)
}

// GetUserSchedules returns all of a user's scheduled transactions ordered by
// creation time.
func (s *Service) GetUserSchedules(ctx context.Context, userId string) ([]models.ScheduledTransaction, error) {
	return s.store.ListUserSchedules(ctx, userId)
}

// Start launches the dispatch loop. Idempotent: a second Start on a running
// scheduler is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})

	go s.dispatchLoop(ctx)

	zap.L().Info("Scheduler dispatch loop started",
		zap.Duration("tick_interval", s.cfg.TickInterval))
}

// Stop gracefully stops the dispatch loop, waiting for an in-flight tick.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopChan, doneChan := s.stopChan, s.doneChan
	s.mu.Unlock()

	close(stopChan)
	<-doneChan
	zap.L().Info("Scheduler dispatch loop stopped")
}

func (s *Service) dispatchLoop(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunTick(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunTick processes every queue entry due at the tick's start, in ascending
// due-time order. Each entry is removed from the queue before its attempt, so
// an id gets at most one dispatch attempt per tick; retries re-enqueue under
// a fresh due time. Entries becoming due mid-tick wait for the next tick.
func (s *Service) RunTick(ctx context.Context) {
	now := s.clock().UTC()
	entries, err := s.store.DueDispatches(ctx, now)
	if err != nil {
		zap.L().Error("Failed to read dispatch queue", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}

	zap.L().Debug("Dispatching due transactions", zap.Int("count", len(entries)))

	for _, entry := range entries {
		if err := s.store.RemoveDispatch(ctx, entry.UserId, entry.ScheduleId); err != nil {
			zap.L().Error("Failed to remove dispatch entry",
				zap.String("schedule_id", entry.ScheduleId),
				zap.Error(err))
			continue
		}
		s.dispatch(ctx, entry)
	}
}

// dispatch executes one due transaction end to end. Executor failures are
// recorded on the entity and never abort the tick.
func (s *Service) dispatch(ctx context.Context, entry models.DispatchEntry) {
	sched, err := s.store.GetSchedule(ctx, entry.UserId, entry.ScheduleId)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Warn("Dispatch entry without a record - dropped",
			zap.String("schedule_id", entry.ScheduleId))
		return
	}
	if err != nil {
		zap.L().Error("Failed to load scheduled transaction",
			zap.String("schedule_id", entry.ScheduleId),
			zap.Error(err))
		return
	}
	if sched.Status != models.ScheduleStatusScheduled {
		// Cancelled or already claimed between the queue snapshot and now.
		return
	}

	// Claim. Losing the version race means another instance dispatched it.
	sched.Status = models.ScheduleStatusExecuting
	sched.UpdatedAt = s.clock().UTC()
	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			zap.L().Debug("Scheduled transaction claimed elsewhere",
				zap.String("schedule_id", sched.Id))
			return
		}
		zap.L().Error("Failed to claim scheduled transaction",
			zap.String("schedule_id", sched.Id),
			zap.Error(err))
		return
	}

	result, execErr := s.executor.Submit(ctx, sched.Request)
	now := s.clock().UTC()

	if execErr == nil {
		sched.Status = models.ScheduleStatusCompleted
		sched.RetryCount = 0
		sched.TransferId = result.TransferId
		sched.ExecutedAt = now
		sched.LastError = ""
		sched.UpdatedAt = now
		if err := s.store.UpdateSchedule(ctx, sched); err != nil {
			zap.L().Error("Failed to record completed dispatch",
				zap.String("schedule_id", sched.Id),
				zap.Error(err))
			return
		}

		zap.L().Info("Scheduled transaction executed",
			zap.String("schedule_id", sched.Id),
			zap.String("transfer_id", result.TransferId))

		s.journal.RecordTransfer(ctx, journal.Entry{
			Reference:  "schedule:" + sched.Id,
			UserId:     sched.UserId,
			TransferId: result.TransferId,
			Chain:      sched.Request.Chain,
			Asset:      sched.Request.Asset,
			Amount:     sched.Request.Amount,
			Source:     "scheduler",
			ExecutedAt: now,
		})
		if s.watcher != nil {
			s.watcher.AutoMonitor(ctx, sched.UserId, result, sched.Request.Chain)
		}
		s.notifier.Publish(ctx, sched.UserId, models.EventTransferExecuted, map[string]interface{}{
			"schedule_id": sched.Id,
			"transfer_id": result.TransferId,
		})
		return
	}

	sched.RetryCount++
	sched.LastError = execErr.Error()
	sched.UpdatedAt = now

	if sched.RetryCount >= sched.MaxRetries {
		sched.Status = models.ScheduleStatusFailed
		if err := s.store.UpdateSchedule(ctx, sched); err != nil {
			zap.L().Error("Failed to record failed dispatch",
				zap.String("schedule_id", sched.Id),
				zap.Error(err))
			return
		}

		zap.L().Warn("Scheduled transaction failed permanently",
			zap.String("schedule_id", sched.Id),
			zap.Int("retry_count", sched.RetryCount),
			zap.Error(execErr))

		s.notifier.Publish(ctx, sched.UserId, models.EventTransferFailed, map[string]interface{}{
			"schedule_id": sched.Id,
			"error":       execErr.Error(),
			"retry_count": sched.RetryCount,
		})
		return
	}

	sched.Status = models.ScheduleStatusScheduled
	sched.ScheduledFor = now.Add(s.cfg.RetryDelay)
	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		zap.L().Error("Failed to reschedule after failure",
			zap.String("schedule_id", sched.Id),
			zap.Error(err))
		return
	}
	if err := s.store.EnqueueDispatch(ctx, models.DispatchEntry{
		UserId:     sched.UserId,
		ScheduleId: sched.Id,
		Due:        sched.ScheduledFor,
	}); err != nil {
		zap.L().Error("Failed to re-enqueue after failure",
			zap.String("schedule_id", sched.Id),
			zap.Error(err))
		return
	}

	zap.L().Warn("Scheduled transaction failed - rescheduled",
		zap.String("schedule_id", sched.Id),
		zap.Int("retry_count", sched.RetryCount),
		zap.Time("next_attempt", sched.ScheduledFor),
		zap.Error(execErr))

	s.notifier.Publish(ctx, sched.UserId, models.EventTransferRetry, map[string]interface{}{
		"schedule_id":  sched.Id,
		"retry_count":  sched.RetryCount,
		"next_attempt": sched.ScheduledFor,
		"error":        execErr.Error(),
	})
}
