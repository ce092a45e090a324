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

package batch

import (
	"context"
	"errors"
	"fmt"
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

// ServiceParams wires the batch controller's collaborators. Watcher and
// Registry may be nil.
type ServiceParams struct {
	Store    store.OrchestratorStore
	Executor executor.TransferExecutor
	Notifier notify.Notifier
	Journal  journal.Journal
	Registry *common.AssetRegistry
	Watcher  TransferWatcher
	Config   models.BatchConfig
}

// Service executes user-submitted groups of transfer requests under a
// configurable failure policy and records per-item outcomes.
type Service struct {
	store    store.OrchestratorStore
	executor executor.TransferExecutor
	notifier notify.Notifier
	journal  journal.Journal
	registry *common.AssetRegistry
	watcher  TransferWatcher
	cfg      models.BatchConfig
}

func NewService(params ServiceParams) *Service {
	return &Service{
		store:    params.Store,
		executor: params.Executor,
		notifier: params.Notifier,
		journal:  params.Journal,
		registry: params.Registry,
		watcher:  params.Watcher,
		cfg:      params.Config,
	}
}

// CreateBatch validates the requests and persists a new batch in pending.
// Nothing is executed yet.
func (s *Service) CreateBatch(ctx context.Context, userId string, requests []models.TransferRequest) (*models.BatchJob, error) {
	if userId == "" {
		return nil, fmt.Errorf("%w: user id is required", common.ErrInvalidRequest)
	}
	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: batch must contain at least one request", common.ErrInvalidRequest)
	}
	if len(requests) > s.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch size %d exceeds maximum %d",
			common.ErrInvalidRequest, len(requests), s.cfg.MaxBatchSize)
	}
	for i, req := range requests {
		if err := s.registry.ValidateTransferRequest(req); err != nil {
			return nil, fmt.Errorf("request at index %d: %w", i, err)
		}
	}

	now := time.Now().UTC()
	batch := &models.BatchJob{
		Id:        uuid.New().String(),
		UserId:    userId,
		Requests:  requests,
		Status:    models.BatchStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	zap.L().Info("Batch created",
		zap.String("batch_id", batch.Id),
		zap.String("user_id", userId),
		zap.Int("requests", len(requests)))

	s.notifier.Publish(ctx, userId, models.EventBatchCreated, map[string]interface{}{
		"batch_id":       batch.Id,
		"total_requests": len(requests),
	})

	return batch, nil
}

// ExecuteBatch runs a pending batch to a terminal state. Items are attempted
// sequentially in request order; each item gets up to options.MaxRetries
// executor attempts with no backoff. With StopOnError set the loop halts at
// the first exhausted item, leaving the rest unattempted (unattempted counts
// toward neither success nor failure).
func (s *Service) ExecuteBatch(ctx context.Context, userId, batchId string, options models.BatchExecutionOptions) (*models.BatchExecutionResult, error) {
	if options.RollbackOnError {
		// On-chain transfers are irreversible; compensating rollback cannot
		// be honored, so the option is rejected rather than ignored.
		return nil, fmt.Errorf("%w: rollbackOnError is not supported", common.ErrInvalidRequest)
	}

	maxRetries := options.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.cfg.DefaultMaxRetries
	}

	batch, err := s.store.GetBatch(ctx, userId, batchId)
	if err != nil {
		return nil, err
	}
	if batch.Status != models.BatchStatusPending {
		return nil, fmt.Errorf("%w: batch %s is %s, only pending batches can be executed",
			common.ErrStateConflict, batchId, batch.Status)
	}

	// Claim the batch. A concurrent executor loses the version race here and
	// never reaches the executor, so processing is entered exactly once.
	batch.Status = models.BatchStatusProcessing
	batch.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateBatch(ctx, batch); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: batch %s was claimed by a concurrent request",
				common.ErrStateConflict, batchId)
		}
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}

	zap.L().Info("Executing batch",
		zap.String("batch_id", batchId),
		zap.String("user_id", userId),
		zap.Int("requests", len(batch.Requests)),
		zap.Bool("stop_on_error", options.StopOnError),
		zap.Int("max_retries", maxRetries))

	attempted := 0
	for i, req := range batch.Requests {
		attempted++

		result, attempts, itemErr := s.executeItem(ctx, req, maxRetries)
		if itemErr == nil {
			batch.SucceededIds = append(batch.SucceededIds, result.TransferId)
			s.journal.RecordTransfer(ctx, journal.Entry{
				Reference:  fmt.Sprintf("batch:%s:%d", batchId, i),
				UserId:     userId,
				TransferId: result.TransferId,
				Chain:      req.Chain,
				Asset:      req.Asset,
				Amount:     req.Amount,
				Source:     "batch",
				ExecutedAt: time.Now().UTC(),
			})
			if s.watcher != nil {
				s.watcher.AutoMonitor(ctx, userId, result, req.Chain)
			}
			continue
		}

		zap.L().Warn("Batch item failed after retries",
			zap.String("batch_id", batchId),
			zap.Int("index", i),
			zap.Int("attempts", attempts),
			zap.Error(itemErr))

		batch.FailedItems = append(batch.FailedItems, models.FailedItem{
			Index:    i,
			Request:  req,
			Error:    itemErr.Error(),
			Attempts: attempts,
		})

		if options.StopOnError {
			break
		}
	}

	switch {
	case len(batch.FailedItems) == 0:
		batch.Status = models.BatchStatusCompleted
	case len(batch.SucceededIds) == 0:
		batch.Status = models.BatchStatusFailed
	default:
		batch.Status = models.BatchStatusPartial
	}
	now := time.Now().UTC()
	batch.UpdatedAt = now
	batch.CompletedAt = now

	if err := s.store.UpdateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to record batch outcome: %w", err)
	}

	zap.L().Info("Batch finished",
		zap.String("batch_id", batchId),
		zap.String("status", batch.Status),
		zap.Int("succeeded", len(batch.SucceededIds)),
		zap.Int("failed", len(batch.FailedItems)),
		zap.Int("attempted", attempted))

	s.notifier.Publish(ctx, userId, models.EventBatchCompleted, map[string]interface{}{
		"batch_id":  batchId,
		"status":    batch.Status,
		"succeeded": len(batch.SucceededIds),
		"failed":    len(batch.FailedItems),
		"attempted": attempted,
	})

	return &models.BatchExecutionResult{
		BatchId:       batchId,
		Status:        batch.Status,
		TotalRequests: len(batch.Requests),
		SucceededIds:  batch.SucceededIds,
		FailedItems:   batch.FailedItems,
		Attempted:     attempted,
	}, nil
}

// executeItem attempts a single transfer up to maxRetries times. Returns the
// result of the first successful attempt, or the last error with the number
// of attempts made.
func (s *Service) executeItem(ctx context.Context, req models.TransferRequest, maxRetries int) (*models.SubmitResult, int, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, err := s.executor.Submit(ctx, req)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, attempt, lastErr
		}
	}
	return nil, maxRetries, lastErr
}

// GetBatch returns a batch owned by the user.
func (s *Service) GetBatch(ctx context.Context, userId, batchId string) (*models.BatchJob, error) {
	return s.store.GetBatch(ctx, userId, batchId)
}

// GetUserBatches returns all of a user's batches ordered by creation time.
func (s *Service) GetUserBatches(ctx context.Context, userId string) ([]models.BatchJob, error) {
	return s.store.ListUserBatches(ctx, userId)
}

// CancelBatch cancels a pending batch. The batch is marked failed with no
// items attempted; any other state is a conflict.
func (s *Service) CancelBatch(ctx context.Context, userId, batchId string) (bool, error) {
	batch, err := s.store.GetBatch(ctx, userId, batchId)
	if err != nil {
		return false, err
	}
	if batch.Status != models.BatchStatusPending {
		return false, fmt.Errorf("%w: batch %s is %s, only pending batches can be cancelled",
			common.ErrStateConflict, batchId, batch.Status)
	}

	now := time.Now().UTC()
	batch.Status = models.BatchStatusFailed
	batch.UpdatedAt = now
	batch.CompletedAt = now
	if err := s.store.UpdateBatch(ctx, batch); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return false, fmt.Errorf("%w: batch %s changed concurrently", common.ErrStateConflict, batchId)
		}
		return false, fmt.Errorf("failed to cancel batch: %w", err)
	}

	zap.L().Info("Batch cancelled",
		zap.String("batch_id", batchId),
		zap.String("user_id", userId))

	s.notifier.Publish(ctx, userId, models.EventBatchCancelled, map[string]interface{}{
		"batch_id": batchId,
	})

	return true, nil
}
