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

package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"transfer-orchestrator-go/internal/common"
	"transfer-orchestrator-go/internal/models"
	"transfer-orchestrator-go/internal/notify"
	"transfer-orchestrator-go/internal/store"

	"go.uber.org/zap"
)

// ServiceParams wires the monitor's collaborators. Clock defaults to time.Now.
type ServiceParams struct {
	Store    store.OrchestratorStore
	Notifier notify.Notifier
	Config   models.MonitorConfig
	Clock    func() time.Time
}

// Service tracks transfers whose on-chain confirmation is still pending and
// raises alerts for confirmation, failure, and stuck conditions. It observes
// only: status updates come from outside (webhooks, explicit polls) and the
// monitor never submits transfers itself.
type Service struct {
	store    store.OrchestratorStore
	notifier notify.Notifier
	cfg      models.MonitorConfig
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
		notifier: params.Notifier,
		cfg:      params.Config,
		clock:    clock,
	}
}

// StartMonitoring creates a PENDING record for a submitted transfer. A
// requiredConfirmations of zero or less takes the user's configured value.
func (s *Service) StartMonitoring(ctx context.Context, userId, transferId, chain, hash string, requiredConfirmations int) (*models.MonitoredTransaction, error) {
	if userId == "" || transferId == "" {
		return nil, fmt.Errorf("%w: user id and transfer id are required", common.ErrInvalidRequest)
	}
	if requiredConfirmations <= 0 {
		requiredConfirmations = s.userConfig(ctx, userId).RequiredConfirmations
	}

	now := s.clock().UTC()
	mon := &models.MonitoredTransaction{
		UserId:                userId,
		TransferId:            transferId,
		Chain:                 chain,
		Hash:                  hash,
		Status:                models.MonitorStatusPending,
		RequiredConfirmations: requiredConfirmations,
		LastChecked:           now,
		CreatedAt:             now,
	}

	if err := s.store.CreateMonitor(ctx, mon); err != nil {
		return nil, fmt.Errorf("failed to start monitoring: %w", err)
	}

	zap.L().Info("Monitoring started",
		zap.String("transfer_id", transferId),
		zap.String("user_id", userId),
		zap.String("chain", chain),
		zap.Int("required_confirmations", requiredConfirmations))

	return mon, nil
}

// AutoMonitor starts monitoring a freshly submitted transfer when the user
// opted in. Fire-and-forget: failures are logged, never returned, so
// execution paths are not coupled to the monitor.
func (s *Service) AutoMonitor(ctx context.Context, userId string, result *models.SubmitResult, chain string) {
	cfg, err := s.store.GetMonitoringConfig(ctx, userId)
	if err != nil || !cfg.AutoMonitor {
		return
	}
	if _, err := s.StartMonitoring(ctx, userId, result.TransferId, chain, result.Hash, cfg.RequiredConfirmations); err != nil {
		if !errors.Is(err, store.ErrAlreadyExists) {
			zap.L().Warn("Auto-monitoring failed",
				zap.String("transfer_id", result.TransferId),
				zap.Error(err))
		}
	}
}

// UpdateStatus applies an externally observed status and confirmation count.
// A PENDING update whose confirmations reach the required count is promoted
// to CONFIRMED. Terminal transitions fire at most one alert, gated by the
// alertSent flag; the flag resets only on a genuine status change.
func (s *Service) UpdateStatus(ctx context.Context, userId, transferId, status string, confirmations int) (*models.MonitoredTransaction, error) {
	switch status {
	case models.MonitorStatusPending, models.MonitorStatusConfirmed, models.MonitorStatusFailed:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", common.ErrInvalidRequest, status)
	}

	mon, err := s.store.GetMonitor(ctx, userId, transferId)
	if err != nil {
		return nil, err
	}

	if status == models.MonitorStatusPending && confirmations >= mon.RequiredConfirmations {
		status = models.MonitorStatusConfirmed
	}

	prev := mon.Status
	mon.Status = status
	mon.Confirmations = confirmations
	mon.LastChecked = s.clock().UTC()
	if status != prev {
		mon.AlertSent = false
	}

	userCfg := s.userConfig(ctx, userId)
	if !mon.AlertSent && mon.IsTerminal() {
		switch {
		case mon.Status == models.MonitorStatusConfirmed && userCfg.AlertOnConfirmed:
			s.notifier.Publish(ctx, userId, models.EventTransferConfirmed, map[string]interface{}{
				"transfer_id":   transferId,
				"chain":         mon.Chain,
				"hash":          mon.Hash,
				"confirmations": confirmations,
			})
			mon.AlertSent = true
		case mon.Status == models.MonitorStatusFailed && userCfg.AlertOnFailed:
			s.notifier.Publish(ctx, userId, models.EventTransferFailedOnChain, map[string]interface{}{
				"transfer_id": transferId,
				"chain":       mon.Chain,
				"hash":        mon.Hash,
			})
			mon.AlertSent = true
		}
	}

	if err := s.store.UpdateMonitor(ctx, mon); err != nil {
		return nil, fmt.Errorf("failed to update monitored transaction: %w", err)
	}

	zap.L().Debug("Monitored transaction updated",
		zap.String("transfer_id", transferId),
		zap.String("status", mon.Status),
		zap.Int("confirmations", confirmations))

	return mon, nil
}

// CheckStuckTransactions alerts on the user's PENDING transfers that have not
// been checked within the stuck threshold. The status deliberately stays
// PENDING: only an external update can resolve a stuck transfer. Returns the
// number of alerts fired.
func (s *Service) CheckStuckTransactions(ctx context.Context, userId string) (int, error) {
	mons, err := s.store.ListUserMonitors(ctx, userId)
	if err != nil {
		return 0, err
	}
	return s.alertStuck(ctx, mons), nil
}

func (s *Service) alertStuck(ctx context.Context, mons []models.MonitoredTransaction) int {
	alerted := 0
	for i := range mons {
		mon := &mons[i]
		if mon.Status != models.MonitorStatusPending || mon.AlertSent {
			continue
		}

		userCfg := s.userConfig(ctx, mon.UserId)
		if !userCfg.AlertOnStuck {
			continue
		}
		age := s.clock().UTC().Sub(mon.LastChecked)
		if age <= userCfg.StuckThreshold {
			continue
		}

		zap.L().Warn("Stuck transaction detected",
			zap.String("transfer_id", mon.TransferId),
			zap.String("user_id", mon.UserId),
			zap.Duration("age", age))

		s.notifier.Publish(ctx, mon.UserId, models.EventTransferStuck, map[string]interface{}{
			"transfer_id":  mon.TransferId,
			"chain":        mon.Chain,
			"hash":         mon.Hash,
			"last_checked": mon.LastChecked,
		})

		mon.AlertSent = true
		if err := s.store.UpdateMonitor(ctx, mon); err != nil {
			zap.L().Error("Failed to record stuck alert",
				zap.String("transfer_id", mon.TransferId),
				zap.Error(err))
			continue
		}
		alerted++
	}
	return alerted
}

// StopMonitoring removes a monitored transfer.
func (s *Service) StopMonitoring(ctx context.Context, userId, transferId string) (bool, error) {
	if err := s.store.DeleteMonitor(ctx, userId, transferId); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		return false, fmt.Errorf("failed to stop monitoring: %w", err)
	}

	zap.L().Info("Monitoring stopped",
		zap.String("transfer_id", transferId),
		zap.String("user_id", userId))
	return true, nil
}

// GetMonitor returns one monitored transfer.
func (s *Service) GetMonitor(ctx context.Context, userId, transferId string) (*models.MonitoredTransaction, error) {
	return s.store.GetMonitor(ctx, userId, transferId)
}

// GetUserMonitors returns all of a user's monitored transfers.
func (s *Service) GetUserMonitors(ctx context.Context, userId string) ([]models.MonitoredTransaction, error) {
	return s.store.ListUserMonitors(ctx, userId)
}

// SetMonitoringConfig stores the user's alerting preferences.
func (s *Service) SetMonitoringConfig(ctx context.Context, cfg *models.MonitoringConfig) error {
	if cfg.UserId == "" {
		return fmt.Errorf("%w: user id is required", common.ErrInvalidRequest)
	}
	if cfg.RequiredConfirmations <= 0 {
		cfg.RequiredConfirmations = s.cfg.RequiredConfirmations
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = s.cfg.StuckThreshold
	}
	return s.store.SetMonitoringConfig(ctx, cfg)
}

// GetMonitoringConfig returns the user's alerting preferences, falling back
// to service defaults for unconfigured users.
func (s *Service) GetMonitoringConfig(ctx context.Context, userId string) *models.MonitoringConfig {
	return s.userConfig(ctx, userId)
}

func (s *Service) userConfig(ctx context.Context, userId string) *models.MonitoringConfig {
	cfg, err := s.store.GetMonitoringConfig(ctx, userId)
	if err == nil {
		if cfg.RequiredConfirmations <= 0 {
			cfg.RequiredConfirmations = s.cfg.RequiredConfirmations
		}
		if cfg.StuckThreshold <= 0 {
			cfg.StuckThreshold = s.cfg.StuckThreshold
		}
		return cfg
	}
	if !errors.Is(err, store.ErrNotFound) {
		zap.L().Warn("Failed to load monitoring config - using defaults",
			zap.String("user_id", userId),
			zap.Error(err))
	}
	return &models.MonitoringConfig{
		UserId:                userId,
		RequiredConfirmations: s.cfg.RequiredConfirmations,
		AlertOnConfirmed:      true,
		AlertOnFailed:         true,
		AlertOnStuck:          true,
		StuckThreshold:        s.cfg.StuckThreshold,
	}
}

// Start launches the stuck-detection poll loop. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})

	go s.pollLoop(ctx)

	zap.L().Info("Monitor poll loop started",
		zap.Duration("poll_interval", s.cfg.PollInterval))
}

// Stop gracefully stops the poll loop.
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
	zap.L().Info("Monitor poll loop stopped")
}

func (s *Service) pollLoop(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunCheck(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunCheck walks every monitored transfer across users and raises stuck
// alerts where due.
func (s *Service) RunCheck(ctx context.Context) {
	mons, err := s.store.ListAllMonitors(ctx)
	if err != nil {
		zap.L().Error("Failed to list monitored transactions", zap.Error(err))
		return
	}
	if alerted := s.alertStuck(ctx, mons); alerted > 0 {
		zap.L().Info("Stuck alerts raised", zap.Int("count", alerted))
	}
}
