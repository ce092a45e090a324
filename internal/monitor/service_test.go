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
	"testing"
	"time"

	"transfer-orchestrator-go/internal/models"
	"transfer-orchestrator-go/internal/store"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Publish(ctx context.Context, userId, event string, payload map[string]interface{}) {
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count(event string) int {
	total := 0
	for _, e := range n.events {
		if e == event {
			total++
		}
	}
	return total
}

func newTestService() (*Service, *recordingNotifier, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	svc := NewService(ServiceParams{
		Store:    store.NewMemoryStore(time.Hour),
		Notifier: notifier,
		Config: models.MonitorConfig{
			PollInterval:          time.Minute,
			StuckThreshold:        time.Hour,
			RequiredConfirmations: 3,
		},
		Clock: clock.Now,
	})
	return svc, notifier, clock
}

func TestUpdateStatus_ConfirmedAlertsOnce(t *testing.T) {
	svc, notifier, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.StartMonitoring(ctx, "user-1", "transfer-1", "ethereum-mainnet", "0xhash", 3); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.UpdateStatus(ctx, "user-1", "transfer-1", models.MonitorStatusConfirmed, 3); err != nil {
			t.Fatalf("UpdateStatus %d failed: %v", i, err)
		}
	}

	if got := notifier.count(models.EventTransferConfirmed); got != 1 {
		t.Errorf("expected exactly 1 confirmation alert, got %d", got)
	}
}

func TestUpdateStatus_AutoPromotesAtRequiredConfirmations(t *testing.T) {
	svc, notifier, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.StartMonitoring(ctx, "user-1", "transfer-1", "ethereum-mainnet", "0xhash", 3); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}

	mon, err := svc.UpdateStatus(ctx, "user-1", "transfer-1", models.MonitorStatusPending, 2)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if mon.Status != models.MonitorStatusPending {
		t.Errorf("2 of 3 confirmations should stay PENDING, got %s", mon.Status)
	}
	if got := notifier.count(models.EventTransferConfirmed); got != 0 {
		t.Errorf("no alert expected below required confirmations, got %d", got)
	}

	mon, err = svc.UpdateStatus(ctx, "user-1", "transfer-1", models.MonitorStatusPending, 3)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if mon.Status != models.MonitorStatusConfirmed {
		t.Errorf("expected promotion to CONFIRMED at 3 confirmations, got %s", mon.Status)
	}
	if got := notifier.count(models.EventTransferConfirmed); got != 1 {
		t.Errorf("expected 1 confirmation alert after promotion, got %d", got)
	}
}

func TestUpdateStatus_FailedAlert(t *testing.T) {
	svc, notifier, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.StartMonitoring(ctx, "user-1", "transfer-1", "ethereum-mainnet", "0xhash", 3); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.UpdateStatus(ctx, "user-1", "transfer-1", models.MonitorStatusFailed, 0); err != nil {
			t.Fatalf("UpdateStatus failed: %v", err)
		}
	}

	if got := notifier.count(models.EventTransferFailedOnChain); got != 1 {
		t.Errorf("expected exactly 1 failure alert, got %d", got)
	}
}

func TestUpdateStatus_AlertTogglesRespected(t *testing.T) {
	svc, notifier, _ := newTestService()
	ctx := context.Background()

	if err := svc.SetMonitoringConfig(ctx, &models.MonitoringConfig{
		UserId:           "user-1",
		AlertOnConfirmed: false,
		AlertOnFailed:    true,
	}); err != nil {
		t.Fatalf("SetMonitoringConfig failed: %v", err)
	}

	if _, err := svc.StartMonitoring(ctx, "user-1", "transfer-1", "ethereum-mainnet", "0xhash", 3); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "user-1", "transfer-1", models.MonitorStatusConfirmed, 3); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	if got := notifier.count(models.EventTransferConfirmed); got != 0 {
		t.Errorf("confirmation alerts disabled for user, got %d", got)
	}
}

func TestCheckStuckTransactions(t *testing.T) {
	svc, notifier, clock := newTestService()
	ctx := context.Background()

	if _, err := svc.StartMonitoring(ctx, "user-1", "transfer-1", "ethereum-mainnet", "0xhash", 3); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}

	// Not yet over the threshold.
	alerted, err := svc.CheckStuckTransactions(ctx, "user-1")
	if err != nil {
		t.Fatalf("CheckStuckTransactions failed: %v", err)
	}
	if alerted != 0 {
		t.Errorf("expected no stuck alerts before threshold, got %d", alerted)
	}

	clock.Advance(2 * time.Hour)

	alerted, err = svc.CheckStuckTransactions(ctx, "user-1")
	if err != nil {
		t.Fatalf("CheckStuckTransactions failed: %v", err)
	}
	if alerted != 1 {
		t.Errorf("expected 1 stuck alert, got %d", alerted)
	}
	if got := notifier.count(models.EventTransferStuck); got != 1 {
		t.Errorf("expected 1 stuck event, got %d", got)
	}

	// Status stays PENDING: the monitor cannot know the transfer failed.
	mon, err := svc.GetMonitor(ctx, "user-1", "transfer-1")
	if err != nil {
		t.Fatalf("GetMonitor failed: %v", err)
	}
	if mon.Status != models.MonitorStatusPending {
		t.Errorf("stuck transfer must remain PENDING, got %s", mon.Status)
	}

	// A second check never re-alerts the same stuck condition.
	alerted, err = svc.CheckStuckTransactions(ctx, "user-1")
	if err != nil {
		t.Fatalf("CheckStuckTransactions failed: %v", err)
	}
	if alerted != 0 {
		t.Errorf("stuck alert must fire once, got %d more", alerted)
	}

	// A genuine transition afterwards still alerts.
	if _, err := svc.UpdateStatus(ctx, "user-1", "transfer-1", models.MonitorStatusConfirmed, 3); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if got := notifier.count(models.EventTransferConfirmed); got != 1 {
		t.Errorf("expected confirmation alert after stuck alert, got %d", got)
	}
}

func TestStopMonitoring(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.StartMonitoring(ctx, "user-1", "transfer-1", "ethereum-mainnet", "0xhash", 3); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}

	ok, err := svc.StopMonitoring(ctx, "user-1", "transfer-1")
	if err != nil || !ok {
		t.Fatalf("StopMonitoring failed: ok=%v err=%v", ok, err)
	}

	if _, err := svc.StopMonitoring(ctx, "user-1", "transfer-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second stop, got %v", err)
	}
}

func TestAutoMonitor_GatedByUserConfig(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	result := &models.SubmitResult{TransferId: "transfer-1", Hash: "0xhash", Status: "SUBMITTED"}

	// No config: auto-monitoring is off.
	svc.AutoMonitor(ctx, "user-1", result, "ethereum-mainnet")
	if _, err := svc.GetMonitor(ctx, "user-1", "transfer-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no monitor without opt-in, got %v", err)
	}

	if err := svc.SetMonitoringConfig(ctx, &models.MonitoringConfig{
		UserId:      "user-1",
		AutoMonitor: true,
	}); err != nil {
		t.Fatalf("SetMonitoringConfig failed: %v", err)
	}

	svc.AutoMonitor(ctx, "user-1", result, "ethereum-mainnet")
	mon, err := svc.GetMonitor(ctx, "user-1", "transfer-1")
	if err != nil {
		t.Fatalf("expected monitor after opt-in: %v", err)
	}
	if mon.RequiredConfirmations != 3 {
		t.Errorf("expected default required confirmations 3, got %d", mon.RequiredConfirmations)
	}
}

func TestStartMonitoring_DefaultRequiredConfirmations(t *testing.T) {
	svc, _, _ := newTestService()

	mon, err := svc.StartMonitoring(context.Background(), "user-1", "transfer-1", "ethereum-mainnet", "0xhash", 0)
	if err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}
	if mon.RequiredConfirmations != 3 {
		t.Errorf("expected service default of 3, got %d", mon.RequiredConfirmations)
	}
}
