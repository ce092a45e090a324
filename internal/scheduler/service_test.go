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
	"testing"
	"time"

	"transfer-orchestrator-go/internal/common"
	"transfer-orchestrator-go/internal/journal"
	"transfer-orchestrator-go/internal/models"
	"transfer-orchestrator-go/internal/store"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// fakeExecutor fails the first failuresFor[destination] calls for a
// destination and succeeds afterwards, recording call order.
type fakeExecutor struct {
	calls       []string
	failuresFor map[string]int
}

func (f *fakeExecutor) Submit(ctx context.Context, req models.TransferRequest) (*models.SubmitResult, error) {
	f.calls = append(f.calls, req.Destination)
	if f.failuresFor[req.Destination] > 0 {
		f.failuresFor[req.Destination]--
		return nil, errors.New("executor unavailable")
	}
	return &models.SubmitResult{
		TransferId: fmt.Sprintf("transfer-%d", len(f.calls)),
		Status:     "SUBMITTED",
	}, nil
}

type nopNotifier struct{}

func (nopNotifier) Publish(ctx context.Context, userId, event string, payload map[string]interface{}) {
}

func newTestService() (*Service, *fakeExecutor, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	exec := &fakeExecutor{failuresFor: make(map[string]int)}
	svc := NewService(ServiceParams{
		Store:    store.NewMemoryStore(time.Hour),
		Executor: exec,
		Notifier: nopNotifier{},
		Journal:  journal.NewLogJournal(),
		Config: models.SchedulerConfig{
			TickInterval:      time.Minute,
			RetryDelay:        5 * time.Minute,
			DefaultMaxRetries: 3,
			MaxHorizon:        365 * 24 * time.Hour,
		},
		Clock: clock.Now,
	})
	return svc, exec, clock
}

func request(dest string) models.TransferRequest {
	return models.TransferRequest{
		Chain:       "ethereum-mainnet",
		Asset:       "ETH",
		Destination: dest,
		Amount:      "1.0",
	}
}

func TestScheduleTransaction_PastRejected(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()

	_, err := svc.ScheduleTransaction(ctx, "user-1", request("0xaaa"),
		clock.Now().Add(-time.Second), models.ScheduleOptions{})
	if !errors.Is(err, common.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	scheds, err := svc.GetUserSchedules(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUserSchedules failed: %v", err)
	}
	if len(scheds) != 0 {
		t.Errorf("rejected schedule must not be persisted, found %d records", len(scheds))
	}
}

func TestScheduleTransaction_BeyondHorizonRejected(t *testing.T) {
	svc, _, clock := newTestService()

	_, err := svc.ScheduleTransaction(context.Background(), "user-1", request("0xaaa"),
		clock.Now().Add(366*24*time.Hour), models.ScheduleOptions{})
	if !errors.Is(err, common.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRunTick_NotBeforeDue(t *testing.T) {
	svc, exec, clock := newTestService()
	ctx := context.Background()

	if _, err := svc.ScheduleTransaction(ctx, "user-1", request("0xaaa"),
		clock.Now().Add(10*time.Second), models.ScheduleOptions{}); err != nil {
		t.Fatalf("ScheduleTransaction failed: %v", err)
	}

	svc.RunTick(ctx)
	if len(exec.calls) != 0 {
		t.Errorf("nothing is due yet, got %d executor calls", len(exec.calls))
	}
}

func TestRunTick_ExecutesDueInOrder(t *testing.T) {
	svc, exec, clock := newTestService()
	ctx := context.Background()

	// Created out of order on purpose; dispatch order follows due time.
	for _, item := range []struct {
		dest string
		due  time.Duration
	}{
		{"0xsecond", 20 * time.Second},
		{"0xfirst", 10 * time.Second},
		{"0xthird", 30 * time.Second},
	} {
		if _, err := svc.ScheduleTransaction(ctx, "user-1", request(item.dest),
			clock.Now().Add(item.due), models.ScheduleOptions{}); err != nil {
			t.Fatalf("ScheduleTransaction failed: %v", err)
		}
	}

	clock.Advance(time.Minute)
	svc.RunTick(ctx)

	want := []string{"0xfirst", "0xsecond", "0xthird"}
	if len(exec.calls) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(exec.calls))
	}
	for i, dest := range want {
		if exec.calls[i] != dest {
			t.Errorf("call %d: expected %s, got %s", i, dest, exec.calls[i])
		}
	}
}

func TestRunTick_SuccessCompletes(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()

	sched, err := svc.ScheduleTransaction(ctx, "user-1", request("0xaaa"),
		clock.Now().Add(10*time.Second), models.ScheduleOptions{})
	if err != nil {
		t.Fatalf("ScheduleTransaction failed: %v", err)
	}

	clock.Advance(time.Minute)
	svc.RunTick(ctx)

	stored, err := svc.GetSchedule(ctx, "user-1", sched.Id)
	if err != nil {
		t.Fatalf("GetSchedule failed: %v", err)
	}
	if stored.Status != models.ScheduleStatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
	if stored.TransferId == "" {
		t.Error("expected transfer id to be recorded")
	}
	if stored.ExecutedAt.IsZero() {
		t.Error("expected executedAt to be recorded")
	}
	if stored.RetryCount != 0 {
		t.Errorf("expected retryCount 0 on success, got %d", stored.RetryCount)
	}
}

func TestRunTick_FailureReschedules(t *testing.T) {
	svc, exec, clock := newTestService()
	ctx := context.Background()
	exec.failuresFor["0xaaa"] = 1

	sched, err := svc.ScheduleTransaction(ctx, "user-1", request("0xaaa"),
		clock.Now().Add(10*time.Second), models.ScheduleOptions{MaxRetries: 3})
	if err != nil {
		t.Fatalf("ScheduleTransaction failed: %v", err)
	}

	clock.Advance(time.Minute)
	svc.RunTick(ctx)

	stored, err := svc.GetSchedule(ctx, "user-1", sched.Id)
	if err != nil {
		t.Fatalf("GetSchedule failed: %v", err)
	}
	if stored.Status != models.ScheduleStatusScheduled {
		t.Fatalf("expected scheduled after transient failure, got %s", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Errorf("expected retryCount 1, got %d", stored.RetryCount)
	}
	if stored.LastError == "" {
		t.Error("expected lastError to be recorded")
	}
	wantDue := clock.Now().Add(5 * time.Minute)
	if !stored.ScheduledFor.Equal(wantDue) {
		t.Errorf("expected reschedule to %v, got %v", wantDue, stored.ScheduledFor)
	}

	// A second tick before the retry window must not attempt it again.
	svc.RunTick(ctx)
	if len(exec.calls) != 1 {
		t.Fatalf("expected 1 call before retry window, got %d", len(exec.calls))
	}

	// After the retry window the second attempt succeeds and resets the count.
	clock.Advance(6 * time.Minute)
	svc.RunTick(ctx)

	stored, err = svc.GetSchedule(ctx, "user-1", sched.Id)
	if err != nil {
		t.Fatalf("GetSchedule failed: %v", err)
	}
	if stored.Status != models.ScheduleStatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Errorf("expected retryCount reset to 0, got %d", stored.RetryCount)
	}
	if stored.LastError != "" {
		t.Errorf("expected lastError cleared, got %q", stored.LastError)
	}
}

func TestRunTick_RetriesExhausted(t *testing.T) {
	svc, exec, clock := newTestService()
	ctx := context.Background()
	exec.failuresFor["0xaaa"] = 100

	sched, err := svc.ScheduleTransaction(ctx, "user-1", request("0xaaa"),
		clock.Now().Add(10*time.Second), models.ScheduleOptions{MaxRetries: 1})
	if err != nil {
		t.Fatalf("ScheduleTransaction failed: %v", err)
	}

	clock.Advance(time.Minute)
	svc.RunTick(ctx)

	stored, err := svc.GetSchedule(ctx, "user-1", sched.Id)
	if err != nil {
		t.Fatalf("GetSchedule failed: %v", err)
	}
	if stored.Status != models.ScheduleStatusFailed {
		t.Errorf("expected failed at retry cap, got %s", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Errorf("expected retryCount == maxRetries == 1, got %d", stored.RetryCount)
	}
	if stored.RetryCount > stored.MaxRetries {
		t.Errorf("retryCount %d exceeds maxRetries %d", stored.RetryCount, stored.MaxRetries)
	}

	// Failed items leave the queue for good.
	clock.Advance(time.Hour)
	svc.RunTick(ctx)
	if len(exec.calls) != 1 {
		t.Errorf("failed transaction must not be re-dispatched, got %d calls", len(exec.calls))
	}
}

func TestCancel_RemovesFromQueue(t *testing.T) {
	svc, exec, clock := newTestService()
	ctx := context.Background()

	sched, err := svc.ScheduleTransaction(ctx, "user-1", request("0xaaa"),
		clock.Now().Add(10*time.Second), models.ScheduleOptions{})
	if err != nil {
		t.Fatalf("ScheduleTransaction failed: %v", err)
	}

	ok, err := svc.CancelScheduledTransaction(ctx, "user-1", sched.Id)
	if err != nil || !ok {
		t.Fatalf("cancel failed: ok=%v err=%v", ok, err)
	}

	clock.Advance(time.Minute)
	svc.RunTick(ctx)
	if len(exec.calls) != 0 {
		t.Errorf("cancelled transaction must never be dispatched, got %d calls", len(exec.calls))
	}

	stored, err := svc.GetSchedule(ctx, "user-1", sched.Id)
	if err != nil {
		t.Fatalf("GetSchedule failed: %v", err)
	}
	if stored.Status != models.ScheduleStatusCancelled {
		t.Errorf("expected cancelled, got %s", stored.Status)
	}
}

func TestCancel_OnlyFromScheduled(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()

	sched, err := svc.ScheduleTransaction(ctx, "user-1", request("0xaaa"),
		clock.Now().Add(10*time.Second), models.ScheduleOptions{})
	if err != nil {
		t.Fatalf("ScheduleTransaction failed: %v", err)
	}

	clock.Advance(time.Minute)
	svc.RunTick(ctx)

	if _, err := svc.CancelScheduledTransaction(ctx, "user-1", sched.Id); !errors.Is(err, common.ErrStateConflict) {
		t.Errorf("expected ErrStateConflict cancelling a completed transaction, got %v", err)
	}
}

func TestCancel_NotFound(t *testing.T) {
	svc, _, _ := newTestService()

	if _, err := svc.CancelScheduledTransaction(context.Background(), "user-1", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
