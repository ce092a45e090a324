package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"transfer-orchestrator-go/internal/models"
	"transfer-orchestrator-go/internal/store"

	"github.com/google/uuid"
)

func setupNotifier(t *testing.T) (*WebhookNotifier, store.OrchestratorStore) {
	st := store.NewMemoryStore(7 * 24 * time.Hour)
	n := NewWebhookNotifier(st, models.WebhookConfig{Timeout: 2 * time.Second})
	return n, st
}

func subscribe(t *testing.T, st store.OrchestratorStore, userId, url string, events ...string) {
	t.Helper()
	err := st.AddSubscription(context.Background(), &models.Subscription{
		Id:        uuid.New().String(),
		UserId:    userId,
		URL:       url,
		Events:    events,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AddSubscription failed: %v", err)
	}
}

func TestPublish_DeliversEnvelope(t *testing.T) {
	n, st := setupNotifier(t)

	var received atomic.Int32
	var gotEvent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var envelope struct {
			Event  string                 `json:"event"`
			UserId string                 `json:"user_id"`
			Data   map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			t.Errorf("Bad envelope: %v", err)
		}
		gotEvent.Store(envelope.Event)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	subscribe(t, st, "user1", server.URL)

	n.Publish(context.Background(), "user1", models.EventBatchCompleted,
		map[string]interface{}{"batch_id": "b1"})

	if received.Load() != 1 {
		t.Fatalf("Expected 1 delivery, got %d", received.Load())
	}
	if gotEvent.Load() != models.EventBatchCompleted {
		t.Errorf("Expected event %s, got %v", models.EventBatchCompleted, gotEvent.Load())
	}
}

func TestPublish_EventFilter(t *testing.T) {
	n, st := setupNotifier(t)

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// Subscribed only to scheduler events.
	subscribe(t, st, "user1", server.URL, models.EventTransferExecuted)

	n.Publish(context.Background(), "user1", models.EventBatchCompleted, nil)
	if received.Load() != 0 {
		t.Errorf("Expected filtered event not delivered, got %d deliveries", received.Load())
	}

	n.Publish(context.Background(), "user1", models.EventTransferExecuted, nil)
	if received.Load() != 1 {
		t.Errorf("Expected matching event delivered once, got %d", received.Load())
	}
}

func TestPublish_FailuresSwallowed(t *testing.T) {
	n, st := setupNotifier(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	subscribe(t, st, "user1", server.URL)
	// Unreachable endpoint on a second subscription.
	subscribe(t, st, "user1", "http://127.0.0.1:1/hook")

	// Must not panic or propagate anything.
	n.Publish(context.Background(), "user1", models.EventTransferStuck,
		map[string]interface{}{"transfer_id": "tx1"})
}

func TestPublish_NoSubscriptions(t *testing.T) {
	n, _ := setupNotifier(t)
	n.Publish(context.Background(), "nobody", models.EventBatchCreated, nil)
}
