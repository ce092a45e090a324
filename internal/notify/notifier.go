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

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"transfer-orchestrator-go/internal/models"
	"transfer-orchestrator-go/internal/store"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Notifier delivers an event payload to a user's registered subscribers.
// Delivery is fire-and-forget: failures are logged and swallowed, never
// surfaced to the caller, and never affect entity state.
type Notifier interface {
	Publish(ctx context.Context, userId, event string, payload map[string]interface{})
}

// Compile-time check: *WebhookNotifier must satisfy Notifier.
var _ Notifier = (*WebhookNotifier)(nil)

// webhookEnvelope is the JSON body POSTed to each subscriber.
type webhookEnvelope struct {
	Event     string                 `json:"event"`
	UserId    string                 `json:"user_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// WebhookNotifier POSTs events to the webhook subscriptions stored for the
// user, filtered by each subscription's event list.
type WebhookNotifier struct {
	store  store.OrchestratorStore
	client *http.Client
}

func NewWebhookNotifier(st store.OrchestratorStore, cfg models.WebhookConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   5 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		zap.L().Warn("Could not enable HTTP/2 for webhook client", zap.Error(err))
	}

	return &WebhookNotifier{
		store:  st,
		client: &http.Client{Transport: tr, Timeout: timeout},
	}
}

func (n *WebhookNotifier) Publish(ctx context.Context, userId, event string, payload map[string]interface{}) {
	subs, err := n.store.ListSubscriptions(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to load webhook subscriptions",
			zap.String("user_id", userId),
			zap.String("event", event),
			zap.Error(err))
		return
	}

	body, err := json.Marshal(webhookEnvelope{
		Event:     event,
		UserId:    userId,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
	if err != nil {
		zap.L().Error("Failed to marshal webhook payload",
			zap.String("event", event),
			zap.Error(err))
		return
	}

	delivered := 0
	for _, sub := range subs {
		if !sub.Matches(event) {
			continue
		}
		if err := n.deliver(ctx, sub, body); err != nil {
			zap.L().Warn("Webhook delivery failed",
				zap.String("user_id", userId),
				zap.String("event", event),
				zap.String("subscription_id", sub.Id),
				zap.String("url", sub.URL),
				zap.Error(err))
			continue
		}
		delivered++
	}

	if delivered > 0 {
		zap.L().Debug("Event published",
			zap.String("user_id", userId),
			zap.String("event", event),
			zap.Int("delivered", delivered))
	}
}

func (n *WebhookNotifier) deliver(ctx context.Context, sub models.Subscription, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber returned status %d", resp.StatusCode)
	}
	return nil
}
