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

package models

import "time"

// On-chain confirmation statuses for a monitored transfer.
const (
	MonitorStatusPending   = "PENDING"
	MonitorStatusConfirmed = "CONFIRMED"
	MonitorStatusFailed    = "FAILED"
)

// MonitoredTransaction tracks a submitted transfer whose on-chain
// confirmation is still pending. Identity is (user id, transfer id).
// AlertSent gates alerts: it is set when an alert fires and reset only by a
// genuine status transition.
type MonitoredTransaction struct {
	UserId                string    `json:"user_id"`
	TransferId            string    `json:"transfer_id"`
	Chain                 string    `json:"chain"`
	Hash                  string    `json:"hash,omitempty"`
	Status                string    `json:"status"`
	Confirmations         int       `json:"confirmations"`
	RequiredConfirmations int       `json:"required_confirmations"`
	LastChecked           time.Time `json:"last_checked"`
	AlertSent             bool      `json:"alert_sent"`
	CreatedAt             time.Time `json:"created_at"`
	Version               int64     `json:"version"`
}

// IsTerminal reports whether the monitored transfer reached a final
// on-chain status.
func (m *MonitoredTransaction) IsTerminal() bool {
	return m.Status == MonitorStatusConfirmed || m.Status == MonitorStatusFailed
}

// MonitoringConfig is the per-user alerting configuration. Read-mostly;
// absent users get defaults from the service configuration.
type MonitoringConfig struct {
	UserId                string        `json:"user_id"`
	RequiredConfirmations int           `json:"required_confirmations"`
	AlertOnConfirmed      bool          `json:"alert_on_confirmed"`
	AlertOnFailed         bool          `json:"alert_on_failed"`
	AlertOnStuck          bool          `json:"alert_on_stuck"`
	StuckThreshold        time.Duration `json:"stuck_threshold,omitempty"`
	AutoMonitor           bool          `json:"auto_monitor"`
	Version               int64         `json:"version"`
}
