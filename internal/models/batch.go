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

// Batch statuses. A batch transitions pending -> processing -> terminal;
// processing is entered exactly once per batch.
const (
	BatchStatusPending    = "pending"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
	BatchStatusPartial    = "partial"
)

// FailedItem records one batch item that exhausted its retries.
type FailedItem struct {
	Index    int             `json:"index"`
	Request  TransferRequest `json:"request"`
	Error    string          `json:"error"`
	Attempts int             `json:"attempts"`
}

// BatchJob is a user-submitted group of transfer requests executed together
// under one failure policy. Item lists are immutable once the status is
// terminal. Version is checked on every write (optimistic concurrency).
type BatchJob struct {
	Id           string            `json:"id"`
	UserId       string            `json:"user_id"`
	Requests     []TransferRequest `json:"requests"`
	Status       string            `json:"status"`
	SucceededIds []string          `json:"succeeded_ids,omitempty"`
	FailedItems  []FailedItem      `json:"failed_items,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CompletedAt  time.Time         `json:"completed_at,omitempty"`
	Version      int64             `json:"version"`
}

// IsTerminal reports whether the batch can no longer change.
func (b *BatchJob) IsTerminal() bool {
	switch b.Status {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusPartial:
		return true
	}
	return false
}

// BatchExecutionOptions is the per-call failure policy for ExecuteBatch.
type BatchExecutionOptions struct {
	StopOnError     bool `json:"stop_on_error"`
	RollbackOnError bool `json:"rollback_on_error"`
	MaxRetries      int  `json:"max_retries"`
}

// BatchExecutionResult summarizes one ExecuteBatch call. Unattempted items
// (stopOnError truncation) count toward neither succeeded nor failed.
type BatchExecutionResult struct {
	BatchId       string       `json:"batch_id"`
	Status        string       `json:"status"`
	TotalRequests int          `json:"total_requests"`
	SucceededIds  []string     `json:"succeeded_ids,omitempty"`
	FailedItems   []FailedItem `json:"failed_items,omitempty"`
	Attempted     int          `json:"attempted"`
}
