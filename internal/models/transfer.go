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

// TransferRequest describes a single value movement to be executed by the
// transfer executor. Immutable once constructed; amounts travel as decimal
// strings to preserve arbitrary precision.
type TransferRequest struct {
	Chain       string            `json:"chain"`
	Asset       string            `json:"asset"`
	Destination string            `json:"destination"`
	Amount      string            `json:"amount"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Reference   string            `json:"reference,omitempty"`
}

// SubmitResult is what the transfer executor returns for an accepted transfer.
type SubmitResult struct {
	TransferId string `json:"transfer_id"`
	Hash       string `json:"hash,omitempty"`
	Status     string `json:"status"`
}
