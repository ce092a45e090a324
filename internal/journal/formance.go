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

package journal

import (
	"context"
	"errors"
	"fmt"

	"transfer-orchestrator-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time check: *FormanceJournal must satisfy Journal.
var _ Journal = (*FormanceJournal)(nil)

// assetPrecision maps canonical asset symbols to their decimal precision.
var assetPrecision = map[string]int{
	"USD":  2,
	"USDC": 6,
	"USDT": 6,
	"BTC":  8,
	"ETH":  18,
	"SOL":  9,
}

// numscriptTransferExecuted debits the user's account into an outbound
// settlement account. One transaction per executed transfer; the Formance
// reference makes it idempotent across retries.
const numscriptTransferExecuted = `vars {
  asset $asset
  number $amount
  account $user_id
  string $transfer_id
  string $chain
  string $asset_symbol
  string $amount_human
  string $source
}

send [$asset $amount] (
  source = @users:$user_id allowing unbounded overdraft
  destination = @outbound:$chain
)

set_tx_meta("event_type", "transfer_executed")
set_tx_meta("transfer_id", $transfer_id)
set_tx_meta("chain", $chain)
set_tx_meta("asset_symbol", $asset_symbol)
set_tx_meta("amount_human", $amount_human)
set_tx_meta("source", $source)
`

// FormanceJournal records executed transfers in a Formance Stack ledger.
type FormanceJournal struct {
	client *v3.Formance
	ledger string
}

// NewFormanceJournal connects to the stack, creates the ledger if it doesn't
// already exist, and returns ready to use.
func NewFormanceJournal(ctx context.Context, cfg models.JournalConfig) (*FormanceJournal, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = "transfer-orchestrator"
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	j := &FormanceJournal{client: client, ledger: cfg.LedgerName}

	if err := j.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	zap.L().Info("Formance journal initialized", zap.String("ledger", cfg.LedgerName))
	return j, nil
}

// ensureLedger creates the ledger if it does not already exist.
func (j *FormanceJournal) ensureLedger(ctx context.Context) error {
	_, err := j.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: j.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "transfer-orchestrator",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", j.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", j.ledger))
	return nil
}

// RecordTransfer posts one ledger transaction for an executed transfer.
// A CONFLICT on the reference means the entry was already recorded (retry
// after a partial failure); that is treated as success. All other errors
// are logged and swallowed so callers never fail on ledger availability.
func (j *FormanceJournal) RecordTransfer(ctx context.Context, entry Entry) {
	amt, err := decimal.NewFromString(entry.Amount)
	if err != nil {
		zap.L().Error("Journal entry has invalid amount",
			zap.String("reference", entry.Reference),
			zap.String("amount", entry.Amount))
		return
	}
	smallAmt := amt.Shift(int32(precisionFor(entry.Asset))).BigInt().String()

	postTx := shared.V2PostTransaction{
		Reference: v3.Pointer(entry.Reference),
		Script: &shared.V2PostTransactionScript{
			Plain: numscriptTransferExecuted,
			Vars: map[string]string{
				"asset":        formanceAsset(entry.Asset),
				"amount":       smallAmt,
				"user_id":      entry.UserId,
				"transfer_id":  entry.TransferId,
				"chain":        entry.Chain,
				"asset_symbol": entry.Asset,
				"amount_human": entry.Amount,
				"source":       entry.Source,
			},
		},
	}
	if !entry.ExecutedAt.IsZero() {
		postTx.Timestamp = &entry.ExecutedAt
	}

	_, err = j.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            j.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			return // idempotent
		}
		zap.L().Error("Failed to record transfer in Formance",
			zap.String("reference", entry.Reference),
			zap.String("transfer_id", entry.TransferId),
			zap.Error(err))
		return
	}

	zap.L().Info("Transfer recorded in Formance",
		zap.String("reference", entry.Reference),
		zap.String("asset", entry.Asset),
		zap.String("amount", entry.Amount))
}

// formanceAsset returns the Formance UMN notation, e.g. "USDC/6".
func formanceAsset(symbol string) string {
	return fmt.Sprintf("%s/%d", symbol, precisionFor(symbol))
}

func precisionFor(symbol string) int {
	if p, ok := assetPrecision[symbol]; ok {
		return p
	}
	return 6
}

// isConflictError checks whether a Formance SDK error is a CONFLICT (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}
