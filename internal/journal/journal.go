package journal

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Entry describes one executed transfer for the audit journal. Reference is
// idempotent: recording the same reference twice is a no-op.
type Entry struct {
	Reference  string // unique per execution, e.g. "batch:<batch>:<index>" or "schedule:<id>"
	UserId     string
	TransferId string
	Chain      string
	Asset      string
	Amount     string
	Source     string // "batch" or "scheduler"
	ExecutedAt time.Time
}

// Journal records executed transfers in an external ledger. Failures are the
// journal's problem: implementations log and swallow them so entity state is
// never affected by ledger availability.
type Journal interface {
	RecordTransfer(ctx context.Context, entry Entry)
}

// Compile-time check: *LogJournal must satisfy Journal.
var _ Journal = (*LogJournal)(nil)

// LogJournal writes journal entries to the structured log only. Used when no
// Formance stack is configured.
type LogJournal struct{}

func NewLogJournal() *LogJournal { return &LogJournal{} }

func (j *LogJournal) RecordTransfer(ctx context.Context, entry Entry) {
	zap.L().Info("Transfer executed",
		zap.String("reference", entry.Reference),
		zap.String("user_id", entry.UserId),
		zap.String("transfer_id", entry.TransferId),
		zap.String("chain", entry.Chain),
		zap.String("asset", entry.Asset),
		zap.String("amount", entry.Amount),
		zap.String("source", entry.Source))
}
