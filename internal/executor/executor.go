package executor

import (
	"context"

	"transfer-orchestrator-go/internal/models"
)

// TransferExecutor performs the actual value movement for a transfer request.
// Implementations submit exactly one transfer per call; retries are the
// caller's policy, not the executor's.
type TransferExecutor interface {
	Submit(ctx context.Context, req models.TransferRequest) (*models.SubmitResult, error)
}
