package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"transfer-orchestrator-go/internal/executor"
	"transfer-orchestrator-go/internal/journal"
	"transfer-orchestrator-go/internal/models"
	"transfer-orchestrator-go/internal/notify"
	"transfer-orchestrator-go/internal/store"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	}
}

type Services struct {
	Store    store.OrchestratorStore
	Executor executor.TransferExecutor
	Notifier notify.Notifier
	Journal  journal.Journal
	Registry *AssetRegistry
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires the full dependency graph: Redis state store,
// Prime-backed transfer executor, webhook notification sink, and the
// Formance journal when configured.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	st, err := store.NewRedisStore(ctx, cfg.Redis, cfg.Store.EntityTTL)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Loading Prime API credentials")
	creds, err := loadPrimeCredentials()
	if err != nil {
		st.Close()
		return nil, err
	}

	exec, err := executor.NewPrimeExecutor(ctx, creds)
	if err != nil {
		st.Close()
		return nil, err
	}

	notifier := notify.NewWebhookNotifier(st, cfg.Webhook)

	var jrnl journal.Journal
	if cfg.Journal.StackURL != "" {
		jrnl, err = journal.NewFormanceJournal(ctx, cfg.Journal)
		if err != nil {
			st.Close()
			return nil, err
		}
	} else {
		zap.L().Info("Formance journal not configured - transfer journal disabled")
		jrnl = journal.NewLogJournal()
	}

	var registry *AssetRegistry
	if cfg.Scheduler.AssetsFile != "" {
		registry, err = NewAssetRegistry(cfg.Scheduler.AssetsFile)
		if err != nil {
			zap.L().Warn("Could not load asset registry - asset validation limited to request shape",
				zap.String("file", cfg.Scheduler.AssetsFile),
				zap.Error(err))
			registry = nil
		}
	}

	return &Services{
		Store:    st,
		Executor: exec,
		Notifier: notifier,
		Journal:  jrnl,
		Registry: registry,
	}, nil
}

// InitializeStoreOnly connects just the state store without the Prime API.
// Useful for read-only operations and subscription management.
func InitializeStoreOnly(ctx context.Context, cfg *models.Config) (store.OrchestratorStore, error) {
	return store.NewRedisStore(ctx, cfg.Redis, cfg.Store.EntityTTL)
}

func (cs *Services) Close() {
	if cs.Store != nil {
		cs.Store.Close()
	}
}

func loadPrimeCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
