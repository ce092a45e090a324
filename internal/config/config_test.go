package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Scheduler.TickInterval != 60*time.Second {
		t.Errorf("Expected default tick interval 60s, got %s", cfg.Scheduler.TickInterval)
	}
	if cfg.Scheduler.RetryDelay != 5*time.Minute {
		t.Errorf("Expected default retry delay 5m, got %s", cfg.Scheduler.RetryDelay)
	}
	if cfg.Monitor.StuckThreshold != time.Hour {
		t.Errorf("Expected default stuck threshold 1h, got %s", cfg.Monitor.StuckThreshold)
	}
	if cfg.Batch.MaxBatchSize != 50 {
		t.Errorf("Expected default max batch size 50, got %d", cfg.Batch.MaxBatchSize)
	}
	if cfg.Store.EntityTTL != 7*24*time.Hour {
		t.Errorf("Expected default entity TTL 168h, got %s", cfg.Store.EntityTTL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SCHEDULER_TICK_INTERVAL", "5s")
	t.Setenv("BATCH_MAX_SIZE", "10")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Scheduler.TickInterval != 5*time.Second {
		t.Errorf("Expected tick interval 5s, got %s", cfg.Scheduler.TickInterval)
	}
	if cfg.Batch.MaxBatchSize != 10 {
		t.Errorf("Expected max batch size 10, got %d", cfg.Batch.MaxBatchSize)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Expected redis addr override, got %s", cfg.Redis.Addr)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("MONITOR_POLL_INTERVAL", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for invalid duration, got nil")
	}
}
