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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"transfer-orchestrator-go/internal/models"
)

func Load() (*models.Config, error) {
	tickInterval, err := getEnvDuration("SCHEDULER_TICK_INTERVAL", 60*time.Second)
	if err != nil {
		return nil, err
	}

	retryDelay, err := getEnvDuration("SCHEDULER_RETRY_DELAY", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	maxHorizon, err := getEnvDuration("SCHEDULER_MAX_HORIZON", 365*24*time.Hour)
	if err != nil {
		return nil, err
	}

	pollInterval, err := getEnvDuration("MONITOR_POLL_INTERVAL", 60*time.Second)
	if err != nil {
		return nil, err
	}

	stuckThreshold, err := getEnvDuration("MONITOR_STUCK_THRESHOLD", time.Hour)
	if err != nil {
		return nil, err
	}

	entityTTL, err := getEnvDuration("STORE_ENTITY_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	webhookTimeout, err := getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Redis: models.RedisConfig{
			Addr:     getEnvString("REDIS_ADDR", "localhost:6379"),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Store: models.StoreConfig{
			EntityTTL: entityTTL,
		},
		Batch: models.BatchConfig{
			MaxBatchSize:      getEnvInt("BATCH_MAX_SIZE", 50),
			DefaultMaxRetries: getEnvInt("BATCH_MAX_RETRIES", 3),
		},
		Scheduler: models.SchedulerConfig{
			TickInterval:      tickInterval,
			RetryDelay:        retryDelay,
			DefaultMaxRetries: getEnvInt("SCHEDULER_MAX_RETRIES", 3),
			MaxHorizon:        maxHorizon,
			AssetsFile:        getEnvString("ASSETS_FILE", "assets.yaml"),
		},
		Monitor: models.MonitorConfig{
			PollInterval:          pollInterval,
			StuckThreshold:        stuckThreshold,
			RequiredConfirmations: getEnvInt("MONITOR_REQUIRED_CONFIRMATIONS", 3),
		},
		Webhook: models.WebhookConfig{
			Timeout: webhookTimeout,
		},
		Journal: models.JournalConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "transfer-orchestrator"),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
