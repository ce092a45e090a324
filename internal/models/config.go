package models

import "time"

// Config represents the application configuration
type Config struct {
	Redis     RedisConfig
	Batch     BatchConfig
	Scheduler SchedulerConfig
	Monitor   MonitorConfig
	Webhook   WebhookConfig
	Journal   JournalConfig
	Store     StoreConfig
}

// RedisConfig holds state store connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StoreConfig holds entity persistence settings
type StoreConfig struct {
	EntityTTL time.Duration // batches and monitored transactions expire after this
}

// BatchConfig holds batch controller settings
type BatchConfig struct {
	MaxBatchSize      int
	DefaultMaxRetries int
}

// SchedulerConfig holds dispatch loop settings
type SchedulerConfig struct {
	TickInterval      time.Duration
	RetryDelay        time.Duration
	DefaultMaxRetries int
	MaxHorizon        time.Duration // how far ahead a transfer may be scheduled
	AssetsFile        string
}

// MonitorConfig holds confirmation monitoring settings
type MonitorConfig struct {
	PollInterval          time.Duration
	StuckThreshold        time.Duration
	RequiredConfirmations int
}

// WebhookConfig holds notification sink settings
type WebhookConfig struct {
	Timeout time.Duration
}

// JournalConfig holds Formance ledger settings. The journal is disabled when
// StackURL is empty.
type JournalConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}
