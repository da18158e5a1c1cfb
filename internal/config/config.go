// Package config defines the engine configuration surface and its loader.
// Values come from defaults, an optional YAML file, and FLOWORC_* environment
// variables, in increasing precedence.
package config

import (
	"time"
)

// Config is the complete configuration for all engine services.
type Config struct {
	Redis        Redis        `mapstructure:"redis"`
	Postgres     Postgres     `mapstructure:"postgres"`
	Streams      Streams      `mapstructure:"streams"`
	State        State        `mapstructure:"state"`
	Orchestrator Orchestrator `mapstructure:"orchestrator"`
	Worker       Worker       `mapstructure:"worker"`
	Reaper       Reaper       `mapstructure:"reaper"`
	RateLimit    RateLimit    `mapstructure:"ratelimit"`
	LogFormat    string       `mapstructure:"log_format"`
	Debug        bool         `mapstructure:"debug"`
}

// Redis holds broker and hot-state connection settings.
type Redis struct {
	// URL takes precedence over Addr when set (redis:// or rediss://).
	URL      string `mapstructure:"url"`
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Postgres holds cold-store connection settings.
type Postgres struct {
	DSN string `mapstructure:"dsn"`
}

// Streams holds the stream names, consumer groups, and trim policy.
type Streams struct {
	Tasks       string `mapstructure:"tasks"`
	Completions string `mapstructure:"completions"`
	DLQ         string `mapstructure:"dlq"`

	OrchestratorGroup string `mapstructure:"orchestrator_group"`
	WorkerGroup       string `mapstructure:"worker_group"`

	// MaxLen is the approximate stream trim length (XADD MAXLEN ~).
	MaxLen int64 `mapstructure:"max_len"`
}

// State holds hot-store TTLs.
type State struct {
	// TerminalTTL is how long per-node and execution state outlives a
	// terminal status before expiring from the hot store.
	TerminalTTL time.Duration `mapstructure:"terminal_ttl"`
	// IdempotencyTTL bounds idempotency marks.
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	// LockTTL bounds fan-in evaluation locks. Must exceed the maximum
	// expected evaluation time so a crashed holder cannot block progress
	// beyond this bound.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// Orchestrator configures the completion consumer.
type Orchestrator struct {
	BatchSize            int           `mapstructure:"batch_size"`
	BlockTime            time.Duration `mapstructure:"block_time"`
	CompletionReclaimIdle time.Duration `mapstructure:"completion_reclaim_idle"`
}

// Worker configures the task consumer and handler harness.
type Worker struct {
	BatchSize int           `mapstructure:"batch_size"`
	BlockTime time.Duration `mapstructure:"block_time"`
	// Concurrency is the number of handler runners fed by the single
	// stream reader. It should not be smaller than BatchSize, or queued
	// deliveries can age past the reaper's reclaim threshold while
	// waiting for a runner.
	Concurrency    int           `mapstructure:"concurrency"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBase      time.Duration `mapstructure:"retry_base"`
	RetryCap       time.Duration `mapstructure:"retry_cap"`
	RetryJitter    time.Duration `mapstructure:"retry_jitter"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`

	// Circuit breaker settings, applied per (process, handler).
	CBThreshold   uint32        `mapstructure:"cb_threshold"`
	CBOpenTimeout time.Duration `mapstructure:"cb_open_timeout"`
}

// Reaper configures the pending-entry reclaim service.
type Reaper struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	MinIdle       time.Duration `mapstructure:"min_idle"`
	BatchSize     int           `mapstructure:"batch_size"`
	// MaxReclaims caps how many times a message may be re-queued before it
	// is routed to the dead-letter store instead.
	MaxReclaims int `mapstructure:"max_reclaims"`
}

// RateLimit configures the fixed-window submission limiter.
type RateLimit struct {
	Enabled       bool `mapstructure:"enabled"`
	RequestsPerMin int  `mapstructure:"requests_per_min"`
}
