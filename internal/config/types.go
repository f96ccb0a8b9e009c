package config

// PoolConfig tunes the scheduler's worker pool.
type PoolConfig struct {
	PollIntervalMs int `json:"poll_interval_ms"` // Dispatch tick
	MaxConcurrent  int `json:"max_concurrent"`   // Worker slots
	GraceTimeoutMs int `json:"grace_timeout_ms"` // Cooperative-cancel window
}

// RetryConfig tunes the exponential backoff applied to retryable failures.
type RetryConfig struct {
	BaseMs     int     `json:"base_ms"`     // Delay scale for the first retry
	CapMs      int     `json:"cap_ms"`      // Upper bound on any single delay
	Jitter     float64 `json:"jitter"`      // Randomization factor in [0, 1)
	MaxRetries int     `json:"max_retries"` // Default retry budget per task
}

// BreakerConfig tunes the per-task-type circuit breakers.
type BreakerConfig struct {
	Enabled             bool `json:"enabled"`
	ConsecutiveFailures int  `json:"consecutive_failures"`
	OpenTimeoutMs       int  `json:"open_timeout_ms"`
	MaxProbeRequests    int  `json:"max_probe_requests"`
}

// ImpactConfig holds the risk grading thresholds for dependency impact
// analysis: transitive-dependent counts up to Low grade LOW, up to Medium
// grade MEDIUM, anything above grades HIGH.
type ImpactConfig struct {
	LowThreshold    int `json:"low_threshold"`
	MediumThreshold int `json:"medium_threshold"`
}

// Config is the top-level configuration.
type Config struct {
	Pool            PoolConfig    `json:"pool"`
	Retry           RetryConfig   `json:"retry"`
	Breaker         BreakerConfig `json:"breaker"`
	Impact          ImpactConfig  `json:"impact"`
	HistoryCapacity int           `json:"history_capacity"`
	StorePath       string        `json:"store_path"` // SQLite file; empty keeps state in memory only
}
