package config

// DefaultConfig returns the built-in defaults. Every value can be overridden
// by the global or project config file.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			PollIntervalMs: 100,
			MaxConcurrent:  4,
			GraceTimeoutMs: 5000,
		},
		Retry: RetryConfig{
			BaseMs:     500,
			CapMs:      30000,
			Jitter:     0.2,
			MaxRetries: 3,
		},
		Breaker: BreakerConfig{
			Enabled:             true,
			ConsecutiveFailures: 20,
			OpenTimeoutMs:       30000,
			MaxProbeRequests:    3,
		},
		Impact: ImpactConfig{
			LowThreshold:    2,
			MediumThreshold: 8,
		},
		HistoryCapacity: 100,
	}
}
