package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/crucible-editor/taskcore/internal/task"
)

// BreakerConfig configures the per-task-type circuit breakers wrapped around
// executor invocation. The defaults are deliberately loose so breakers only
// engage for persistently broken executors, well past any single task's
// retry budget.
type BreakerConfig struct {
	Enabled             bool
	ConsecutiveFailures uint32        // Failures before the circuit trips
	OpenTimeout         time.Duration // How long the circuit stays open
	MaxRequests         uint32        // Probe requests allowed half-open
}

// DefaultBreakerConfig returns the stock breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:             true,
		ConsecutiveFailures: 20,
		OpenTimeout:         30 * time.Second,
		MaxRequests:         3,
	}
}

// BreakerRegistry manages one circuit breaker per task type.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	logger   *slog.Logger
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(cfg BreakerConfig, logger *slog.Logger) *BreakerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = DefaultBreakerConfig().MaxRequests
	}
	return &BreakerRegistry{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for the given task type, creating it on first use.
func (r *BreakerRegistry) Get(taskType string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[taskType]; ok {
		return cb
	}

	threshold := r.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        taskType,
		MaxRequests: r.cfg.MaxRequests,
		Interval:    0, // Consecutive-failure counting, never auto-cleared
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change",
				"task_type", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Cancellation and checkpoint pauses are not executor health
			// signals.
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return errors.Is(err, task.ErrPaused)
		},
	})

	r.breakers[taskType] = cb
	return cb
}
