package breaker

import (
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/d60-Lab/tagstream/config"
	"github.com/d60-Lab/tagstream/internal/metrics"
)

// New 连续失败 FailureThreshold 次后打开，状态变化同步到 metrics
func New(name string, cfg config.BreakerConfig) *gobreaker.CircuitBreaker[any] {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}
