package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 扇出消费
	FanoutMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_fanout_messages_total",
			Help: "Tag activity messages handled by the fan-out consumer",
		},
		[]string{"tenant", "verb", "outcome"}, // outcome: ok, retry, invalid
	)

	FanoutDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tagstream_fanout_duration_seconds",
			Help:    "Time spent fanning out one tag activity",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"tenant"},
	)

	TimelineRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_timeline_rows_total",
			Help: "Timeline rows written or removed",
		},
		[]string{"tenant", "op"}, // op: insert, aggregate_push, delete, aggregate_pull, populate, depopulate
	)

	FollowerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_fanout_follower_failures_total",
			Help: "Per-follower write failures swallowed during fan-out",
		},
		[]string{"tenant"},
	)

	// 后台任务
	BackgroundTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_background_tasks_total",
			Help: "Detached background tasks by outcome",
		},
		[]string{"task", "outcome"}, // outcome: ok, failed, dropped
	)

	BackgroundQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagstream_background_queue_depth",
			Help: "Tasks waiting in the background runner queue",
		},
	)

	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_dead_letters_total",
			Help: "Entries written to the dead-letter log",
		},
		[]string{"source"},
	)

	// 外部动态流服务
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_feed_requests_total",
			Help: "Requests to the external feed provider",
		},
		[]string{"op", "outcome"},
	)

	FeedRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tagstream_feed_request_duration_seconds",
			Help:    "Latency of external feed provider requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// 实体缓存
	EntityCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_entity_cache_hits_total",
			Help: "Entity cache hits",
		},
		[]string{"kind"},
	)

	EntityCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstream_entity_cache_misses_total",
			Help: "Entity cache misses",
		},
		[]string{"kind"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagstream_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordFanout 记录一条消息的处理结果与耗时
func RecordFanout(tenant, verb, outcome string, d time.Duration) {
	FanoutMessages.WithLabelValues(tenant, verb, outcome).Inc()
	FanoutDuration.WithLabelValues(tenant).Observe(d.Seconds())
}

func RecordFeedRequest(op string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	FeedRequests.WithLabelValues(op, outcome).Inc()
	FeedRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}
