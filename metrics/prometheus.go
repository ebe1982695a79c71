package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "leonardo_cache_events_total",
	Help: "Number of cache lookups, by result (hit or miss)",
}, []string{"result"})

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "leonardo_request_duration_seconds",
	Help:    "Time to serve an API request",
	Buckets: prometheus.ExponentialBucketsRange(0.0001, 10, 20),
}, []string{"endpoint"})

var requestErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "leonardo_request_errors_total",
	Help: "Number of API requests which failed",
})

var upstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "leonardo_upstream_calls_total",
	Help: "Number of calls to external APIs, by API and status class",
}, []string{"api", "status"})

var upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "leonardo_upstream_call_duration_seconds",
	Help:    "Time for external API calls",
	Buckets: prometheus.ExponentialBucketsRange(0.001, 30, 20),
}, []string{"api"})

var redisEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "leonardo_metrics_redis_events_dropped_total",
	Help: "Number of cache events dropped because the redis metrics queue was full",
})
