package metrics

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leonardo-dashboard/leonardo/cache"

	"github.com/puzpuzpuz/xsync/v4"
)

// Number of recent request durations kept for the average response time.
const responseTimeWindow = 1000

// Metric names understood by GetMetric.
const (
	MetricCacheHits       = "cache_hits"
	MetricCacheMisses     = "cache_misses"
	MetricCacheTotal      = "cache_total"
	MetricCacheHitRate    = "cache_hit_rate"
	MetricRequestsTotal   = "requests_total"
	MetricErrorsTotal     = "errors_total"
	MetricErrorRate       = "error_rate"
	MetricAvgResponseTime = "avg_response_time"

	// prefixes, followed by an API or endpoint name
	MetricAPICallsPrefix  = "api_calls:"
	MetricAPIErrorsPrefix = "api_errors:"
	MetricEndpointPrefix  = "endpoint:"
)

// In-process metrics aggregation. Implements cache.MetricsHook; all methods are safe for concurrent use.
//
// Every event is also mirrored to prometheus counters.
type Recorder struct {
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	requests    atomic.Int64
	errors      atomic.Int64

	timesMu    sync.Mutex
	times      [responseTimeWindow]float64
	timesCount int
	timesNext  int

	endpoints *xsync.Map[string, *atomic.Int64]
	apis      *xsync.Map[string, *apiCounter]
}

type apiCounter struct {
	calls  atomic.Int64
	errors atomic.Int64
}

// Point-in-time copy of the headline metrics. Rates are percentages rounded to two decimal places.
type Summary struct {
	RequestsTotal       int64     `json:"requests_total"`
	AverageResponseTime float64   `json:"average_response_time"`
	ErrorRate           float64   `json:"error_rate"`
	CacheHitRate        float64   `json:"cache_hit_rate"`
	CacheHits           int64     `json:"cache_hits"`
	CacheMisses         int64     `json:"cache_misses"`
	Timestamp           time.Time `json:"timestamp"`
}

var _ cache.MetricsHook = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{
		endpoints: xsync.NewMap[string, *atomic.Int64](),
		apis:      xsync.NewMap[string, *apiCounter](),
	}
}

func (r *Recorder) RecordCacheEvent(ctx context.Context, hit bool) {
	if hit {
		r.cacheHits.Add(1)
		cacheEvents.WithLabelValues("hit").Inc()
	} else {
		r.cacheMisses.Add(1)
		cacheEvents.WithLabelValues("miss").Inc()
	}
}

// Records the time taken to serve a request. `endpoint` may be empty.
func (r *Recorder) RecordRequestTime(endpoint string, d time.Duration) {
	r.requests.Add(1)

	r.timesMu.Lock()
	r.times[r.timesNext] = float64(d) / float64(time.Millisecond)
	r.timesNext = (r.timesNext + 1) % responseTimeWindow
	if r.timesCount < responseTimeWindow {
		r.timesCount++
	}
	r.timesMu.Unlock()

	if endpoint != "" {
		c, _ := r.endpoints.LoadOrCompute(endpoint, func() (*atomic.Int64, bool) {
			return &atomic.Int64{}, false
		})
		c.Add(1)
	}
	requestDuration.WithLabelValues(endpointLabel(endpoint)).Observe(d.Seconds())
}

// Records a request which failed (any 5xx, or an unhandled error).
func (r *Recorder) RecordError() {
	r.errors.Add(1)
	requestErrors.Inc()
}

// Records a call to an external API. Non-2xx statuses (and zero, for transport failures) count as errors.
func (r *Recorder) RecordAPICall(api string, status int, d time.Duration) {
	c, _ := r.apis.LoadOrCompute(api, func() (*apiCounter, bool) {
		return &apiCounter{}, false
	})
	c.calls.Add(1)
	statusClass := "success"
	if status < 200 || status >= 300 {
		c.errors.Add(1)
		statusClass = "error"
	}
	upstreamCalls.WithLabelValues(api, statusClass).Inc()
	upstreamDuration.WithLabelValues(api).Observe(d.Seconds())
}

// Percentage of cache lookups which were hits; zero when there have been none.
func (r *Recorder) CacheHitRate() float64 {
	hits := r.cacheHits.Load()
	return percent(hits, hits+r.cacheMisses.Load())
}

// Percentage of requests which failed; zero when there have been none.
func (r *Recorder) ErrorRate() float64 {
	return percent(r.errors.Load(), r.requests.Load())
}

// Mean of recent request durations, in milliseconds.
func (r *Recorder) AverageResponseTime() float64 {
	r.timesMu.Lock()
	defer r.timesMu.Unlock()
	if r.timesCount == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < r.timesCount; i++ {
		sum += r.times[i]
	}
	return round2(sum / float64(r.timesCount))
}

func (r *Recorder) GetMetric(ctx context.Context, name string) (any, bool) {
	switch name {
	case MetricCacheHits:
		return r.cacheHits.Load(), true
	case MetricCacheMisses:
		return r.cacheMisses.Load(), true
	case MetricCacheTotal:
		return r.cacheHits.Load() + r.cacheMisses.Load(), true
	case MetricCacheHitRate:
		return r.CacheHitRate(), true
	case MetricRequestsTotal:
		return r.requests.Load(), true
	case MetricErrorsTotal:
		return r.errors.Load(), true
	case MetricErrorRate:
		return r.ErrorRate(), true
	case MetricAvgResponseTime:
		return r.AverageResponseTime(), true
	}

	if api, ok := strings.CutPrefix(name, MetricAPICallsPrefix); ok {
		if c, ok := r.apis.Load(api); ok {
			return c.calls.Load(), true
		}
		return nil, false
	}
	if api, ok := strings.CutPrefix(name, MetricAPIErrorsPrefix); ok {
		if c, ok := r.apis.Load(api); ok {
			return c.errors.Load(), true
		}
		return nil, false
	}
	if endpoint, ok := strings.CutPrefix(name, MetricEndpointPrefix); ok {
		if c, ok := r.endpoints.Load(endpoint); ok {
			return c.Load(), true
		}
		return nil, false
	}
	return nil, false
}

func (r *Recorder) Snapshot() Summary {
	return Summary{
		RequestsTotal:       r.requests.Load(),
		AverageResponseTime: r.AverageResponseTime(),
		ErrorRate:           r.ErrorRate(),
		CacheHitRate:        r.CacheHitRate(),
		CacheHits:           r.cacheHits.Load(),
		CacheMisses:         r.cacheMisses.Load(),
		Timestamp:           time.Now().UTC(),
	}
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func endpointLabel(endpoint string) string {
	if endpoint == "" {
		return "other"
	}
	return endpoint
}
