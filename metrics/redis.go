package metrics

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/leonardo-dashboard/leonardo/cache"

	"github.com/redis/go-redis/v9"
)

var redisMetricsPrefix = "metrics:"

const (
	redisCacheTotalKey  = "metrics:cache:total"
	redisCacheHitsKey   = "metrics:cache:hits"
	redisCacheMissesKey = "metrics:cache:misses"
)

// How often queued events are written to redis by Run.
var redisFlushInterval = 250 * time.Millisecond

// Cache hit/miss counters kept in redis, so they aggregate across every replica of the service.
//
// RecordCacheEvent never touches the network: events go on a bounded queue which is flushed in batches by Run. When the queue is full, events are dropped (and counted).
type RedisRecorder struct {
	Client *redis.Client
	Logger *slog.Logger

	events  chan bool
	dropped atomic.Int64
}

var _ cache.MetricsHook = (*RedisRecorder)(nil)

func NewRedisRecorder(client *redis.Client, logger *slog.Logger, queueSize int) *RedisRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 10_000
	}
	return &RedisRecorder{
		Client: client,
		Logger: logger.With("component", "metrics"),
		events: make(chan bool, queueSize),
	}
}

func (r *RedisRecorder) RecordCacheEvent(ctx context.Context, hit bool) {
	select {
	case r.events <- hit:
	default:
		r.dropped.Add(1)
		redisEventsDropped.Inc()
	}
}

// Number of events dropped because the queue was full.
func (r *RedisRecorder) Dropped() int64 {
	return r.dropped.Load()
}

// Periodically flushes queued events until the context is cancelled, then does a final flush.
func (r *RedisRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(redisFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.Flush(flushCtx); err != nil {
				r.Logger.Error("final metrics flush failed", "err", err)
			}
			return nil
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.Logger.Warn("metrics flush failed", "err", err)
			}
		}
	}
}

// Drains the queue (without blocking) and writes the counts in a single round-trip.
func (r *RedisRecorder) Flush(ctx context.Context) error {
	var hits, misses int64
drain:
	for {
		select {
		case hit := <-r.events:
			if hit {
				hits++
			} else {
				misses++
			}
		default:
			break drain
		}
	}
	if hits+misses == 0 {
		return nil
	}

	// increment multiple counters in a single redis round-trip
	multi := r.Client.Pipeline()
	multi.IncrBy(ctx, redisCacheTotalKey, hits+misses)
	if hits > 0 {
		multi.IncrBy(ctx, redisCacheHitsKey, hits)
	}
	if misses > 0 {
		multi.IncrBy(ctx, redisCacheMissesKey, misses)
	}
	_, err := multi.Exec(ctx)
	return err
}

func (r *RedisRecorder) GetMetric(ctx context.Context, name string) (any, bool) {
	switch name {
	case MetricCacheHits:
		return r.counterMetric(ctx, redisCacheHitsKey)
	case MetricCacheMisses:
		return r.counterMetric(ctx, redisCacheMissesKey)
	case MetricCacheTotal:
		return r.counterMetric(ctx, redisCacheTotalKey)
	case MetricCacheHitRate:
		total, ok := r.counter(ctx, redisCacheTotalKey)
		if !ok {
			return nil, false
		}
		hits, ok := r.counter(ctx, redisCacheHitsKey)
		if !ok {
			return nil, false
		}
		return percent(hits, total), true
	}

	// anything else is read directly, as an integer, float, or string
	val, err := r.Client.Get(ctx, redisMetricsPrefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	} else if err != nil {
		r.Logger.Error("failed to read metric", "metric", name, "err", err)
		return nil, false
	}
	if i, err := strconv.ParseInt(val, 10, 64); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		return f, true
	}
	return val, true
}

func (r *RedisRecorder) counterMetric(ctx context.Context, key string) (any, bool) {
	c, ok := r.counter(ctx, key)
	if !ok {
		return nil, false
	}
	return c, true
}

// missing counters read as zero
func (r *RedisRecorder) counter(ctx context.Context, key string) (int64, bool) {
	c, err := r.Client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	} else if err != nil {
		r.Logger.Error("failed to read metric counter", "key", key, "err", err)
		return 0, false
	}
	return c, true
}
