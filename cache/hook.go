package cache

import (
	"context"
)

// MetricsHook receives cache hit/miss events and answers metric queries by name.
//
// RecordCacheEvent must not block on slow I/O, must not panic, and must tolerate concurrent calls.
type MetricsHook interface {
	RecordCacheEvent(ctx context.Context, hit bool)
	GetMetric(ctx context.Context, name string) (any, bool)
}

// Default MetricsHook, which records nothing and knows no metrics.
type NoopMetrics struct{}

var _ MetricsHook = NoopMetrics{}

func (NoopMetrics) RecordCacheEvent(ctx context.Context, hit bool) {}

func (NoopMetrics) GetMetric(ctx context.Context, name string) (any, bool) {
	return nil, false
}
