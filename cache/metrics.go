package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "leonardo_cache_ops_total",
	Help: "Number of cache service operations, by operation and outcome",
}, []string{"op", "outcome"})

var cacheClearedKeys = promauto.NewCounter(prometheus.CounterOpts{
	Name: "leonardo_cache_cleared_keys_total",
	Help: "Number of keys removed by pattern invalidation",
})
