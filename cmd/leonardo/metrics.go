package main

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("leonardo")

var batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "leonardo_lookup_batch_size",
	Help:    "Number of ZIP codes per lookup request",
	Buckets: prometheus.LinearBuckets(1, 1, 10),
})

var committeeImports = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "leonardo_committee_imports",
	Help: "Committee data refreshes triggered through the admin API",
}, []string{"status"})

// registers its collectors on creation, so shared by every server in the process
var httpMetrics = echoprometheus.NewMiddleware("leonardo")
