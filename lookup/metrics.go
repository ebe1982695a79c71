package lookup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var representativeLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "leonardo_lookup_representative",
	Help: "Representative lookups by ZIP code",
}, []string{"status"})

var representativeLookupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "leonardo_lookup_representative_duration",
	Help:    "Time to look up a representative (including cache round-trips)",
	Buckets: prometheus.ExponentialBucketsRange(0.0001, 20, 20),
}, []string{"status"})

var representativeRequestsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
	Name: "leonardo_lookup_representative_coalesced",
	Help: "Representative lookups which waited on an identical in-flight request",
})

var committeeRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "leonardo_lookup_committee_refreshes",
	Help: "Committee data refreshes",
}, []string{"status"})
