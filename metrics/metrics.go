package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walkable_queries_total",
		Help: "Total number of queries by operation and outcome",
	}, []string{"operation", "outcome"})
	QueryDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "walkable_query_duration_seconds",
		Help:    "End-to-end query duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})
	SelectorDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "walkable_selector_duration_seconds",
		Help:    "Operation selector call duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	SelectorCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "walkable_selector_cache_hits_total",
		Help: "Total selector decisions served from redis",
	})
	SelectorCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "walkable_selector_cache_misses_total",
		Help: "Total selector cache misses",
	})
	LocationLoadDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "walkable_location_load_duration_seconds",
		Help:    "Location bundle load and build duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"slug", "outcome"})
	LocationNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "walkable_location_nodes",
		Help: "Node count of the active location graph",
	})
	LocationFeatures = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "walkable_location_features",
		Help: "Feature count of the active location",
	})
	EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walkable_events_published_total",
		Help: "Query result events published to NATS",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDurationSeconds)
	prometheus.MustRegister(SelectorDurationSeconds)
	prometheus.MustRegister(SelectorCacheHitsTotal)
	prometheus.MustRegister(SelectorCacheMissesTotal)
	prometheus.MustRegister(LocationLoadDurationSeconds)
	prometheus.MustRegister(LocationNodes)
	prometheus.MustRegister(LocationFeatures)
	prometheus.MustRegister(EventsPublishedTotal)
}

func Handler() http.Handler { return promhttp.Handler() }
