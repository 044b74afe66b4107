// Package metrics holds the process-wide prometheus collectors. Collectors
// register on the default registry and are served by promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "compendium"

var (
	SyncItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "items_total",
			Help:      "Items written by provider syncs.",
		},
		[]string{"provider", "type"},
	)

	SyncErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "errors_total",
			Help:      "Errors recorded in provider sync results.",
		},
		[]string{"provider"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Provider sync latency.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"provider"},
	)

	TransformFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "transform_failures_total",
			Help:      "Raw records rejected by provider transforms.",
		},
		[]string{"provider", "type"},
	)

	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "hits_total",
			Help:      "Query cache hits.",
		},
		[]string{"category"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "misses_total",
			Help:      "Query cache misses.",
		},
		[]string{"category"},
	)

	CacheInvalidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "invalidated_keys_total",
			Help:      "Keys removed by prefix invalidation.",
		},
	)

	BroadcastClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "clients",
			Help:      "Connected push channel clients.",
		},
	)

	BroadcastEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "events_total",
			Help:      "Events sent to push channel clients.",
		},
		[]string{"event"},
	)

	CacheVersionBumpsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cacheversion",
			Name:      "bumps_total",
			Help:      "Cache version bumps.",
		},
	)

	ReplicaQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replica",
			Name:      "queue_depth",
			Help:      "Pending offline mutations.",
		},
	)

	ReplicaReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replica",
			Name:      "reconnect_attempts_total",
			Help:      "Push channel reconnect attempts.",
		},
	)
)
