package persistence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// schemaMutations counts class mutations by operation and result
	schemaMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anansi_schema_mutations_total",
		Help: "Schema mutations by operation and result",
	}, []string{"operation", "result"})

	// schemaMutationDuration tracks mutation latency including storage
	schemaMutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anansi_schema_mutation_duration_seconds",
		Help:    "Schema mutation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"operation"})

	// cacheLookups counts schema cache hits and misses
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anansi_schema_cache_lookups_total",
		Help: "Schema cache lookups by result",
	}, []string{"result"})

	// documentOperations counts object operations by class-agnostic operation and result
	documentOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anansi_document_operations_total",
		Help: "Object operations by operation and result",
	}, []string{"operation", "result"})

	// classLockWaiters is the number of callers waiting on a class mutation lock
	classLockWaiters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anansi_class_lock_waiters",
		Help: "Callers waiting for a per-class mutation lock",
	})
)
