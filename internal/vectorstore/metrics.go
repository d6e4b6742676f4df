package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PassagesStored tracks stored passages per scope.
	// Labels: scope (global, personal, legacy)
	PassagesStored = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "passages",
			Help:      "Number of stored passages by scope",
		},
		[]string{"scope"},
	)

	// SessionsActive tracks live Personal partitions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "sessions_active",
			Help:      "Number of live personal sessions",
		},
	)

	// SessionsReaped counts sessions evicted after their TTL elapsed.
	SessionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "sessions_reaped_total",
			Help:      "Total number of expired personal sessions reaped",
		},
	)

	// SearchesTotal counts searches.
	// Labels: outcome (ok, empty, degraded)
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "searches_total",
			Help:      "Total number of similarity searches by outcome",
		},
		[]string{"outcome"},
	)

	// SearchDuration tracks end-to-end search latency including the query embedding.
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "search_duration_seconds",
			Help:      "Duration of similarity searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// CandidatesSkipped counts candidates excluded from ranking.
	// Labels: reason (dimension, model)
	CandidatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "candidates_skipped_total",
			Help:      "Total number of search candidates skipped",
		},
		[]string{"reason"},
	)

	// PassagesRejected counts passages dropped during ingestion.
	// Labels: reason (empty, embedding, dimension, zero_vector)
	PassagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "passages_rejected_total",
			Help:      "Total number of passages rejected during ingestion",
		},
		[]string{"reason"},
	)

	// PersistenceErrors counts failed writes to the durable backend.
	PersistenceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "persistence_errors_total",
			Help:      "Total number of failed persistence operations",
		},
	)
)

// updateStoreMetrics publishes gauge values from a stats snapshot.
func updateStoreMetrics(st storeStats) {
	PassagesStored.WithLabelValues(ScopeGlobal.String()).Set(float64(st.global.Passages))
	PassagesStored.WithLabelValues(ScopePersonal.String()).Set(float64(st.personal.Passages))
	PassagesStored.WithLabelValues(ScopeLegacy.String()).Set(float64(st.legacy.Passages))
	SessionsActive.Set(float64(st.sessions))
}
