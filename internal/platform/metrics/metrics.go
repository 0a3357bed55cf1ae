package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	Enrollments        prometheus.Counter
	Verifications      *prometheus.CounterVec
	LockoutsTriggered  prometheus.Counter
	AuditAppends       prometheus.Counter
	ChainVerifications *prometheus.CounterVec
	MatchDuration      prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		Enrollments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biogate_enrollments_total",
			Help: "Total number of successful template enrollments",
		}),
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "biogate_verifications_total",
			Help: "Total verification attempts by decision",
		}, []string{"decision"}),
		LockoutsTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biogate_lockouts_triggered_total",
			Help: "Total number of identities transitioned to the locked state",
		}),
		AuditAppends: promauto.NewCounter(prometheus.CounterOpts{
			Name: "biogate_audit_appends_total",
			Help: "Total records appended to the audit chain",
		}),
		ChainVerifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "biogate_audit_chain_verifications_total",
			Help: "Audit chain verification runs by outcome",
		}, []string{"outcome"}),
		MatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "biogate_match_duration_seconds",
			Help:    "Time spent scoring one modality",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// NewForTest creates metrics on a private registry so parallel tests do not
// collide on the default registerer.
func NewForTest() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Enrollments: factory.NewCounter(prometheus.CounterOpts{
			Name: "biogate_enrollments_total",
			Help: "Total number of successful template enrollments",
		}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "biogate_verifications_total",
			Help: "Total verification attempts by decision",
		}, []string{"decision"}),
		LockoutsTriggered: factory.NewCounter(prometheus.CounterOpts{
			Name: "biogate_lockouts_triggered_total",
			Help: "Total number of identities transitioned to the locked state",
		}),
		AuditAppends: factory.NewCounter(prometheus.CounterOpts{
			Name: "biogate_audit_appends_total",
			Help: "Total records appended to the audit chain",
		}),
		ChainVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "biogate_audit_chain_verifications_total",
			Help: "Audit chain verification runs by outcome",
		}, []string{"outcome"}),
		MatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "biogate_match_duration_seconds",
			Help:    "Time spent scoring one modality",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
