package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EligibilityDecisions   *prometheus.CounterVec
	Classifications        *prometheus.CounterVec
	DeliveryFailures       prometheus.Counter
	EscalationsRaised      prometheus.Counter
	ScanWarnings           prometheus.Counter
	ScanDuration           prometheus.Histogram
	ScannedUsers           prometheus.Gauge
	LeaderChanges          prometheus.Counter
	LeaderElectionDuration prometheus.Histogram
	RedisOperationDuration *prometheus.HistogramVec
	StoreConflicts         prometheus.Counter
}

// NewMetrics registers the collectors on reg. Pass prometheus.DefaultRegisterer
// in binaries and a fresh prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EligibilityDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_eligibility_decisions_total",
			Help: "Eligibility decisions by outcome and denial reason",
		}, []string{"allowed", "reason"}),
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_reply_classifications_total",
			Help: "Classified replies by kind",
		}, []string{"kind"}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "outreach_delivery_failures_total",
			Help: "Outreach attempts whose delivery failed after being recorded",
		}),
		EscalationsRaised: factory.NewCounter(prometheus.CounterOpts{
			Name: "momentum_escalations_total",
			Help: "Users escalated to human review by the momentum scan",
		}),
		ScanWarnings: factory.NewCounter(prometheus.CounterOpts{
			Name: "momentum_scan_warnings_total",
			Help: "Users skipped during a momentum scan because evaluating them failed",
		}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "momentum_scan_duration_seconds",
			Help:    "Time taken by one momentum scan",
			Buckets: prometheus.DefBuckets,
		}),
		ScannedUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "momentum_scanned_users",
			Help: "Users evaluated by the last momentum scan",
		}),
		LeaderChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "momentum_leader_changes_total",
			Help: "Total number of leader changes",
		}),
		LeaderElectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "leader_election_duration_seconds",
			Help:    "Time taken for leader election operations",
			Buckets: prometheus.DefBuckets,
		}),
		RedisOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Time taken for Redis operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		StoreConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "contact_state_update_conflicts_total",
			Help: "Optimistic transaction retries on contact state updates",
		}),
	}
}
