package healer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kubeheal_cycle_duration_seconds",
			Help:    "Duration of one evaluation cycle in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubeheal_cycles_total",
			Help: "Total evaluation cycles by outcome",
		},
		[]string{"outcome"},
	)

	escalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubeheal_escalations_total",
			Help: "Total escalation actions by tier",
		},
		[]string{"tier"},
	)

	conflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubeheal_state_conflicts_total",
			Help: "Total healing-state writes lost to a concurrent cycle",
		},
	)

	riskProbability = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kubeheal_risk_probability",
			Help: "Last predicted failure probability per workload",
		},
		[]string{"workload"},
	)
)
