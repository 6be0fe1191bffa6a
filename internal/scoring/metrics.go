package scoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	evaluationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fraud_evaluations_total",
		Help: "Total number of transactions evaluated.",
	})

	flaggedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fraud_flagged_total",
		Help: "Total number of transactions flagged for review.",
	})

	ruleTriggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fraud_rule_triggers_total",
		Help: "Total number of rule triggers by reason code.",
	}, []string{"rule"})

	cacheDegradedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fraud_collaborator_degraded_total",
		Help: "Total number of evaluations where a collaborator lookup failed and the rule ran degraded.",
	}, []string{"slot"})

	evaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fraud_evaluation_duration_seconds",
		Help:    "Time taken to score one transaction.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		evaluationsTotal,
		flaggedTotal,
		ruleTriggersTotal,
		cacheDegradedTotal,
		evaluationDuration,
	)
}
