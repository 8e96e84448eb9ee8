// Package metrics records and queries Prometheus metrics for agent attempts
// and completed runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"metaflow/pkg/tier"
	"metaflow/pkg/workflow"
)

// Recorder emits attempt- and run-level Prometheus metrics. It implements
// the invoke.AttemptObserver interface.
type Recorder struct {
	attemptsTotal   *prometheus.CounterVec
	attemptCosts    *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	escalations     *prometheus.CounterVec
	runsTotal       *prometheus.CounterVec
	runCosts        prometheus.Histogram
	runDuration     prometheus.Histogram
}

// NewRecorder registers the metric families on the default registerer.
func NewRecorder(namespace string) *Recorder {
	return newRecorder(namespace, prometheus.DefaultRegisterer)
}

// NewRecorderWith registers on a caller-supplied registerer, for tests.
func NewRecorderWith(namespace string, reg prometheus.Registerer) *Recorder {
	return newRecorder(namespace, reg)
}

func newRecorder(namespace string, reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_attempts_total",
				Help:      "Agent invocation attempts by role, tier, model, and status",
			},
			[]string{"role", "tier", "model", "status"},
		),
		attemptCosts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_attempt_cost_usd_total",
				Help:      "Cumulative USD cost of agent attempts, failed attempts included",
			},
			[]string{"role", "tier", "model"},
		),
		attemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_attempt_duration_seconds",
				Help:      "Duration of agent invocation attempts",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"role", "tier"},
		),
		escalations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_escalations_total",
				Help:      "How often each role escalated past each tier",
			},
			[]string{"role", "from_tier"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Completed runs by template and outcome",
			},
			[]string{"template_id", "status"},
		),
		runCosts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_cost_usd",
				Help:      "Total USD cost per run",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
			},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration per run",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}
}

// ObserveAttempt records one invocation attempt. Costs are recorded for
// failed attempts too: a failed attempt still spends money.
func (r *Recorder) ObserveAttempt(role string, t tier.Tier, model string, success bool, costUSD float64, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	r.attemptsTotal.WithLabelValues(role, string(t), model, status).Inc()
	r.attemptCosts.WithLabelValues(role, string(t), model).Add(costUSD)
	r.attemptDuration.WithLabelValues(role, string(t)).Observe(duration.Seconds())
}

// ObserveRun records run-level outcomes, including how far each agent
// escalated on its ladder.
func (r *Recorder) ObserveRun(result *workflow.MetaWorkflowResult) {
	status := "success"
	if !result.Success {
		status = "failure"
	}
	r.runsTotal.WithLabelValues(result.TemplateID, status).Inc()
	r.runCosts.Observe(result.TotalCostUSD)
	r.runDuration.Observe(float64(result.DurationMS) / 1000)

	for i := range result.Agents {
		agent := &result.Agents[i]
		for j := 0; j+1 < len(agent.Attempts); j++ {
			r.escalations.WithLabelValues(agent.Role, string(agent.Attempts[j].Tier)).Inc()
		}
	}
}
