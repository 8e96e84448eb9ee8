package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaflow/pkg/tier"
	"metaflow/pkg/workflow"
)

func TestObserveAttemptCountsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorderWith("metaflow", reg)

	rec.ObserveAttempt("test_runner", tier.Cheap, "claude-3-5-haiku-20241022", false, 0.01, 200*time.Millisecond)
	rec.ObserveAttempt("test_runner", tier.Capable, "claude-sonnet-4-5", true, 0.08, time.Second)

	failures := testutil.ToFloat64(rec.attemptsTotal.WithLabelValues(
		"test_runner", "cheap", "claude-3-5-haiku-20241022", "failure"))
	assert.Equal(t, 1.0, failures)

	successes := testutil.ToFloat64(rec.attemptsTotal.WithLabelValues(
		"test_runner", "capable", "claude-sonnet-4-5", "success"))
	assert.Equal(t, 1.0, successes)

	// Failed attempt cost is still recorded.
	failedCost := testutil.ToFloat64(rec.attemptCosts.WithLabelValues(
		"test_runner", "cheap", "claude-3-5-haiku-20241022"))
	assert.InDelta(t, 0.01, failedCost, 1e-9)
}

func TestObserveRunRecordsEscalations(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorderWith("metaflow", reg)

	result := &workflow.MetaWorkflowResult{
		TemplateID: "ci_pipeline",
		Success:    true,
		Agents: []workflow.AgentExecutionResult{
			{
				Role: "test_runner",
				Attempts: []workflow.AttemptRecord{
					{Tier: tier.Cheap},
					{Tier: tier.Capable},
					{Tier: tier.Premium, Success: true},
				},
			},
			{
				Role:     "lint_fixer",
				Attempts: []workflow.AttemptRecord{{Tier: tier.Cheap, Success: true}},
			},
		},
	}
	result.Finalize()
	rec.ObserveRun(result)

	runs := testutil.ToFloat64(rec.runsTotal.WithLabelValues("ci_pipeline", "success"))
	require.Equal(t, 1.0, runs)

	fromCheap := testutil.ToFloat64(rec.escalations.WithLabelValues("test_runner", "cheap"))
	fromCapable := testutil.ToFloat64(rec.escalations.WithLabelValues("test_runner", "capable"))
	assert.Equal(t, 1.0, fromCheap)
	assert.Equal(t, 1.0, fromCapable)

	// A single successful attempt is not an escalation.
	lintEscalations := testutil.ToFloat64(rec.escalations.WithLabelValues("lint_fixer", "cheap"))
	assert.Equal(t, 0.0, lintEscalations)
}
