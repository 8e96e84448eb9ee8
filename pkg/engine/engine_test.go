package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaflow/pkg/config"
	"metaflow/pkg/form"
	"metaflow/pkg/invoke"
	"metaflow/pkg/tier"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Forms.Mode = config.FormModeDefaults
	cfg.Learner.Enabled = true
	return cfg
}

func TestRunComposesExecutesAndPersists(t *testing.T) {
	mock := invoke.NewMock()
	mock.SetFallback(invoke.MockStep{
		Output:  "pipeline stage completed with a detailed report of what was produced, which checks were run, and every follow-up item the next stage should pick up",
		CostUSD: 0.01,
	})

	e, err := New(Options{Config: testConfig(t), Invoker: mock})
	require.NoError(t, err)
	defer e.Close()

	result, err := e.Run(context.Background(), "ci_pipeline", RunOptions{})
	require.NoError(t, err)

	// Defaults: run_tests=true, security_scan=basic, languages=[go], so all
	// four rules trigger.
	assert.True(t, result.Success)
	assert.Len(t, result.Agents, 4)
	assert.True(t, result.TotalCostUSD > 0)
	runTests, ok := result.Answers["run_tests"].Bool()
	assert.True(t, ok)
	assert.True(t, runTests)

	// The run is in the log and the index.
	history, err := e.Store().ReadAll()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, result.RunID, history[0].RunID)

	runs, err := e.Store().ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	// Learning ran after the save.
	require.NotNil(t, e.Learner())
	assert.NotEmpty(t, e.Learner().Insights("ci_pipeline"))
}

func TestRunWithSeededAnswers(t *testing.T) {
	mock := invoke.NewMock()
	mock.SetFallback(invoke.MockStep{
		Output:  "pipeline stage completed with a detailed report of what was produced",
		CostUSD: 0.01,
	})

	e, err := New(Options{Config: testConfig(t), Invoker: mock})
	require.NoError(t, err)
	defer e.Close()

	result, err := e.Run(context.Background(), "ci_pipeline", RunOptions{
		Answers: map[string]form.Answer{
			"run_tests":     form.BoolAnswer(true),
			"security_scan": form.ScalarAnswer("none"),
			"languages":     form.ListAnswer("rust"),
		},
	})
	require.NoError(t, err)

	// Security and lint rules do not trigger for these answers; release_notes
	// always does and its predecessor test_runner is present.
	require.Len(t, result.Agents, 2)
	assert.Equal(t, "test_runner", result.Agents[0].Role)
	assert.Equal(t, "release_notes", result.Agents[1].Role)
}

func TestRunRejectsMissingDependency(t *testing.T) {
	e, err := New(Options{Config: testConfig(t), Invoker: invoke.NewMock()})
	require.NoError(t, err)
	defer e.Close()

	// Disabling run_tests leaves release_notes without its declared
	// predecessor; the run fails instead of silently dropping the dependency.
	_, err = e.Run(context.Background(), "ci_pipeline", RunOptions{
		Answers: map[string]form.Answer{
			"run_tests": form.BoolAnswer(false),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test_runner")
}

func TestRunEscalatesThroughEngine(t *testing.T) {
	mock := invoke.NewMock()
	mock.SetFallback(invoke.MockStep{
		Output:  "pipeline stage completed with a detailed report of what was produced, which checks were run, and every follow-up item the next stage should pick up",
		CostUSD: 0.01,
	})
	// test_runner fails its cheap attempt once, forcing one escalation.
	mock.Script("test_runner", tier.Cheap, invoke.MockStep{CostUSD: 0.005})

	e, err := New(Options{Config: testConfig(t), Invoker: mock})
	require.NoError(t, err)
	defer e.Close()

	result, err := e.Run(context.Background(), "ci_pipeline", RunOptions{})
	require.NoError(t, err)
	require.True(t, result.Success)

	for _, agent := range result.Agents {
		if agent.Role != "test_runner" {
			continue
		}
		assert.Equal(t, tier.Capable, agent.FinalTier)
		assert.Len(t, agent.Attempts, 2)
	}
	assert.Equal(t, []tier.Tier{tier.Cheap, tier.Capable}, mock.CallsFor("test_runner"))
}

func TestRunUnknownTemplate(t *testing.T) {
	e, err := New(Options{Config: testConfig(t), Invoker: invoke.NewMock()})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Run(context.Background(), "no_such_template", RunOptions{})
	assert.Error(t, err)
}

func TestRunStrictModeRejectsIncompleteAnswers(t *testing.T) {
	e, err := New(Options{Config: testConfig(t), Invoker: invoke.NewMock()})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Run(context.Background(), "ci_pipeline", RunOptions{
		FormMode: config.FormModeStrict,
		Answers: map[string]form.Answer{
			"run_tests": form.BoolAnswer(true),
		},
	})
	var strictErr *form.StrictModeError
	require.ErrorAs(t, err, &strictErr)
	assert.NotEmpty(t, strictErr.Missing)
}

func TestEstimateWithoutExecution(t *testing.T) {
	mock := invoke.NewMock()
	e, err := New(Options{Config: testConfig(t), Invoker: mock})
	require.NoError(t, err)
	defer e.Close()

	estimate, err := e.Estimate(context.Background(), "ci_pipeline", RunOptions{})
	require.NoError(t, err)
	assert.True(t, estimate.WorstCaseUSD >= estimate.OptimisticUSD)
	assert.Empty(t, mock.Calls())
}
