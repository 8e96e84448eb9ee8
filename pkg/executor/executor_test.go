package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaflow/pkg/invoke"
	"metaflow/pkg/invoke/llmerrors"
	"metaflow/pkg/tier"
	"metaflow/pkg/workflow"
)

func TestEscalatesOneTierAtATime(t *testing.T) {
	mock := invoke.NewMock()
	mock.Script("builder", tier.Cheap, invoke.MockStep{CostUSD: 0.01})
	mock.Script("builder", tier.Capable, invoke.MockStep{Output: "done", CostUSD: 0.05})

	exec := New(mock, Options{Workers: 1})
	results, err := exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "builder", Strategy: tier.Progressive},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.True(t, r.Success)
	assert.Equal(t, tier.Capable, r.FinalTier)
	require.Len(t, r.Attempts, 2)
	assert.False(t, r.Attempts[0].Success)
	assert.Equal(t, workflow.ReasonBelowAcceptance, r.Attempts[0].FailureReason)
	assert.True(t, r.Attempts[1].Success)

	// The ladder must be walked rung by rung, never skipping a tier.
	assert.Equal(t, []tier.Tier{tier.Cheap, tier.Capable}, mock.CallsFor("builder"))
}

func TestFailedAttemptsCostMoney(t *testing.T) {
	mock := invoke.NewMock()
	mock.Script("builder", tier.Cheap, invoke.MockStep{CostUSD: 0.01})
	mock.Script("builder", tier.Capable, invoke.MockStep{CostUSD: 0.05})
	mock.Script("builder", tier.Premium, invoke.MockStep{Output: "done", CostUSD: 0.20})

	exec := New(mock, Options{Workers: 1})
	results, err := exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "builder", Strategy: tier.Progressive},
	})
	require.NoError(t, err)

	r := results[0]
	assert.True(t, r.Success)
	require.Len(t, r.Attempts, 3)
	assert.InDelta(t, 0.26, r.CostUSD, 1e-9)
}

func TestLadderExhaustion(t *testing.T) {
	mock := invoke.NewMock()
	mock.SetFallback(invoke.MockStep{CostUSD: 0.01})

	exec := New(mock, Options{Workers: 1})
	results, err := exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "builder", Strategy: tier.CapableFirst, Required: true},
	})
	require.NoError(t, err)

	r := results[0]
	assert.False(t, r.Success)
	assert.Equal(t, workflow.ReasonExhausted, r.FailureReason)
	assert.Equal(t, []tier.Tier{tier.Capable, tier.Premium}, mock.CallsFor("builder"))
}

func TestBudgetStopsNewAttempts(t *testing.T) {
	mock := invoke.NewMock()
	mock.Script("first", tier.Cheap, invoke.MockStep{Output: "done", CostUSD: 0.05})

	exec := New(mock, Options{Workers: 1, BudgetCeilingUSD: 0.01})
	results, err := exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "first", Strategy: tier.CheapOnly},
		{Role: "second", Strategy: tier.CheapOnly},
	})
	require.NoError(t, err)

	// The in-flight attempt finishes and its cost is recorded past the
	// ceiling; the next agent never starts an attempt.
	assert.True(t, results[0].Success)
	assert.InDelta(t, 0.05, results[0].CostUSD, 1e-9)

	assert.False(t, results[1].Success)
	assert.Equal(t, workflow.ReasonBudgetExceeded, results[1].FailureReason)
	assert.Empty(t, results[1].Attempts)
	assert.Empty(t, mock.CallsFor("second"))
}

func TestBudgetCutoffDuringEscalation(t *testing.T) {
	mock := invoke.NewMock()
	mock.Script("upstream", tier.Cheap, invoke.MockStep{CostUSD: 0.05})

	exec := New(mock, Options{Workers: 1, BudgetCeilingUSD: 0.01})
	results, err := exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "upstream", Strategy: tier.Progressive},
		{Role: "downstream", Strategy: tier.CheapOnly, DependsOn: "upstream"},
	})
	require.NoError(t, err)

	// The failed cheap attempt charges past the ceiling while the agent is
	// mid-escalation; it must still reach a terminal state with the budget
	// reason instead of attempting the capable tier.
	up := results[0]
	assert.False(t, up.Success)
	assert.Equal(t, workflow.ReasonBudgetExceeded, up.FailureReason)
	require.Len(t, up.Attempts, 1)
	assert.Equal(t, []tier.Tier{tier.Cheap}, mock.CallsFor("upstream"))

	// The dependent unblocks on the predecessor's terminal state and is cut
	// off by the same ceiling before its first attempt.
	down := results[1]
	assert.False(t, down.Success)
	assert.Equal(t, workflow.ReasonBudgetExceeded, down.FailureReason)
	assert.Empty(t, down.Attempts)
	assert.Empty(t, mock.CallsFor("downstream"))
}

func TestNonRetryableErrorStopsEscalation(t *testing.T) {
	mock := invoke.NewMock()
	mock.Script("builder", tier.Cheap, invoke.MockStep{
		CostUSD: 0.01,
		Err:     llmerrors.NewError(llmerrors.ErrorTypeAuth, "invalid api key"),
	})

	exec := New(mock, Options{Workers: 1})
	results, err := exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "builder", Strategy: tier.Progressive},
	})
	require.NoError(t, err)

	r := results[0]
	assert.False(t, r.Success)
	assert.Equal(t, "auth", r.FailureReason)
	require.Len(t, r.Attempts, 1)
	assert.InDelta(t, 0.01, r.CostUSD, 1e-9)
	assert.Equal(t, []tier.Tier{tier.Cheap}, mock.CallsFor("builder"))
}

func TestRetryableErrorEscalates(t *testing.T) {
	mock := invoke.NewMock()
	mock.Script("builder", tier.Cheap, invoke.MockStep{
		CostUSD: 0.01,
		Err:     llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, 429, "quota"),
	})
	mock.Script("builder", tier.Capable, invoke.MockStep{Output: "done", CostUSD: 0.05})

	exec := New(mock, Options{Workers: 1})
	results, err := exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "builder", Strategy: tier.Progressive},
	})
	require.NoError(t, err)

	r := results[0]
	assert.True(t, r.Success)
	assert.Equal(t, "rate_limit", r.Attempts[0].FailureReason)
}

func TestMinOutputCharsGatesAcceptance(t *testing.T) {
	mock := invoke.NewMock()
	mock.Script("writer", tier.Cheap, invoke.MockStep{Output: "short", CostUSD: 0.01})
	mock.Script("writer", tier.Capable, invoke.MockStep{
		Output:  "a considerably longer piece of output text",
		CostUSD: 0.05,
	})

	exec := New(mock, Options{Workers: 1})
	results, err := exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "writer", Strategy: tier.Progressive, MinOutputChars: 20},
	})
	require.NoError(t, err)

	r := results[0]
	assert.True(t, r.Success)
	assert.Equal(t, tier.Capable, r.FinalTier)
	assert.Equal(t, workflow.ReasonBelowAcceptance, r.Attempts[0].FailureReason)
}

func TestDependentWaitsForPredecessor(t *testing.T) {
	mock := invoke.NewMock()
	mock.Script("upstream", tier.Cheap, invoke.MockStep{
		Output:  "done",
		CostUSD: 0.01,
		Delay:   20 * time.Millisecond,
	})
	mock.Script("downstream", tier.Cheap, invoke.MockStep{Output: "done", CostUSD: 0.01})

	exec := New(mock, Options{Workers: 4})
	results, err := exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "upstream", Strategy: tier.CheapOnly},
		{Role: "downstream", Strategy: tier.CheapOnly, DependsOn: "upstream"},
	})
	require.NoError(t, err)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "upstream", calls[0].Role)
	assert.Equal(t, "downstream", calls[1].Role)
}

func TestDependentRunsAfterFailedPredecessor(t *testing.T) {
	mock := invoke.NewMock()
	mock.Script("upstream", tier.Cheap, invoke.MockStep{CostUSD: 0.01})
	mock.Script("downstream", tier.Cheap, invoke.MockStep{Output: "done", CostUSD: 0.01})

	exec := New(mock, Options{Workers: 4})
	results, err := exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "upstream", Strategy: tier.CheapOnly},
		{Role: "downstream", Strategy: tier.CheapOnly, DependsOn: "upstream"},
	})
	require.NoError(t, err)

	// Completion, not success, unblocks dependents.
	assert.False(t, results[0].Success)
	assert.True(t, results[1].Success)
}

func TestReadyAgentsLaunchInDeclarationOrder(t *testing.T) {
	mock := invoke.NewMock()
	mock.SetFallback(invoke.MockStep{Output: "done", CostUSD: 0.001})

	exec := New(mock, Options{Workers: 1})
	_, err := exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "a", Strategy: tier.CheapOnly},
		{Role: "b", Strategy: tier.CheapOnly},
		{Role: "c", Strategy: tier.CheapOnly},
	})
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "a", calls[0].Role)
	assert.Equal(t, "b", calls[1].Role)
	assert.Equal(t, "c", calls[2].Role)
}

func TestRequiredAgentFailureFailsRun(t *testing.T) {
	mock := invoke.NewMock()
	mock.Script("critical", tier.Cheap, invoke.MockStep{CostUSD: 0.01})
	mock.Script("optional", tier.Cheap, invoke.MockStep{Output: "done", CostUSD: 0.01})

	exec := New(mock, Options{Workers: 1})
	results, err := exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "critical", Strategy: tier.CheapOnly, Required: true},
		{Role: "optional", Strategy: tier.CheapOnly},
	})
	require.NoError(t, err)

	run := workflow.MetaWorkflowResult{Agents: results}
	run.Finalize()
	assert.False(t, run.Success)
	assert.InDelta(t, 0.02, run.TotalCostUSD, 1e-9)
}

func TestOptionalAgentFailureKeepsRunSuccessful(t *testing.T) {
	mock := invoke.NewMock()
	mock.Script("critical", tier.Cheap, invoke.MockStep{Output: "done", CostUSD: 0.01})
	mock.Script("optional", tier.Cheap, invoke.MockStep{CostUSD: 0.01})

	exec := New(mock, Options{Workers: 1})
	results, err := exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "critical", Strategy: tier.CheapOnly, Required: true},
		{Role: "optional", Strategy: tier.CheapOnly},
	})
	require.NoError(t, err)

	run := workflow.MetaWorkflowResult{Agents: results}
	run.Finalize()
	assert.True(t, run.Success)
}

func TestExecuteRejectsBadInput(t *testing.T) {
	exec := New(invoke.NewMock(), Options{})

	_, err := exec.Execute(context.Background(), nil)
	assert.Error(t, err)

	_, err = exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "a", Strategy: tier.CheapOnly},
		{Role: "a", Strategy: tier.CheapOnly},
	})
	assert.Error(t, err)

	_, err = exec.Execute(context.Background(), []workflow.AgentSpec{
		{Role: "a", Strategy: tier.CheapOnly, DependsOn: "ghost"},
	})
	assert.Error(t, err)
}

func TestCancelledContextExhaustsPendingAgents(t *testing.T) {
	mock := invoke.NewMock()
	mock.Script("slow", tier.Cheap, invoke.MockStep{
		Output: "done",
		Delay:  200 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	exec := New(mock, Options{Workers: 1})
	results, err := exec.Execute(ctx, []workflow.AgentSpec{
		{Role: "slow", Strategy: tier.CheapOnly},
		{Role: "pending", Strategy: tier.CheapOnly},
	})
	require.NoError(t, err)

	assert.False(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Empty(t, mock.CallsFor("pending"))
}
