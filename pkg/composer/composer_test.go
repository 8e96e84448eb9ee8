package composer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaflow/pkg/config"
	"metaflow/pkg/form"
	"metaflow/pkg/template"
	"metaflow/pkg/tier"
	"metaflow/pkg/workflow"
)

func newComposer(t *testing.T) *Composer {
	t.Helper()
	c, err := New(config.DefaultConfig())
	require.NoError(t, err)
	return c
}

func scenarioTemplate() *template.Template {
	defTests := form.BoolAnswer(true)
	defScan := form.ScalarAnswer("basic")
	return &template.Template{
		ID: "scenario",
		Questions: []form.Question{
			{ID: "run_tests", Prompt: "Run tests?", Type: form.QuestionBool, Default: &defTests},
			{ID: "security_scan", Prompt: "Scan depth?", Type: form.QuestionChoice,
				Options: []string{"none", "basic", "full"}, Default: &defScan},
		},
		Rules: []template.AgentRule{
			{
				Role:         "test_runner",
				When:         &template.Condition{Question: "run_tests", Kind: template.CondEquals, Equals: "true"},
				Strategy:     tier.Progressive,
				SystemPrompt: "Run the tests.",
				ConfigKeys:   []string{"run_tests"},
			},
			{
				Role:         "security_auditor",
				When:         &template.Condition{Question: "security_scan", Kind: template.CondOneOf, OneOf: []string{"basic", "full"}},
				Strategy:     tier.CapableFirst,
				SystemPrompt: "Audit the change.",
			},
		},
	}
}

func TestCreateAgentsScenario(t *testing.T) {
	c := newComposer(t)

	answers := map[string]form.Answer{
		"run_tests":     form.BoolAnswer(true),
		"security_scan": form.ScalarAnswer("full"),
	}
	agents, err := c.CreateAgents(scenarioTemplate(), answers)
	require.NoError(t, err)

	require.Len(t, agents, 2)
	assert.Equal(t, "test_runner", agents[0].Role)
	assert.Equal(t, tier.Cheap, agents[0].StartTier())
	assert.Equal(t, "security_auditor", agents[1].Role)
	assert.Equal(t, tier.Capable, agents[1].StartTier())

	// Relevant answers are merged into the agent's config.
	assert.True(t, agents[0].Config["run_tests"].Equal(form.BoolAnswer(true)))
}

func TestCreateAgentsUntriggered(t *testing.T) {
	c := newComposer(t)

	answers := map[string]form.Answer{
		"run_tests":     form.BoolAnswer(false),
		"security_scan": form.ScalarAnswer("none"),
	}
	agents, err := c.CreateAgents(scenarioTemplate(), answers)
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestCreateAgentsUnconditionalRule(t *testing.T) {
	c := newComposer(t)

	tmpl := &template.Template{
		ID: "always",
		Rules: []template.AgentRule{
			{Role: "worker", Strategy: tier.CheapOnly, SystemPrompt: "Work."},
		},
	}
	agents, err := c.CreateAgents(tmpl, nil)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "worker", agents[0].Role)
}

func TestCreateAgentsMissingAnswer(t *testing.T) {
	c := newComposer(t)

	_, err := c.CreateAgents(scenarioTemplate(), map[string]form.Answer{
		"run_tests": form.BoolAnswer(true),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security_scan")
}

func TestMatchesTable(t *testing.T) {
	tests := []struct {
		name   string
		cond   template.Condition
		answer form.Answer
		want   bool
	}{
		// scalar answer / equals condition: equality
		{"scalar equals match", template.Condition{Kind: template.CondEquals, Equals: "full"}, form.ScalarAnswer("full"), true},
		{"scalar equals miss", template.Condition{Kind: template.CondEquals, Equals: "full"}, form.ScalarAnswer("basic"), false},
		// scalar answer / one_of condition: membership
		{"scalar one_of match", template.Condition{Kind: template.CondOneOf, OneOf: []string{"basic", "full"}}, form.ScalarAnswer("basic"), true},
		{"scalar one_of miss", template.Condition{Kind: template.CondOneOf, OneOf: []string{"basic", "full"}}, form.ScalarAnswer("none"), false},
		// list answer / equals condition: membership of the condition value
		{"list equals match", template.Condition{Kind: template.CondEquals, Equals: "go"}, form.ListAnswer("go", "rust"), true},
		{"list equals miss", template.Condition{Kind: template.CondEquals, Equals: "python"}, form.ListAnswer("go", "rust"), false},
		// list answer / one_of condition: non-empty intersection
		{"list one_of match", template.Condition{Kind: template.CondOneOf, OneOf: []string{"python", "rust"}}, form.ListAnswer("go", "rust"), true},
		{"list one_of miss", template.Condition{Kind: template.CondOneOf, OneOf: []string{"python", "java"}}, form.ListAnswer("go", "rust"), false},
		{"empty list answer", template.Condition{Kind: template.CondOneOf, OneOf: []string{"go"}}, form.ListAnswer(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(&tt.cond, tt.answer))
		})
	}
}

func TestValidateDependencies(t *testing.T) {
	agents := []workflow.AgentSpec{
		{Role: "a", Strategy: tier.CheapOnly},
		{Role: "b", Strategy: tier.CheapOnly, DependsOn: "a"},
		{Role: "c", Strategy: tier.CheapOnly, DependsOn: "ghost"},
	}

	errs := ValidateDependencies(agents)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), `"ghost"`)

	assert.Empty(t, ValidateDependencies(agents[:2]))
}

func TestEstimateCosts(t *testing.T) {
	c := newComposer(t)

	agents := []workflow.AgentSpec{
		{Role: "test_runner", Strategy: tier.Progressive, SystemPrompt: "Run the full test suite and report."},
		{Role: "security_auditor", Strategy: tier.CapableFirst, SystemPrompt: "Audit."},
	}

	est, err := c.EstimateCosts(agents)
	require.NoError(t, err)
	require.Len(t, est.Agents, 2)

	for _, a := range est.Agents {
		assert.Positive(t, a.PromptTokens, a.Role)
		assert.Positive(t, a.OptimisticUSD, a.Role)
		// Worst case covers every ladder tier, never below the optimistic case.
		assert.GreaterOrEqual(t, a.WorstCaseUSD, a.OptimisticUSD, a.Role)
	}

	assert.InDelta(t, est.Agents[0].OptimisticUSD+est.Agents[1].OptimisticUSD, est.OptimisticUSD, 1e-9)
	assert.Greater(t, est.WorstCaseUSD, est.OptimisticUSD)
}

func TestEstimateCostsEmpty(t *testing.T) {
	c := newComposer(t)
	est, err := c.EstimateCosts(nil)
	require.NoError(t, err)
	assert.Zero(t, est.OptimisticUSD)
	assert.Empty(t, est.Agents)
}
