// Package workflow holds the data types that flow through a meta-workflow
// run: resolved agent specs, per-agent execution results, and the run record
// that gets persisted.
package workflow

import (
	"time"

	"github.com/google/uuid"

	"metaflow/pkg/form"
	"metaflow/pkg/tier"
)

// AgentSpec is a fully resolved, immutable description of one agent for one
// run. Specs are produced by the composer and owned by the executor until the
// run completes.
type AgentSpec struct {
	Role         string                 `json:"role"`
	Strategy     tier.Strategy          `json:"strategy"`
	SystemPrompt string                 `json:"system_prompt"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Required     bool                   `json:"required,omitempty"`
	DependsOn    string                 `json:"depends_on,omitempty"`
	// MinOutputChars is the acceptance signal: an attempt only counts as a
	// success when the output reaches this length.
	MinOutputChars int `json:"min_output_chars,omitempty"`
	// Config carries the form answers relevant to this agent.
	Config map[string]form.Answer `json:"config,omitempty"`
}

// StartTier is where the agent's strategy begins on the ladder.
func (s *AgentSpec) StartTier() tier.Tier {
	return s.Strategy.Start()
}

// Ceiling is the highest tier the agent's strategy may escalate to.
func (s *AgentSpec) Ceiling() tier.Tier {
	ladder := s.Strategy.Ladder()
	return ladder[len(ladder)-1]
}

// Failure reasons recorded on results. Attempt-level reasons additionally
// carry the classified invocation error kind.
const (
	ReasonExhausted       = "tier ladder exhausted"
	ReasonBudgetExceeded  = "budget exceeded"
	ReasonTimeout         = "attempt timed out"
	ReasonBelowAcceptance = "output below acceptance threshold"
)

// AttemptRecord captures one tier attempt of one agent.
type AttemptRecord struct {
	Tier          tier.Tier `json:"tier"`
	Model         string    `json:"model,omitempty"`
	Success       bool      `json:"success"`
	CostUSD       float64   `json:"cost_usd"`
	DurationMS    int64     `json:"duration_ms"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// AgentExecutionResult is the outcome of running one AgentSpec, appended to
// the run record once the agent reaches a terminal state and never mutated
// afterwards.
type AgentExecutionResult struct {
	Role          string          `json:"role"`
	Required      bool            `json:"required,omitempty"`
	FinalTier     tier.Tier       `json:"final_tier,omitempty"`
	Success       bool            `json:"success"`
	CostUSD       float64         `json:"cost_usd"`
	DurationMS    int64           `json:"duration_ms"`
	Attempts      []AttemptRecord `json:"attempts,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// MetaWorkflowResult is the full record of one run.
type MetaWorkflowResult struct {
	RunID        string                 `json:"run_id"`
	TemplateID   string                 `json:"template_id"`
	Answers      map[string]form.Answer `json:"answers"`
	Agents       []AgentExecutionResult `json:"agents"`
	TotalCostUSD float64                `json:"total_cost_usd"`
	DurationMS   int64                  `json:"duration_ms"`
	Success      bool                   `json:"success"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  time.Time              `json:"completed_at"`
}

// NewRunID mints a unique run identifier.
func NewRunID() string {
	return "run-" + uuid.NewString()
}

// Finalize fills the aggregate fields from the per-agent results. A run
// succeeds when every required agent succeeded.
func (r *MetaWorkflowResult) Finalize() {
	total := 0.0
	success := true
	for i := range r.Agents {
		total += r.Agents[i].CostUSD
		if r.Agents[i].Required && !r.Agents[i].Success {
			success = false
		}
	}
	r.TotalCostUSD = total
	r.Success = success
	if !r.CompletedAt.IsZero() && !r.StartedAt.IsZero() {
		r.DurationMS = r.CompletedAt.Sub(r.StartedAt).Milliseconds()
	}
}
