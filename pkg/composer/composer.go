// Package composer turns a template plus collected answers into the concrete
// list of agents to run, with cost estimates and dependency validation.
package composer

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"metaflow/pkg/config"
	"metaflow/pkg/form"
	"metaflow/pkg/logx"
	"metaflow/pkg/template"
	"metaflow/pkg/tier"
	"metaflow/pkg/workflow"
)

// assumedOutputTokens is the planning assumption for a single attempt's
// output size, used only for estimates.
const assumedOutputTokens = 1024

// Composer evaluates composition rules and prices the resulting agents.
type Composer struct {
	cfg    *config.Config
	codec  tokenizer.Codec
	logger *logx.Logger
}

func New(cfg *config.Config) (*Composer, error) {
	// Claude and open models tokenize similarly enough for estimation, so the
	// GPT-4 encoding is used across the board.
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, logx.Wrap(err, "create tokenizer codec")
	}
	return &Composer{
		cfg:    cfg,
		codec:  codec,
		logger: logx.NewLogger("composer"),
	}, nil
}

// CreateAgents evaluates every rule against the answers and emits one
// AgentSpec per triggered rule, in rule declaration order. Rules without a
// condition always trigger.
func (c *Composer) CreateAgents(tmpl *template.Template, answers map[string]form.Answer) ([]workflow.AgentSpec, error) {
	specs := make([]workflow.AgentSpec, 0, len(tmpl.Rules))

	for i := range tmpl.Rules {
		rule := &tmpl.Rules[i]

		if rule.When != nil {
			answer, ok := answers[rule.When.Question]
			if !ok {
				return nil, fmt.Errorf("rule %q: no answer for question %q", rule.Role, rule.When.Question)
			}
			if !Matches(rule.When, answer) {
				c.logger.Debug("rule %q not triggered", rule.Role)
				continue
			}
		}

		cfg := make(map[string]form.Answer, len(rule.ConfigKeys))
		for _, key := range rule.ConfigKeys {
			if a, ok := answers[key]; ok {
				cfg[key] = a
			}
		}

		specs = append(specs, workflow.AgentSpec{
			Role:           rule.Role,
			Strategy:       rule.Strategy,
			SystemPrompt:   rule.SystemPrompt,
			Capabilities:   append([]string(nil), rule.Capabilities...),
			Required:       rule.Required,
			DependsOn:      rule.DependsOn,
			MinOutputChars: rule.MinOutputChars,
			Config:         cfg,
		})
	}

	c.logger.Info("composed %d agent(s) from template %s", len(specs), tmpl.ID)
	return specs, nil
}

// ValidateDependencies reports every agent whose declared predecessor is
// absent from the produced list. Missing predecessors are reported, never
// auto-fixed.
func ValidateDependencies(agents []workflow.AgentSpec) []error {
	present := make(map[string]bool, len(agents))
	for i := range agents {
		present[agents[i].Role] = true
	}

	var errs []error
	for i := range agents {
		a := &agents[i]
		if a.DependsOn != "" && !present[a.DependsOn] {
			errs = append(errs, fmt.Errorf("agent %q depends on %q, which was not created by any triggered rule",
				a.Role, a.DependsOn))
		}
	}
	return errs
}

// AgentCostEstimate prices one agent's run before execution.
type AgentCostEstimate struct {
	Role         string
	StartTier    tier.Tier
	PromptTokens int
	// OptimisticUSD assumes one successful attempt at the start tier.
	OptimisticUSD float64
	// WorstCaseUSD assumes one failed attempt at every tier on the ladder.
	WorstCaseUSD float64
}

// CostEstimate aggregates per-agent estimates.
type CostEstimate struct {
	Agents        []AgentCostEstimate
	OptimisticUSD float64
	WorstCaseUSD  float64
}

// EstimateCosts prices each agent from the configured per-tier models and the
// static pricing registry, with token counts from the agent's system prompt.
func (c *Composer) EstimateCosts(agents []workflow.AgentSpec) (*CostEstimate, error) {
	est := &CostEstimate{Agents: make([]AgentCostEstimate, 0, len(agents))}

	for i := range agents {
		a := &agents[i]
		promptTokens := c.countTokens(a.SystemPrompt)

		agentEst := AgentCostEstimate{
			Role:         a.Role,
			StartTier:    a.StartTier(),
			PromptTokens: promptTokens,
		}

		for _, t := range a.Strategy.Ladder() {
			attemptCost, err := c.attemptCost(t, promptTokens)
			if err != nil {
				return nil, fmt.Errorf("estimate agent %q: %w", a.Role, err)
			}
			if t == a.StartTier() {
				agentEst.OptimisticUSD = attemptCost
			}
			agentEst.WorstCaseUSD += attemptCost
		}

		est.Agents = append(est.Agents, agentEst)
		est.OptimisticUSD += agentEst.OptimisticUSD
		est.WorstCaseUSD += agentEst.WorstCaseUSD
	}

	return est, nil
}

// attemptCost prices a single attempt at tier t.
func (c *Composer) attemptCost(t tier.Tier, promptTokens int) (float64, error) {
	model, err := c.cfg.ModelForTier(t)
	if err != nil {
		return 0, err
	}
	info, _ := config.GetModelInfo(model)
	in := float64(promptTokens) / 1_000_000 * info.InputCPM
	out := float64(assumedOutputTokens) / 1_000_000 * info.OutputCPM
	return in + out, nil
}

func (c *Composer) countTokens(text string) int {
	if c.codec != nil {
		if n, err := c.codec.Count(text); err == nil {
			return n
		}
	}
	// Fallback to character-based estimation (4 chars ≈ 1 token).
	return len(text) / 4
}
