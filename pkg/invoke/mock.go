package invoke

import (
	"context"
	"strings"
	"sync"
	"time"

	"metaflow/pkg/tier"
	"metaflow/pkg/workflow"
)

// MockStep scripts one attempt outcome for the mock invoker.
type MockStep struct {
	Output  string
	CostUSD float64
	Err     error
	Delay   time.Duration // simulated attempt latency
}

// MockCall records one invocation the mock received.
type MockCall struct {
	Role string
	Tier tier.Tier
}

// Mock is a scripted Invoker for tests. Steps are consumed in order per
// (role, tier); when a script runs dry the default step answers.
type Mock struct {
	mu       sync.Mutex
	scripts  map[string][]MockStep
	calls    []MockCall
	fallback MockStep
}

func NewMock() *Mock {
	return &Mock{
		scripts: make(map[string][]MockStep),
		fallback: MockStep{
			Output:  strings.Repeat("mock output. ", 20),
			CostUSD: 0.001,
		},
	}
}

func scriptKey(role string, t tier.Tier) string {
	return role + "@" + t.String()
}

// Script queues scripted outcomes for attempts of role at tier t.
func (m *Mock) Script(role string, t tier.Tier, steps ...MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scriptKey(role, t)
	m.scripts[key] = append(m.scripts[key], steps...)
}

// SetFallback replaces the default outcome used when no script matches.
func (m *Mock) SetFallback(step MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = step
}

// Invoke implements Invoker.
func (m *Mock) Invoke(ctx context.Context, spec *workflow.AgentSpec, t tier.Tier) (*Receipt, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Role: spec.Role, Tier: t})

	key := scriptKey(spec.Role, t)
	step := m.fallback
	if queue := m.scripts[key]; len(queue) > 0 {
		step = queue[0]
		m.scripts[key] = queue[1:]
	}
	m.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if step.Err != nil {
		return &Receipt{Model: "mock", CostUSD: step.CostUSD, FailureReason: step.Err.Error()}, step.Err
	}

	return &Receipt{
		Success:   step.Output != "",
		Output:    step.Output,
		Model:     "mock",
		CostUSD:   step.CostUSD,
		TokensIn:  estimateTokens(spec.SystemPrompt),
		TokensOut: estimateTokens(step.Output),
	}, nil
}

// Calls returns every invocation the mock has seen, in order.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor counts attempts for one role, optionally keyed by tier.
func (m *Mock) CallsFor(role string) []tier.Tier {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tiers []tier.Tier
	for _, c := range m.calls {
		if c.Role == role {
			tiers = append(tiers, c.Tier)
		}
	}
	return tiers
}
