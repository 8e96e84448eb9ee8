// Package executor runs a composed set of agent specs through their tier
// ladders. Each agent owns an independent lifecycle: it starts at its
// strategy's cheapest tier and escalates one rung at a time until it succeeds,
// exhausts the ladder, or the shared budget runs out. Failed attempts still
// cost money, and that cost is always recorded.
package executor

import (
	"context"
	"fmt"
	"time"

	"metaflow/pkg/invoke"
	"metaflow/pkg/invoke/llmerrors"
	"metaflow/pkg/limiter"
	"metaflow/pkg/logx"
	"metaflow/pkg/tier"
	"metaflow/pkg/workflow"
)

const defaultWorkers = 4

// Options tunes one executor instance.
type Options struct {
	// Workers caps how many agents run concurrently. Zero means the default.
	Workers int
	// BudgetCeilingUSD is the spend ceiling for each run. Zero means
	// unlimited.
	BudgetCeilingUSD float64
}

// Executor drives agent specs to terminal states.
type Executor struct {
	invoker invoke.Invoker
	workers int
	ceiling float64
	logger  *logx.Logger
}

// New builds an executor around an invoker.
func New(invoker invoke.Invoker, opts Options) *Executor {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Executor{
		invoker: invoker,
		workers: workers,
		ceiling: opts.BudgetCeilingUSD,
		logger:  logx.NewLogger("executor"),
	}
}

type agentDone struct {
	index  int
	result workflow.AgentExecutionResult
}

// Execute runs all specs to terminal states and returns one result per spec,
// in spec order. Agents with a depends_on wait for their predecessor to reach
// a terminal state, successful or not. Execute returns an error only for
// malformed input; per-agent failures are reported in the results.
func (e *Executor) Execute(ctx context.Context, specs []workflow.AgentSpec) ([]workflow.AgentExecutionResult, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("execute: no agent specs")
	}

	index := make(map[string]int, len(specs))
	for i := range specs {
		if _, dup := index[specs[i].Role]; dup {
			return nil, fmt.Errorf("execute: duplicate agent role %q", specs[i].Role)
		}
		index[specs[i].Role] = i
	}
	for i := range specs {
		if !specs[i].Strategy.Valid() {
			return nil, fmt.Errorf("execute: agent %q has unknown strategy %q", specs[i].Role, specs[i].Strategy)
		}
		if dep := specs[i].DependsOn; dep != "" {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("execute: agent %q depends on unknown role %q", specs[i].Role, dep)
			}
		}
	}

	budget := limiter.NewBudget(e.ceiling)
	machines := make([]*stateMachine, len(specs))
	for i := range specs {
		machines[i] = newStateMachine(specs[i].Role)
	}

	results := make([]workflow.AgentExecutionResult, len(specs))
	launched := make([]bool, len(specs))
	done := make(chan agentDone, len(specs))
	running := 0
	terminal := 0
	cancelled := false

	// depReady reports whether spec i may start: its predecessor, if any,
	// must have reached a terminal state. The predecessor's success is not
	// required, only its completion.
	depReady := func(i int) bool {
		dep := specs[i].DependsOn
		if dep == "" {
			return true
		}
		return machines[index[dep]].state().Terminal()
	}

	// Scan in declaration order so ready agents launch first-declared first.
	tryLaunch := func() bool {
		any := false
		for i := range specs {
			if running >= e.workers {
				break
			}
			if launched[i] || machines[i].state().Terminal() || !depReady(i) {
				continue
			}
			launched[i] = true
			running++
			any = true
			go func(i int) {
				done <- agentDone{index: i, result: e.runAgent(ctx, &specs[i], machines[i], budget)}
			}(i)
		}
		return any
	}

	for terminal < len(specs) {
		if !cancelled {
			tryLaunch()
		}
		if running == 0 {
			// Nothing running and nothing launchable: the remaining agents
			// are stuck behind a cancelled run or an unreachable dependency.
			for i := range specs {
				if machines[i].state().Terminal() || launched[i] {
					continue
				}
				reason := "dependency never completed"
				switch {
				case cancelled:
					reason = workflow.ReasonTimeout
					if ctx.Err() == context.Canceled {
						reason = "run cancelled"
					}
				case budget.Check() != nil:
					reason = workflow.ReasonBudgetExceeded
				}
				if err := machines[i].transitionTo(StateExhausted, specs[i].StartTier()); err != nil {
					e.logger.Warn("agent %s: %v", specs[i].Role, err)
				}
				results[i] = workflow.AgentExecutionResult{
					Role:          specs[i].Role,
					Required:      specs[i].Required,
					FailureReason: reason,
				}
				terminal++
			}
			break
		}

		d := <-done
		results[d.index] = d.result
		running--
		terminal++

		if ctx.Err() != nil {
			cancelled = true
		}
	}

	e.logger.Info("run complete: %d agents, $%.4f spent", len(specs), budget.SpentUSD())
	return results, nil
}

// runAgent walks one agent up its tier ladder until it reaches a terminal
// state. Every attempt's cost is charged against the budget whether or not
// the attempt succeeded.
func (e *Executor) runAgent(ctx context.Context, spec *workflow.AgentSpec, sm *stateMachine, budget *limiter.Budget) workflow.AgentExecutionResult {
	result := workflow.AgentExecutionResult{
		Role:     spec.Role,
		Required: spec.Required,
	}
	start := time.Now()
	defer func() {
		result.DurationMS = time.Since(start).Milliseconds()
	}()

	exhaust := func(t tier.Tier, reason string) workflow.AgentExecutionResult {
		if err := sm.transitionTo(StateExhausted, t); err != nil {
			e.logger.Warn("agent %s: %v", spec.Role, err)
		}
		result.FailureReason = reason
		return result
	}

	ladder := spec.Strategy.Ladder()
	for _, t := range ladder {
		if err := budget.Check(); err != nil {
			e.logger.Warn("agent %s: skipping %s attempt: %v", spec.Role, t, err)
			return exhaust(t, workflow.ReasonBudgetExceeded)
		}

		if err := sm.transitionTo(StateRunning, t); err != nil {
			e.logger.Warn("agent %s: %v", spec.Role, err)
		}
		e.logger.Info("agent %s: attempting tier %s", spec.Role, t)

		attemptStart := time.Now()
		receipt, invokeErr := e.invoker.Invoke(ctx, spec, t)

		attempt := workflow.AttemptRecord{
			Tier:       t,
			DurationMS: time.Since(attemptStart).Milliseconds(),
		}
		if receipt != nil {
			attempt.Model = receipt.Model
			attempt.CostUSD = receipt.CostUSD
			budget.Charge(receipt.CostUSD)
			result.CostUSD += receipt.CostUSD
		}

		accepted := invokeErr == nil && receipt != nil && receipt.Success &&
			len(receipt.Output) >= spec.MinOutputChars
		if accepted {
			attempt.Success = true
			result.Attempts = append(result.Attempts, attempt)
			if err := sm.transitionTo(StateSucceeded, t); err != nil {
				e.logger.Warn("agent %s: %v", spec.Role, err)
			}
			result.Success = true
			result.FinalTier = t
			e.logger.Info("agent %s: succeeded at tier %s ($%.4f)", spec.Role, t, result.CostUSD)
			return result
		}

		switch {
		case invokeErr != nil:
			attempt.FailureReason = llmerrors.TypeOf(invokeErr).String()
		case receipt != nil && receipt.FailureReason != "":
			attempt.FailureReason = receipt.FailureReason
		default:
			attempt.FailureReason = workflow.ReasonBelowAcceptance
		}
		result.Attempts = append(result.Attempts, attempt)
		result.FinalTier = t
		e.logger.Warn("agent %s: tier %s failed: %s", spec.Role, t, attempt.FailureReason)

		// A non-retryable error will fail identically at every tier, so
		// escalating would only burn budget.
		if invokeErr != nil && !llmerrors.Retryable(invokeErr) {
			return exhaust(t, attempt.FailureReason)
		}
		if ctx.Err() != nil {
			reason := workflow.ReasonTimeout
			if ctx.Err() == context.Canceled {
				reason = "run cancelled"
			}
			return exhaust(t, reason)
		}

		next, ok := spec.Strategy.Next(t)
		if !ok {
			return exhaust(t, workflow.ReasonExhausted)
		}
		if err := sm.transitionTo(StateEscalating, next); err != nil {
			e.logger.Warn("agent %s: %v", spec.Role, err)
		}
	}

	// Unreachable while ladders are non-empty; kept as a guard.
	return exhaust(spec.StartTier(), workflow.ReasonExhausted)
}
