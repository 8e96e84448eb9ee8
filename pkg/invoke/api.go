// Package invoke defines the agent invocation boundary: the Invoker contract
// the executor calls once per tier attempt, middleware composition around it,
// and production clients for the supported model providers.
package invoke

import (
	"context"

	"metaflow/pkg/tier"
	"metaflow/pkg/workflow"
)

// Receipt is the outcome of one invocation attempt. Success means the
// provider returned usable output; whether that output is acceptable is the
// executor's call.
type Receipt struct {
	Success       bool
	Output        string
	Model         string
	CostUSD       float64
	TokensIn      int
	TokensOut     int
	FailureReason string
}

// Invoker executes one agent attempt at one tier.
type Invoker interface {
	Invoke(ctx context.Context, spec *workflow.AgentSpec, t tier.Tier) (*Receipt, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, spec *workflow.AgentSpec, t tier.Tier) (*Receipt, error)

func (f InvokerFunc) Invoke(ctx context.Context, spec *workflow.AgentSpec, t tier.Tier) (*Receipt, error) {
	return f(ctx, spec, t)
}

// Middleware wraps an Invoker with additional behavior. Middlewares are
// composed with Chain to form a processing pipeline.
type Middleware func(next Invoker) Invoker

// Chain composes middlewares around a base Invoker. Middlewares are applied
// in order, with earlier middlewares being outermost:
//
//	Chain(base, mw1, mw2) creates the call stack mw1 -> mw2 -> base
//
// so mw1 runs first and can modify the request or short-circuit before it
// reaches mw2 and the base.
func Chain(base Invoker, middlewares ...Middleware) Invoker {
	// Apply in reverse order so the first middleware in the slice becomes the
	// outermost wrapper.
	inv := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		inv = middlewares[i](inv)
	}
	return inv
}
