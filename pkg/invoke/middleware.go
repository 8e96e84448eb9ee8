package invoke

import (
	"context"
	"time"

	"metaflow/pkg/invoke/llmerrors"
	"metaflow/pkg/tier"
	"metaflow/pkg/workflow"
)

// WithTimeout bounds each attempt. A deadline hit surfaces as a classified
// transient error so the executor treats it as a failed predicate.
func WithTimeout(timeout time.Duration) Middleware {
	return func(next Invoker) Invoker {
		return InvokerFunc(func(ctx context.Context, spec *workflow.AgentSpec, t tier.Tier) (*Receipt, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			receipt, err := next.Invoke(attemptCtx, spec, t)
			if err != nil && attemptCtx.Err() == context.DeadlineExceeded {
				err = llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err,
					"attempt exceeded "+timeout.String())
			}
			return receipt, err
		})
	}
}

// AttemptObserver receives one observation per invocation attempt.
// pkg/metrics provides the Prometheus implementation.
type AttemptObserver interface {
	ObserveAttempt(role string, t tier.Tier, model string, success bool, costUSD float64, duration time.Duration)
}

// WithMetrics reports every attempt to the observer, including failed ones.
func WithMetrics(observer AttemptObserver) Middleware {
	return func(next Invoker) Invoker {
		return InvokerFunc(func(ctx context.Context, spec *workflow.AgentSpec, t tier.Tier) (*Receipt, error) {
			start := time.Now()
			receipt, err := next.Invoke(ctx, spec, t)

			model := ""
			cost := 0.0
			success := false
			if receipt != nil {
				model = receipt.Model
				cost = receipt.CostUSD
				success = err == nil && receipt.Success
			}
			observer.ObserveAttempt(spec.Role, t, model, success, cost, time.Since(start))

			return receipt, err
		})
	}
}
