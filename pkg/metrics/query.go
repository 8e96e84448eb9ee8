package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// RoleMetrics aggregates attempt metrics for one agent role.
type RoleMetrics struct {
	Role           string  `json:"role"`
	Attempts       int64   `json:"attempts"`
	Successes      int64   `json:"successes"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	EscalationRate float64 `json:"escalation_rate"`
}

// QueryService reads recorded metrics back out of a Prometheus server.
type QueryService struct {
	queryAPI  v1.API
	namespace string
}

// NewQueryService connects to a Prometheus server.
func NewQueryService(prometheusURL, namespace string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("create Prometheus client: %w", err)
	}
	return &QueryService{
		queryAPI:  v1.NewAPI(client),
		namespace: namespace,
	}, nil
}

func (q *QueryService) scalar(ctx context.Context, promQL string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, promQL, time.Now())
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", promQL, err)
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// GetRoleMetrics aggregates attempts, successes, cost, and escalation rate
// for one role across all recorded runs.
func (q *QueryService) GetRoleMetrics(ctx context.Context, role string) (*RoleMetrics, error) {
	metrics := &RoleMetrics{Role: role}

	attempts, err := q.scalar(ctx, fmt.Sprintf(
		`sum(%s_agent_attempts_total{role=%q})`, q.namespace, role))
	if err != nil {
		return nil, err
	}
	metrics.Attempts = int64(attempts)

	successes, err := q.scalar(ctx, fmt.Sprintf(
		`sum(%s_agent_attempts_total{role=%q, status="success"})`, q.namespace, role))
	if err != nil {
		return nil, err
	}
	metrics.Successes = int64(successes)

	cost, err := q.scalar(ctx, fmt.Sprintf(
		`sum(%s_agent_attempt_cost_usd_total{role=%q})`, q.namespace, role))
	if err != nil {
		return nil, err
	}
	metrics.TotalCostUSD = cost

	escalations, err := q.scalar(ctx, fmt.Sprintf(
		`sum(%s_agent_escalations_total{role=%q})`, q.namespace, role))
	if err != nil {
		return nil, err
	}
	if metrics.Attempts > 0 {
		metrics.EscalationRate = escalations / attempts
	}
	return metrics, nil
}

// TierSuccessRate returns the fraction of one role's attempts that succeeded
// at a given tier.
func (q *QueryService) TierSuccessRate(ctx context.Context, role, tierName string) (float64, error) {
	total, err := q.scalar(ctx, fmt.Sprintf(
		`sum(%s_agent_attempts_total{role=%q, tier=%q})`, q.namespace, role, tierName))
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	successes, err := q.scalar(ctx, fmt.Sprintf(
		`sum(%s_agent_attempts_total{role=%q, tier=%q, status="success"})`, q.namespace, role, tierName))
	if err != nil {
		return 0, err
	}
	return successes / total, nil
}

// TemplateRunCounts returns completed run counts by outcome for a template.
func (q *QueryService) TemplateRunCounts(ctx context.Context, templateID string) (successes, failures int64, err error) {
	ok, err := q.scalar(ctx, fmt.Sprintf(
		`sum(%s_runs_total{template_id=%q, status="success"})`, q.namespace, templateID))
	if err != nil {
		return 0, 0, err
	}
	bad, err := q.scalar(ctx, fmt.Sprintf(
		`sum(%s_runs_total{template_id=%q, status="failure"})`, q.namespace, templateID))
	if err != nil {
		return 0, 0, err
	}
	return int64(ok), int64(bad), nil
}
