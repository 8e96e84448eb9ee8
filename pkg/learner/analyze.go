package learner

import (
	"fmt"
	"sort"
	"time"

	"metaflow/pkg/workflow"
)

// Analyze mines the run history for patterns, grouped by template. The
// output is deterministic for a given history: insights are ordered by
// template, kind, role, and tier.
func Analyze(history []workflow.MetaWorkflowResult) []PatternInsight {
	byTemplate := make(map[string][]workflow.MetaWorkflowResult)
	for i := range history {
		id := history[i].TemplateID
		byTemplate[id] = append(byTemplate[id], history[i])
	}

	templates := make([]string, 0, len(byTemplate))
	for id := range byTemplate {
		templates = append(templates, id)
	}
	sort.Strings(templates)

	now := time.Now().UTC()
	var insights []PatternInsight
	for _, id := range templates {
		runs := byTemplate[id]
		insights = append(insights, agentCountInsight(id, runs, now))
		insights = append(insights, tierPerformanceInsights(id, runs, now)...)
		insights = append(insights, costInsight(id, runs, now))
		insights = append(insights, failureInsights(id, runs, now)...)
	}
	return insights
}

func agentCountInsight(templateID string, runs []workflow.MetaWorkflowResult, now time.Time) PatternInsight {
	total := 0
	for i := range runs {
		total += len(runs[i].Agents)
	}
	mean := float64(total) / float64(len(runs))
	return PatternInsight{
		ID:          fmt.Sprintf("%s/agent_count", templateID),
		TemplateID:  templateID,
		Kind:        KindAgentCount,
		Summary:     fmt.Sprintf("template %s composes %.1f agents per run on average", templateID, mean),
		Metrics:     map[string]float64{"mean_agents": mean},
		SampleSize:  len(runs),
		Confidence:  confidence(len(runs)),
		GeneratedAt: now,
	}
}

func tierPerformanceInsights(templateID string, runs []workflow.MetaWorkflowResult, now time.Time) []PatternInsight {
	type key struct{ role, tier string }
	type tally struct{ attempts, successes int }

	tallies := make(map[key]*tally)
	for i := range runs {
		for j := range runs[i].Agents {
			agent := &runs[i].Agents[j]
			for _, attempt := range agent.Attempts {
				k := key{role: agent.Role, tier: string(attempt.Tier)}
				t := tallies[k]
				if t == nil {
					t = &tally{}
					tallies[k] = t
				}
				t.attempts++
				if attempt.Success {
					t.successes++
				}
			}
		}
	}

	keys := make([]key, 0, len(tallies))
	for k := range tallies {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].role != keys[j].role {
			return keys[i].role < keys[j].role
		}
		return keys[i].tier < keys[j].tier
	})

	insights := make([]PatternInsight, 0, len(keys))
	for _, k := range keys {
		t := tallies[k]
		rate := float64(t.successes) / float64(t.attempts)
		insights = append(insights, PatternInsight{
			ID:         fmt.Sprintf("%s/tier_performance/%s/%s", templateID, k.role, k.tier),
			TemplateID: templateID,
			Kind:       KindTierPerformance,
			Role:       k.role,
			Tier:       k.tier,
			Summary: fmt.Sprintf("role %s succeeds %.0f%% of the time at tier %s (%d attempts)",
				k.role, rate*100, k.tier, t.attempts),
			Metrics: map[string]float64{
				"success_rate": rate,
				"attempts":     float64(t.attempts),
			},
			SampleSize:  t.attempts,
			Confidence:  confidence(t.attempts),
			GeneratedAt: now,
		})
	}
	return insights
}

func costInsight(templateID string, runs []workflow.MetaWorkflowResult, now time.Time) PatternInsight {
	costs := make([]float64, len(runs))
	total := 0.0
	for i := range runs {
		costs[i] = runs[i].TotalCostUSD
		total += costs[i]
	}
	sort.Float64s(costs)

	mean := total / float64(len(runs))
	p50 := percentile(costs, 50)
	p90 := percentile(costs, 90)
	return PatternInsight{
		ID:         fmt.Sprintf("%s/cost_analysis", templateID),
		TemplateID: templateID,
		Kind:       KindCostAnalysis,
		Summary: fmt.Sprintf("template %s costs $%.4f per run on average (p50 $%.4f, p90 $%.4f)",
			templateID, mean, p50, p90),
		Metrics: map[string]float64{
			"mean_cost_usd": mean,
			"p50_cost_usd":  p50,
			"p90_cost_usd":  p90,
		},
		SampleSize:  len(runs),
		Confidence:  confidence(len(runs)),
		GeneratedAt: now,
	}
}

func failureInsights(templateID string, runs []workflow.MetaWorkflowResult, now time.Time) []PatternInsight {
	reasonsByRole := make(map[string]map[string]int)
	failuresByRole := make(map[string]int)
	for i := range runs {
		for j := range runs[i].Agents {
			agent := &runs[i].Agents[j]
			for _, attempt := range agent.Attempts {
				if attempt.Success || attempt.FailureReason == "" {
					continue
				}
				if reasonsByRole[agent.Role] == nil {
					reasonsByRole[agent.Role] = make(map[string]int)
				}
				reasonsByRole[agent.Role][attempt.FailureReason]++
				failuresByRole[agent.Role]++
			}
		}
	}

	roles := make([]string, 0, len(reasonsByRole))
	for role := range reasonsByRole {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	insights := make([]PatternInsight, 0, len(roles))
	for _, role := range roles {
		reasons := reasonsByRole[role]
		topReason := ""
		topCount := 0
		metrics := make(map[string]float64, len(reasons))
		for reason, count := range reasons {
			metrics[reason] = float64(count)
			if count > topCount || (count == topCount && reason < topReason) {
				topReason = reason
				topCount = count
			}
		}
		failures := failuresByRole[role]
		insights = append(insights, PatternInsight{
			ID:         fmt.Sprintf("%s/failure_analysis/%s", templateID, role),
			TemplateID: templateID,
			Kind:       KindFailureAnalysis,
			Role:       role,
			Summary: fmt.Sprintf("role %s most often fails with %q (%d of %d failed attempts)",
				role, topReason, topCount, failures),
			Metrics:     metrics,
			SampleSize:  failures,
			Confidence:  confidence(failures),
			GeneratedAt: now,
		})
	}
	return insights
}

// percentile computes the nearest-rank percentile of a sorted slice.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
