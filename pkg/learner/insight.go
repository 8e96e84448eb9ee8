// Package learner mines completed runs for recurring patterns: how many
// agents a template composes, which tiers succeed for which roles, what runs
// cost, and why attempts fail. Insights carry a confidence that grows with
// sample size and never exceeds 1.0.
package learner

import "time"

// InsightKind identifies the analysis that produced an insight.
type InsightKind string

const (
	KindAgentCount      InsightKind = "agent_count"
	KindTierPerformance InsightKind = "tier_performance"
	KindCostAnalysis    InsightKind = "cost_analysis"
	KindFailureAnalysis InsightKind = "failure_analysis"
)

// PatternInsight is one mined pattern. Metrics holds the kind-specific
// numbers; Summary is the human-readable rendering indexed for search.
type PatternInsight struct {
	ID          string             `json:"id"`
	TemplateID  string             `json:"template_id"`
	Kind        InsightKind        `json:"kind"`
	Role        string             `json:"role,omitempty"`
	Tier        string             `json:"tier,omitempty"`
	Summary     string             `json:"summary"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	SampleSize  int                `json:"sample_size"`
	Confidence  float64            `json:"confidence"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// fullConfidenceSamples is how many samples an insight needs before its
// confidence reaches 1.0.
const fullConfidenceSamples = 10

// confidence maps a sample count to [0, 1], saturating at
// fullConfidenceSamples.
func confidence(samples int) float64 {
	if samples <= 0 {
		return 0
	}
	c := float64(samples) / fullConfidenceSamples
	if c > 1 {
		return 1
	}
	return c
}
