// Package tier defines the model capability tiers and the escalation
// strategies that decide which tiers an agent may attempt, in what order.
package tier

import "fmt"

// Tier identifies a model capability class. Higher tiers cost more and
// are only reached through escalation.
type Tier string

const (
	Cheap   Tier = "cheap"
	Capable Tier = "capable"
	Premium Tier = "premium"
)

// rank orders tiers from least to most capable.
var rank = map[Tier]int{
	Cheap:   0,
	Capable: 1,
	Premium: 2,
}

func (t Tier) Valid() bool {
	_, ok := rank[t]
	return ok
}

// Rank returns the tier's position in the escalation order, 0 being cheapest.
func (t Tier) Rank() int {
	return rank[t]
}

// Above reports whether t is a more capable tier than other.
func (t Tier) Above(other Tier) bool {
	return rank[t] > rank[other]
}

func (t Tier) String() string {
	return string(t)
}

// Parse validates a tier name from config or the wire.
func Parse(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Strategy controls where an agent starts on the tier ladder and how far
// escalation may carry it.
type Strategy string

const (
	// CheapOnly pins the agent to the cheap tier with no escalation.
	CheapOnly Strategy = "cheap_only"
	// Progressive starts cheap and escalates one tier per failure.
	Progressive Strategy = "progressive"
	// CapableFirst skips the cheap tier and escalates to premium on failure.
	CapableFirst Strategy = "capable_first"
	// PremiumOnly pins the agent to the premium tier.
	PremiumOnly Strategy = "premium_only"
)

// ladders holds the ordered attempt sequence for each strategy.
var ladders = map[Strategy][]Tier{
	CheapOnly:    {Cheap},
	Progressive:  {Cheap, Capable, Premium},
	CapableFirst: {Capable, Premium},
	PremiumOnly:  {Premium},
}

func (s Strategy) Valid() bool {
	_, ok := ladders[s]
	return ok
}

// Ladder returns a copy of the ordered tiers the strategy permits.
func (s Strategy) Ladder() []Tier {
	src := ladders[s]
	out := make([]Tier, len(src))
	copy(out, src)
	return out
}

// Start returns the first tier the strategy attempts.
func (s Strategy) Start() Tier {
	return ladders[s][0]
}

// Next returns the tier after t on the strategy's ladder. The second
// return is false when t is the strategy's final tier.
func (s Strategy) Next(t Tier) (Tier, bool) {
	ladder := ladders[s]
	for i, cur := range ladder {
		if cur == t && i+1 < len(ladder) {
			return ladder[i+1], true
		}
	}
	return "", false
}

func (s Strategy) String() string {
	return string(s)
}

// ParseStrategy validates a strategy name from config or the wire.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown tier strategy %q", s)
	}
	return st, nil
}
