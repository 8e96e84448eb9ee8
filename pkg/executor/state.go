package executor

import (
	"fmt"
	"sync"
	"time"

	"metaflow/pkg/tier"
)

// State is one agent's position in the escalation lifecycle. States are
// per-agent, never global.
type State string

const (
	StatePending    State = "PENDING"
	StateRunning    State = "RUNNING_AT_TIER"
	StateEscalating State = "ESCALATING"
	StateSucceeded  State = "SUCCEEDED"
	StateExhausted  State = "EXHAUSTED"
)

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted
}

// TransitionTable lists the allowed next states for each state.
type TransitionTable map[State][]State

// validTransitions is the escalation lifecycle: an agent runs at a tier,
// then either succeeds, escalates to the next tier, or exhausts the ladder.
// An escalating agent can still exhaust when the budget ceiling is crossed
// before its next attempt starts.
var validTransitions = TransitionTable{
	StatePending:    {StateRunning, StateExhausted},
	StateRunning:    {StateSucceeded, StateEscalating, StateExhausted},
	StateEscalating: {StateRunning, StateExhausted},
	StateSucceeded:  {},
	StateExhausted:  {},
}

// StateTransition records one step of an agent's lifecycle.
type StateTransition struct {
	From State
	To   State
	Tier tier.Tier
	At   time.Time
}

// stateMachine validates and records one agent's transitions.
type stateMachine struct {
	mu      sync.Mutex
	role    string
	current State
	tier    tier.Tier
	history []StateTransition
}

func newStateMachine(role string) *stateMachine {
	return &stateMachine{
		role:    role,
		current: StatePending,
	}
}

// transitionTo moves to a new state, rejecting anything the table does not
// allow. The tier tags which ladder rung the transition happened at.
func (sm *stateMachine) transitionTo(newState State, t tier.Tier) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	allowed := false
	for _, s := range validTransitions[sm.current] {
		if s == newState {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("agent %s: invalid transition %s -> %s", sm.role, sm.current, newState)
	}

	sm.history = append(sm.history, StateTransition{
		From: sm.current,
		To:   newState,
		Tier: t,
		At:   time.Now().UTC(),
	})
	sm.current = newState
	sm.tier = t
	return nil
}

func (sm *stateMachine) state() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

func (sm *stateMachine) transitions() []StateTransition {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]StateTransition, len(sm.history))
	copy(out, sm.history)
	return out
}
