// Package template defines meta-workflow templates: a question schema plus
// declarative agent composition rules, loaded from built-in and user sources.
package template

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"metaflow/pkg/form"
	"metaflow/pkg/tier"
)

// ConditionKind distinguishes the two condition shapes a rule may declare.
// Adding a shape means extending every switch over this type.
type ConditionKind int

const (
	// CondEquals compares against a single value.
	CondEquals ConditionKind = iota
	// CondOneOf compares against a list of allowed values.
	CondOneOf
)

// Condition is a pure predicate over one form answer. The zero Condition is
// invalid; conditions are only built by decoding a template.
type Condition struct {
	Question string
	Kind     ConditionKind
	Equals   string   // set when Kind == CondEquals
	OneOf    []string // set when Kind == CondOneOf
}

// conditionWire is the serialized shape: exactly one of equals / one_of.
type conditionWire struct {
	Question string       `json:"question" yaml:"question"`
	Equals   *form.Answer `json:"equals,omitempty" yaml:"equals,omitempty"`
	OneOf    []string     `json:"one_of,omitempty" yaml:"one_of,omitempty"`
}

func (c *Condition) fromWire(w *conditionWire) error {
	if w.Question == "" {
		return fmt.Errorf("condition requires a question")
	}
	switch {
	case w.Equals != nil && len(w.OneOf) > 0:
		return fmt.Errorf("condition on %q declares both equals and one_of", w.Question)
	case w.Equals != nil:
		if w.Equals.Kind != form.AnswerScalar {
			return fmt.Errorf("condition on %q: equals must be a single value, use one_of for lists", w.Question)
		}
		*c = Condition{Question: w.Question, Kind: CondEquals, Equals: w.Equals.Scalar}
	case len(w.OneOf) > 0:
		*c = Condition{Question: w.Question, Kind: CondOneOf, OneOf: w.OneOf}
	default:
		return fmt.Errorf("condition on %q declares neither equals nor one_of", w.Question)
	}
	return nil
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var w conditionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return c.fromWire(&w)
}

func (c Condition) MarshalJSON() ([]byte, error) {
	w := conditionWire{Question: c.Question}
	switch c.Kind {
	case CondEquals:
		a := form.ScalarAnswer(c.Equals)
		w.Equals = &a
	case CondOneOf:
		w.OneOf = c.OneOf
	}
	return json.Marshal(w)
}

func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	var w conditionWire
	if err := node.Decode(&w); err != nil {
		return err
	}
	return c.fromWire(&w)
}

// AgentRule declares one agent the composer may instantiate. A nil When
// condition means the agent is always created.
type AgentRule struct {
	Role           string        `json:"role" yaml:"role"`
	When           *Condition    `json:"when,omitempty" yaml:"when,omitempty"`
	Strategy       tier.Strategy `json:"strategy" yaml:"strategy"`
	SystemPrompt   string        `json:"system_prompt" yaml:"system_prompt"`
	Capabilities   []string      `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Required       bool          `json:"required,omitempty" yaml:"required,omitempty"`
	DependsOn      string        `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	MinOutputChars int           `json:"min_output_chars,omitempty" yaml:"min_output_chars,omitempty"`
	// ConfigKeys names form answers copied into the agent's config.
	ConfigKeys []string `json:"config_keys,omitempty" yaml:"config_keys,omitempty"`
}

// Template pairs a question schema with agent composition rules.
type Template struct {
	ID          string          `json:"template_id" yaml:"template_id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Questions   []form.Question `json:"form_schema" yaml:"form_schema"`
	Rules       []AgentRule     `json:"agent_composition_rules" yaml:"agent_composition_rules"`
}

// Validate checks the template for structural problems. File context is added
// by the registry.
func (t *Template) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "template_id", Msg: "template_id is required"}
	}
	if len(t.Rules) == 0 {
		return &ValidationError{Field: "agent_composition_rules", Msg: "at least one rule is required"}
	}

	if err := form.ValidateSchema(t.Questions); err != nil {
		return &ValidationError{Field: "form_schema", Msg: err.Error()}
	}

	questions := make(map[string]*form.Question, len(t.Questions))
	for i := range t.Questions {
		questions[t.Questions[i].ID] = &t.Questions[i]
	}

	roles := make(map[string]bool, len(t.Rules))
	for i := range t.Rules {
		r := &t.Rules[i]
		field := fmt.Sprintf("agent_composition_rules[%d]", i)

		if r.Role == "" {
			return &ValidationError{Field: field, Msg: "role is required"}
		}
		if roles[r.Role] {
			return &ValidationError{Field: field, Msg: fmt.Sprintf("duplicate role %q", r.Role)}
		}
		roles[r.Role] = true

		if !r.Strategy.Valid() {
			return &ValidationError{Field: field, Msg: fmt.Sprintf("unknown strategy %q for role %q", r.Strategy, r.Role)}
		}
		if r.When != nil {
			q, known := questions[r.When.Question]
			if !known {
				return &ValidationError{Field: field, Msg: fmt.Sprintf("condition references unknown question %q", r.When.Question)}
			}
			// A conditioned question must always end up answered, or the rule
			// cannot be evaluated at run time.
			if !q.Required && q.Default == nil {
				return &ValidationError{Field: field, Msg: fmt.Sprintf(
					"condition references question %q, which is optional and has no default", r.When.Question)}
			}
		}
		for _, key := range r.ConfigKeys {
			if _, known := questions[key]; !known {
				return &ValidationError{Field: field, Msg: fmt.Sprintf("config key references unknown question %q", key)}
			}
		}
		if r.MinOutputChars < 0 {
			return &ValidationError{Field: field, Msg: "min_output_chars must be >= 0"}
		}
	}

	// Dependencies must at least name a declared role. Whether the predecessor
	// actually triggers is checked per run by the composer.
	for i := range t.Rules {
		r := &t.Rules[i]
		if r.DependsOn == "" {
			continue
		}
		if r.DependsOn == r.Role {
			return &ValidationError{Field: r.Role, Msg: "agent cannot depend on itself"}
		}
		if !roles[r.DependsOn] {
			return &ValidationError{Field: r.Role, Msg: fmt.Sprintf("depends_on references unknown role %q", r.DependsOn)}
		}
	}

	return nil
}

// ValidationError reports a malformed template with the offending file and
// field. File is empty for templates not loaded from disk.
type ValidationError struct {
	File  string
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("template %s: field %s: %s", e.File, e.Field, e.Msg)
	}
	return fmt.Sprintf("template field %s: %s", e.Field, e.Msg)
}
