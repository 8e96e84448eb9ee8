package form

import "fmt"

// QuestionType identifies how a question is asked and validated.
type QuestionType string

const (
	QuestionBool        QuestionType = "bool"
	QuestionChoice      QuestionType = "choice"
	QuestionMultiChoice QuestionType = "multi_choice"
	QuestionText        QuestionType = "text"
)

func (q QuestionType) Valid() bool {
	switch q {
	case QuestionBool, QuestionChoice, QuestionMultiChoice, QuestionText:
		return true
	}
	return false
}

// Question is one item in a template's requirement schema. Order of
// declaration in the schema is the order of presentation.
type Question struct {
	ID       string       `json:"id" yaml:"id"`
	Prompt   string       `json:"prompt" yaml:"prompt"`
	Type     QuestionType `json:"type" yaml:"type"`
	Options  []string     `json:"options,omitempty" yaml:"options,omitempty"`
	Default  *Answer      `json:"default,omitempty" yaml:"default,omitempty"`
	Required bool         `json:"required,omitempty" yaml:"required,omitempty"`
}

// ValidateSchema checks a question list for structural problems: duplicate
// IDs, missing options on choice questions, defaults outside options.
func ValidateSchema(questions []Question) error {
	seen := make(map[string]bool, len(questions))
	for i := range questions {
		q := &questions[i]
		if q.ID == "" {
			return &ValidationError{Field: fmt.Sprintf("questions[%d]", i), Msg: "question id is required"}
		}
		if seen[q.ID] {
			return &ValidationError{Field: q.ID, Msg: "duplicate question id"}
		}
		seen[q.ID] = true

		if !q.Type.Valid() {
			return &ValidationError{Field: q.ID, Msg: fmt.Sprintf("unknown question type %q", q.Type)}
		}

		switch q.Type {
		case QuestionChoice, QuestionMultiChoice:
			if len(q.Options) == 0 {
				return &ValidationError{Field: q.ID, Msg: "choice question requires options"}
			}
		case QuestionBool, QuestionText:
			if len(q.Options) > 0 {
				return &ValidationError{Field: q.ID, Msg: "options only allowed on choice questions"}
			}
		}

		if q.Default != nil {
			if err := validateAnswer(q, *q.Default); err != nil {
				return &ValidationError{Field: q.ID, Msg: fmt.Sprintf("invalid default: %v", err)}
			}
		}
	}
	return nil
}

// validateAnswer checks an answer's shape and values against its question.
func validateAnswer(q *Question, a Answer) error {
	switch q.Type {
	case QuestionBool:
		if _, ok := a.Bool(); !ok {
			return fmt.Errorf("expected a boolean, got %q", a)
		}
	case QuestionText:
		if a.Kind != AnswerScalar {
			return fmt.Errorf("expected a single value")
		}
	case QuestionChoice:
		if a.Kind != AnswerScalar {
			return fmt.Errorf("expected a single choice")
		}
		if !optionAllowed(q.Options, a.Scalar) {
			return fmt.Errorf("%q is not one of %v", a.Scalar, q.Options)
		}
	case QuestionMultiChoice:
		if a.Kind != AnswerList {
			return fmt.Errorf("expected a list of choices")
		}
		for _, v := range a.List {
			if !optionAllowed(q.Options, v) {
				return fmt.Errorf("%q is not one of %v", v, q.Options)
			}
		}
	}
	return nil
}

func optionAllowed(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}
