// Package form implements socratic requirement collection: small batches of
// questions presented in schema order, with defaulting and strict modes.
package form

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// AnswerKind distinguishes the two value shapes an answer can take.
type AnswerKind int

const (
	AnswerScalar AnswerKind = iota
	AnswerList
)

// Answer holds a single response value. Scalars cover text, choice, and
// boolean questions (booleans normalize to "true"/"false"); lists cover
// multi-choice questions.
type Answer struct {
	Kind   AnswerKind
	Scalar string
	List   []string
}

func ScalarAnswer(value string) Answer {
	return Answer{Kind: AnswerScalar, Scalar: value}
}

func ListAnswer(values ...string) Answer {
	return Answer{Kind: AnswerList, List: values}
}

func BoolAnswer(b bool) Answer {
	if b {
		return ScalarAnswer("true")
	}
	return ScalarAnswer("false")
}

// Bool interprets a scalar answer as a boolean. The second return is false
// when the answer is not a recognizable boolean.
func (a Answer) Bool() (bool, bool) {
	if a.Kind != AnswerScalar {
		return false, false
	}
	switch a.Scalar {
	case "true", "yes", "y":
		return true, true
	case "false", "no", "n":
		return false, true
	}
	return false, false
}

// Contains reports whether a list answer includes value. Scalar answers
// report simple equality.
func (a Answer) Contains(value string) bool {
	if a.Kind == AnswerScalar {
		return a.Scalar == value
	}
	for _, v := range a.List {
		if v == value {
			return true
		}
	}
	return false
}

// Equal compares two answers for identical kind and content. List order is
// ignored.
func (a Answer) Equal(b Answer) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == AnswerScalar {
		return a.Scalar == b.Scalar
	}
	if len(a.List) != len(b.List) {
		return false
	}
	as := append([]string(nil), a.List...)
	bs := append([]string(nil), b.List...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func (a Answer) String() string {
	if a.Kind == AnswerScalar {
		return a.Scalar
	}
	return fmt.Sprintf("%v", a.List)
}

// MarshalJSON encodes scalars as JSON strings and lists as string arrays.
func (a Answer) MarshalJSON() ([]byte, error) {
	if a.Kind == AnswerList {
		if a.List == nil {
			return json.Marshal([]string{})
		}
		return json.Marshal(a.List)
	}
	return json.Marshal(a.Scalar)
}

// UnmarshalJSON accepts strings, booleans, and string arrays.
func (a *Answer) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = ScalarAnswer(s)
		return nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*a = BoolAnswer(b)
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*a = ListAnswer(list...)
		return nil
	}

	return fmt.Errorf("answer must be a string, boolean, or string array: %s", string(data))
}

// UnmarshalYAML accepts the same shapes as JSON: scalars, booleans, and
// string sequences.
func (a *Answer) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!bool" {
			var b bool
			if err := node.Decode(&b); err != nil {
				return err
			}
			*a = BoolAnswer(b)
			return nil
		}
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*a = ScalarAnswer(s)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*a = ListAnswer(list...)
		return nil
	default:
		return fmt.Errorf("answer must be a scalar or a string sequence")
	}
}
