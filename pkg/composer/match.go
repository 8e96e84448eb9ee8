package composer

import (
	"metaflow/pkg/form"
	"metaflow/pkg/template"
)

// Matches evaluates a rule condition against one answer. The four
// answer-shape/condition-shape combinations behave as follows:
//
//	scalar answer, equals condition  -> equality
//	scalar answer, one_of condition  -> answer is a member of the list
//	list answer,   equals condition  -> condition value is a member of the answer
//	list answer,   one_of condition  -> non-empty intersection
//
// Conditions are pure functions of the answer; no external state.
func Matches(cond *template.Condition, answer form.Answer) bool {
	switch cond.Kind {
	case template.CondEquals:
		if answer.Kind == form.AnswerScalar {
			return answer.Scalar == cond.Equals
		}
		return answer.Contains(cond.Equals)
	case template.CondOneOf:
		if answer.Kind == form.AnswerScalar {
			return member(cond.OneOf, answer.Scalar)
		}
		for _, v := range answer.List {
			if member(cond.OneOf, v) {
				return true
			}
		}
		return false
	}
	return false
}

func member(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
