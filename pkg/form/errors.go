package form

import (
	"fmt"
	"strings"
)

// ValidationError reports a malformed schema or an answer that does not fit
// its question.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Msg)
}

// StrictModeError reports unanswered questions when defaulting is disabled.
// It is fatal: the run aborts before any agent executes.
type StrictModeError struct {
	Missing []string // question IDs in schema order
}

func (e *StrictModeError) Error() string {
	return fmt.Sprintf("strict mode: %d unanswered question(s): %s",
		len(e.Missing), strings.Join(e.Missing, ", "))
}
