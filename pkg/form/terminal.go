package form

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// TerminalAsker prompts on an interactive terminal. Empty input accepts the
// question's default.
type TerminalAsker struct {
	in  io.Reader
	out io.Writer
}

func NewTerminalAsker() *TerminalAsker {
	return &TerminalAsker{in: os.Stdin, out: os.Stdout}
}

// NewTerminalAskerIO allows injecting streams, used by tests.
func NewTerminalAskerIO(in io.Reader, out io.Writer) *TerminalAsker {
	return &TerminalAsker{in: in, out: out}
}

// Interactive reports whether stdin is attached to a terminal. Callers use
// this to decide between interactive and defaults mode.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Ask presents each question in the batch and reads one line per question.
func (a *TerminalAsker) Ask(ctx context.Context, batch []Question) (map[string]Answer, error) {
	reader := bufio.NewReader(a.in)
	answers := make(map[string]Answer, len(batch))

	for i := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q := &batch[i]

		a.prompt(q)

		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read answer for %s: %w", q.ID, err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue // default fills later
		}

		answers[q.ID] = parseInput(q, line)

		if err == io.EOF {
			break
		}
	}

	return answers, nil
}

func (a *TerminalAsker) prompt(q *Question) {
	fmt.Fprintf(a.out, "\n%s\n", q.Prompt)
	switch q.Type {
	case QuestionBool:
		fmt.Fprintf(a.out, "  [y/n]")
	case QuestionChoice:
		fmt.Fprintf(a.out, "  one of: %s", strings.Join(q.Options, ", "))
	case QuestionMultiChoice:
		fmt.Fprintf(a.out, "  any of (comma separated): %s", strings.Join(q.Options, ", "))
	case QuestionText:
	}
	if q.Default != nil {
		fmt.Fprintf(a.out, " (default: %s)", q.Default)
	}
	fmt.Fprintf(a.out, "\n> ")
}

// parseInput converts raw terminal input into the answer shape the question
// expects. Validation happens in the engine.
func parseInput(q *Question, line string) Answer {
	switch q.Type {
	case QuestionBool:
		switch strings.ToLower(line) {
		case "y", "yes", "true":
			return BoolAnswer(true)
		case "n", "no", "false":
			return BoolAnswer(false)
		}
		return ScalarAnswer(line)
	case QuestionMultiChoice:
		parts := strings.Split(line, ",")
		values := make([]string, 0, len(parts))
		for _, p := range parts {
			if v := strings.TrimSpace(p); v != "" {
				values = append(values, v)
			}
		}
		return ListAnswer(values...)
	default:
		return ScalarAnswer(line)
	}
}
