package form

import (
	"context"
	"fmt"

	"metaflow/pkg/config"
	"metaflow/pkg/logx"
)

// BatchSize caps how many questions are presented at once. Small batches
// keep the collection conversational instead of a wall of prompts.
const BatchSize = 4

// Asker presents a batch of questions and returns answers keyed by question
// ID. Partial answers are allowed, the engine falls back to defaults for
// anything left out.
type Asker interface {
	Ask(ctx context.Context, batch []Question) (map[string]Answer, error)
}

// Engine drives requirement collection for a template's question schema.
type Engine struct {
	mode   string
	asker  Asker
	logger *logx.Logger
}

// NewEngine builds an engine for the given forms mode. The asker may be nil
// unless the mode is interactive.
func NewEngine(mode string, asker Asker) (*Engine, error) {
	switch mode {
	case config.FormModeInteractive, config.FormModeDefaults, config.FormModeStrict:
	default:
		return nil, fmt.Errorf("unknown forms mode %q", mode)
	}
	if mode == config.FormModeInteractive && asker == nil {
		return nil, fmt.Errorf("interactive forms mode requires an asker")
	}
	return &Engine{
		mode:   mode,
		asker:  asker,
		logger: logx.NewLogger("form"),
	}, nil
}

// Collect resolves every question in the schema to an answer. Seed answers
// are validated and kept as-is; a fully seeded schema returns without any
// prompting, so repeated collection is a no-op.
func (e *Engine) Collect(ctx context.Context, questions []Question, seed map[string]Answer) (map[string]Answer, error) {
	if err := ValidateSchema(questions); err != nil {
		return nil, err
	}

	answers := make(map[string]Answer, len(questions))
	for i := range questions {
		q := &questions[i]
		a, ok := seed[q.ID]
		if !ok {
			continue
		}
		if err := validateAnswer(q, a); err != nil {
			return nil, &ValidationError{Field: q.ID, Msg: err.Error()}
		}
		answers[q.ID] = a
	}

	unanswered := make([]Question, 0, len(questions))
	for i := range questions {
		if _, ok := answers[questions[i].ID]; !ok {
			unanswered = append(unanswered, questions[i])
		}
	}

	if len(unanswered) == 0 {
		return answers, nil
	}

	switch e.mode {
	case config.FormModeStrict:
		missing := make([]string, len(unanswered))
		for i := range unanswered {
			missing[i] = unanswered[i].ID
		}
		return nil, &StrictModeError{Missing: missing}

	case config.FormModeInteractive:
		if err := e.collectInteractive(ctx, unanswered, answers); err != nil {
			return nil, err
		}

	case config.FormModeDefaults:
		logx.Debug(ctx, "form", "filling %d question(s) from defaults", len(unanswered))
	}

	// Anything still open falls back to its declared default.
	for i := range questions {
		q := &questions[i]
		if _, ok := answers[q.ID]; ok {
			continue
		}
		if q.Default != nil {
			answers[q.ID] = *q.Default
			continue
		}
		if q.Required {
			return nil, &ValidationError{Field: q.ID, Msg: "required question has no answer and no default"}
		}
	}

	return answers, nil
}

// collectInteractive walks the unanswered questions in schema order, asking
// at most BatchSize at a time.
func (e *Engine) collectInteractive(ctx context.Context, unanswered []Question, answers map[string]Answer) error {
	for start := 0; start < len(unanswered); start += BatchSize {
		end := start + BatchSize
		if end > len(unanswered) {
			end = len(unanswered)
		}
		batch := unanswered[start:end]

		logx.Debug(ctx, "form", "asking batch of %d question(s)", len(batch))
		got, err := e.asker.Ask(ctx, batch)
		if err != nil {
			return logx.Wrap(err, "form collection")
		}

		for i := range batch {
			q := &batch[i]
			a, ok := got[q.ID]
			if !ok {
				continue // default fills later
			}
			if err := validateAnswer(q, a); err != nil {
				return &ValidationError{Field: q.ID, Msg: err.Error()}
			}
			answers[q.ID] = a
		}
	}
	return nil
}
