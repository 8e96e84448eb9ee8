// Package engine wires the run pipeline together: template lookup, form
// collection, agent composition, tier-escalated execution, persistence, and
// pattern learning.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metaflow/pkg/composer"
	"metaflow/pkg/config"
	"metaflow/pkg/executor"
	"metaflow/pkg/form"
	"metaflow/pkg/invoke"
	"metaflow/pkg/learner"
	"metaflow/pkg/logx"
	"metaflow/pkg/metrics"
	"metaflow/pkg/store"
	"metaflow/pkg/template"
	"metaflow/pkg/workflow"
)

// Options configures a new Engine.
type Options struct {
	Config *config.Config
	// Asker supplies interactive form answers. Required only when the form
	// mode is interactive.
	Asker form.Asker
	// Invoker overrides the production provider router, for tests.
	Invoker invoke.Invoker
}

// RunOptions tunes a single run.
type RunOptions struct {
	// Answers seeds the form before collection.
	Answers map[string]form.Answer
	// FormMode overrides the configured form mode when non-empty.
	FormMode string
	// BudgetCeilingUSD overrides the configured ceiling when non-zero.
	BudgetCeilingUSD float64
}

// Engine owns the full run pipeline and the stores behind it.
type Engine struct {
	cfg      *config.Config
	registry *template.Registry
	composer *composer.Composer
	invoker  invoke.Invoker
	store    *store.Store
	learner  *learner.Learner
	recorder *metrics.Recorder
	asker    form.Asker
	logger   *logx.Logger
}

// New assembles an engine from configuration. The provider router is only
// constructed when no invoker override is given, so offline commands work
// without API keys.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	registry, err := template.NewRegistry(cfg.TemplateDir)
	if err != nil {
		return nil, fmt.Errorf("open template registry: %w", err)
	}

	comp, err := composer.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create composer: %w", err)
	}

	runStore, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		registry: registry,
		composer: comp,
		store:    runStore,
		asker:    opts.Asker,
		logger:   logx.NewLogger("engine"),
	}

	if cfg.Learner.Enabled {
		dir := cfg.Learner.IndexDir
		indexEnabled := dir != ""
		if dir == "" {
			dir = cfg.DataDir
		}
		e.learner, err = learner.New(learner.Options{Dir: dir, EnableIndex: indexEnabled})
		if err != nil {
			_ = runStore.Close()
			return nil, fmt.Errorf("open learner: %w", err)
		}
	}
	if cfg.Metrics.Enabled {
		e.recorder = metrics.NewRecorder(cfg.Metrics.Namespace)
	}

	invoker := opts.Invoker
	if invoker == nil {
		router, err := invoke.NewRouter(cfg)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		invoker = router
	}
	middlewares := []invoke.Middleware{}
	if e.recorder != nil {
		middlewares = append(middlewares, invoke.WithMetrics(e.recorder))
	}
	if cfg.Executor.RequestTimeoutSec > 0 {
		middlewares = append(middlewares, invoke.WithTimeout(
			time.Duration(cfg.Executor.RequestTimeoutSec)*time.Second))
	}
	e.invoker = invoke.Chain(invoker, middlewares...)

	return e, nil
}

// Registry exposes the template registry for listing and inspection.
func (e *Engine) Registry() *template.Registry {
	return e.registry
}

// Store exposes the run store for queries and reindexing.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Learner returns the pattern learner, or nil when disabled.
func (e *Engine) Learner() *learner.Learner {
	return e.learner
}

// Estimate composes agents for a template without executing anything and
// returns the projected cost range.
func (e *Engine) Estimate(ctx context.Context, templateID string, opts RunOptions) (*composer.CostEstimate, error) {
	tmpl, err := e.registry.LoadTemplate(templateID)
	if err != nil {
		return nil, err
	}
	answers, err := e.collect(ctx, tmpl, opts)
	if err != nil {
		return nil, err
	}
	agents, err := e.composer.CreateAgents(tmpl, answers)
	if err != nil {
		return nil, err
	}
	return e.composer.EstimateCosts(agents)
}

// Run executes one template end to end. When persistence fails after
// execution, the completed result is returned together with the storage
// error so the caller still sees what happened.
func (e *Engine) Run(ctx context.Context, templateID string, opts RunOptions) (*workflow.MetaWorkflowResult, error) {
	tmpl, err := e.registry.LoadTemplate(templateID)
	if err != nil {
		return nil, err
	}

	answers, err := e.collect(ctx, tmpl, opts)
	if err != nil {
		return nil, err
	}

	agents, err := e.composer.CreateAgents(tmpl, answers)
	if err != nil {
		return nil, err
	}
	if depErrs := composer.ValidateDependencies(agents); len(depErrs) > 0 {
		return nil, fmt.Errorf("template %s: %w", templateID, errors.Join(depErrs...))
	}

	result := &workflow.MetaWorkflowResult{
		RunID:      workflow.NewRunID(),
		TemplateID: templateID,
		Answers:    answers,
		StartedAt:  time.Now().UTC(),
	}
	e.logger.Info("run %s: template %s composed %d agents", result.RunID, templateID, len(agents))

	if len(agents) > 0 {
		if estimate, err := e.composer.EstimateCosts(agents); err == nil {
			e.logger.Info("run %s: estimated cost $%.4f to $%.4f",
				result.RunID, estimate.OptimisticUSD, estimate.WorstCaseUSD)
		}

		ceiling := opts.BudgetCeilingUSD
		if ceiling == 0 {
			ceiling = e.cfg.Budget.DefaultCeilingUSD
		}
		exec := executor.New(e.invoker, executor.Options{
			Workers:          e.cfg.Executor.Workers,
			BudgetCeilingUSD: ceiling,
		})
		results, err := exec.Execute(logx.WithRunID(ctx, result.RunID), agents)
		if err != nil {
			return nil, err
		}
		result.Agents = results
	}

	result.CompletedAt = time.Now().UTC()
	result.Finalize()

	if e.recorder != nil {
		e.recorder.ObserveRun(result)
	}

	if err := e.store.SaveRun(result); err != nil {
		return result, err
	}
	e.refreshInsights()
	return result, nil
}

func (e *Engine) collect(ctx context.Context, tmpl *template.Template, opts RunOptions) (map[string]form.Answer, error) {
	mode := opts.FormMode
	if mode == "" {
		mode = e.cfg.Forms.Mode
	}
	forms, err := form.NewEngine(mode, e.asker)
	if err != nil {
		return nil, err
	}
	return forms.Collect(ctx, tmpl.Questions, opts.Answers)
}

// refreshInsights re-mines the full history after a run. Learning is an
// enhancement: failures are logged, never surfaced to the run.
func (e *Engine) refreshInsights() {
	if e.learner == nil {
		return
	}
	history, err := e.store.ReadAll()
	if err != nil {
		e.logger.Warn("insight refresh skipped: %v", err)
		return
	}
	if _, err := e.learner.Refresh(history); err != nil {
		e.logger.Warn("insight refresh failed: %v", err)
	}
}

// Close releases the store and learner.
func (e *Engine) Close() error {
	var errs []error
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.learner != nil {
		if err := e.learner.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
