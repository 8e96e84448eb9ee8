// metaflow composes and runs template-driven agent workflows with
// cost-aware tier escalation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metaflow/pkg/config"
	"metaflow/pkg/engine"
	"metaflow/pkg/form"
	"metaflow/pkg/invoke"
	"metaflow/pkg/logx"
	"metaflow/pkg/store"
	"metaflow/pkg/workflow"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "estimate":
		err = cmdEstimate(os.Args[2:])
	case "templates":
		err = cmdTemplates(os.Args[2:])
	case "runs":
		err = cmdRuns(os.Args[2:])
	case "reindex":
		err = cmdReindex(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "metaflow: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `metaflow - agent workflow composition with tier escalation

Usage:
  metaflow run -template <id> [options]       compose and execute a workflow
  metaflow estimate -template <id> [options]  project cost without executing
  metaflow templates [options]                list available templates
  metaflow runs [options]                     list recorded runs
  metaflow reindex [options]                  rebuild the query index from the run log
  metaflow help                               show this help

Common options:
  -config <path>    config file (default: %s/%s)
  -answers <json>   seed answers as inline JSON or @file
`, config.ConfigDir, config.ConfigFilename)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		defaultPath := config.ConfigDir + "/" + config.ConfigFilename
		if _, err := os.Stat(defaultPath); err != nil {
			return config.DefaultConfig(), nil
		}
		path = defaultPath
	}
	return config.LoadConfig(path)
}

// parseAnswers accepts inline JSON or @file syntax.
func parseAnswers(raw string) (map[string]form.Answer, error) {
	if raw == "" {
		return nil, nil
	}
	data := []byte(raw)
	if strings.HasPrefix(raw, "@") {
		fileData, err := os.ReadFile(raw[1:])
		if err != nil {
			return nil, fmt.Errorf("read answers file: %w", err)
		}
		data = fileData
	}
	var answers map[string]form.Answer
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("parse answers: %w", err)
	}
	return answers, nil
}

func newEngine(cfg *config.Config, live bool, needInvoker bool) (*engine.Engine, error) {
	opts := engine.Options{Config: cfg}

	if cfg.Forms.Mode == config.FormModeInteractive && form.Interactive() {
		opts.Asker = form.NewTerminalAsker()
	}
	if !needInvoker || !live {
		mock := invoke.NewMock()
		opts.Invoker = mock
	}
	return engine.New(opts)
}

func cmdRun(args []string) error {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	templateID := flags.String("template", "", "template ID to run (required)")
	configPath := flags.String("config", "", "config file path")
	answersRaw := flags.String("answers", "", "seed answers as inline JSON or @file")
	formMode := flags.String("mode", "", "form mode override: interactive, defaults, or strict")
	budget := flags.Float64("budget", 0, "budget ceiling in USD (0 uses the configured ceiling)")
	live := flags.Bool("live", false, "use live provider APIs instead of mock responses")
	metricsAddr := flags.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	jsonOut := flags.Bool("json", false, "print the full run record as JSON")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *templateID == "" {
		return fmt.Errorf("run: -template is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	answers, err := parseAnswers(*answersRaw)
	if err != nil {
		return err
	}

	e, err := newEngine(cfg, *live, true)
	if err != nil {
		return err
	}
	defer e.Close()

	if *metricsAddr != "" && cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logx.NewLogger("cli").Warn("metrics server: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := e.Run(ctx, *templateID, engine.RunOptions{
		Answers:          answers,
		FormMode:         *formMode,
		BudgetCeilingUSD: *budget,
	})
	if result == nil {
		return runErr
	}
	if runErr != nil {
		// The run completed but could not be fully persisted.
		fmt.Fprintf(os.Stderr, "metaflow: warning: %v\n", runErr)
	}

	if *jsonOut {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		printRunSummary(result)
	}
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

func printRunSummary(result *workflow.MetaWorkflowResult) {
	status := "succeeded"
	if !result.Success {
		status = "failed"
	}
	fmt.Printf("run %s %s: template=%s agents=%d cost=$%.4f duration=%dms\n",
		result.RunID, status, result.TemplateID, len(result.Agents),
		result.TotalCostUSD, result.DurationMS)
	for i := range result.Agents {
		agent := &result.Agents[i]
		outcome := fmt.Sprintf("succeeded at %s", agent.FinalTier)
		if !agent.Success {
			outcome = "failed: " + agent.FailureReason
		}
		required := ""
		if agent.Required {
			required = " (required)"
		}
		fmt.Printf("  %-20s %s, %d attempt(s), $%.4f%s\n",
			agent.Role, outcome, len(agent.Attempts), agent.CostUSD, required)
	}
}

func cmdEstimate(args []string) error {
	flags := flag.NewFlagSet("estimate", flag.ExitOnError)
	templateID := flags.String("template", "", "template ID to estimate (required)")
	configPath := flags.String("config", "", "config file path")
	answersRaw := flags.String("answers", "", "seed answers as inline JSON or @file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *templateID == "" {
		return fmt.Errorf("estimate: -template is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	answers, err := parseAnswers(*answersRaw)
	if err != nil {
		return err
	}

	e, err := newEngine(cfg, false, false)
	if err != nil {
		return err
	}
	defer e.Close()

	estimate, err := e.Estimate(context.Background(), *templateID, engine.RunOptions{
		Answers:  answers,
		FormMode: config.FormModeDefaults,
	})
	if err != nil {
		return err
	}

	fmt.Printf("template %s: %d agent(s), $%.4f optimistic, $%.4f worst case\n",
		*templateID, len(estimate.Agents), estimate.OptimisticUSD, estimate.WorstCaseUSD)
	for _, agent := range estimate.Agents {
		fmt.Printf("  %-20s start=%s tokens=%d optimistic=$%.4f worst=$%.4f\n",
			agent.Role, agent.StartTier, agent.PromptTokens, agent.OptimisticUSD, agent.WorstCaseUSD)
	}
	return nil
}

func cmdTemplates(args []string) error {
	flags := flag.NewFlagSet("templates", flag.ExitOnError)
	configPath := flags.String("config", "", "config file path")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	e, err := newEngine(cfg, false, false)
	if err != nil {
		return err
	}
	defer e.Close()

	for _, meta := range e.Registry().ListTemplates() {
		fmt.Printf("%-24s [%s] %s\n", meta.ID, meta.Source, meta.Description)
	}
	for _, loadErr := range e.Registry().LoadErrors() {
		fmt.Fprintf(os.Stderr, "warning: %v\n", loadErr)
	}
	return nil
}

func cmdRuns(args []string) error {
	flags := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := flags.String("config", "", "config file path")
	templateID := flags.String("template", "", "only show runs of this template")
	limit := flags.Int("limit", 20, "maximum runs to list (0 for all)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	s, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer s.Close()

	var runs []store.RunSummary
	if *templateID != "" {
		runs, err = s.RunsForTemplate(*templateID)
	} else {
		runs, err = s.ListRuns(*limit)
	}
	if err != nil {
		return err
	}

	for _, run := range runs {
		status := "ok"
		if !run.Success {
			status = "failed"
		}
		fmt.Printf("%s  %-24s %-6s agents=%d cost=$%.4f %s\n",
			run.RunID, run.TemplateID, status, run.AgentCount,
			run.TotalCostUSD, run.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func cmdReindex(args []string) error {
	flags := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := flags.String("config", "", "config file path")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	s, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer s.Close()

	count, err := s.Reindex()
	if err != nil {
		return err
	}
	fmt.Printf("reindexed %d run(s)\n", count)
	return nil
}
