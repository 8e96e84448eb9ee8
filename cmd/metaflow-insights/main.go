// metaflow-insights replays the run log through the pattern learner and
// prints what it found, optionally alongside live metric roll-ups from a
// Prometheus server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"metaflow/pkg/learner"
	"metaflow/pkg/metrics"
	"metaflow/pkg/store"
	"metaflow/pkg/tier"
)

type options struct {
	dataDir    string
	templateID string
	search     string
	minConf    float64
	jsonOut    bool
	refresh    bool
	promURL    string
	role       string
	namespace  string
}

func main() {
	var opts options
	flag.StringVar(&opts.dataDir, "data", ".metaflow", "data directory holding the run log")
	flag.StringVar(&opts.templateID, "template", "", "only show insights for this template")
	flag.StringVar(&opts.search, "search", "", "full-text query over insight summaries")
	flag.Float64Var(&opts.minConf, "min-confidence", 0, "hide insights below this confidence")
	flag.BoolVar(&opts.jsonOut, "json", false, "print insights as JSON")
	flag.BoolVar(&opts.refresh, "refresh", true, "re-analyze the run log before printing")
	flag.StringVar(&opts.promURL, "prom-url", "", "Prometheus server URL for live metric roll-ups")
	flag.StringVar(&opts.role, "role", "", "agent role to roll up from Prometheus (with -prom-url)")
	flag.StringVar(&opts.namespace, "metrics-namespace", "metaflow", "metric namespace the engine records under")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "metaflow-insights - pattern mining over recorded runs\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [options]\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "metaflow-insights: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	l, err := learner.New(learner.Options{
		Dir:         opts.dataDir,
		EnableIndex: opts.search != "",
	})
	if err != nil {
		return err
	}
	defer l.Close()

	if opts.refresh {
		history, err := store.ReadRunLog(store.RunLogPath(opts.dataDir))
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Fprintln(os.Stderr, "no recorded runs")
			return nil
		}
		if _, err := l.Refresh(history); err != nil {
			return err
		}
	}

	var insights []learner.PatternInsight
	if opts.search != "" {
		insights, err = l.Search(opts.search, 50)
		if err != nil {
			return err
		}
	} else {
		insights = l.Insights(opts.templateID)
	}

	filtered := insights[:0]
	for _, insight := range insights {
		if insight.Confidence < opts.minConf {
			continue
		}
		if opts.templateID != "" && insight.TemplateID != opts.templateID {
			continue
		}
		filtered = append(filtered, insight)
	}

	if opts.jsonOut {
		data, err := json.MarshalIndent(filtered, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		for _, insight := range filtered {
			fmt.Printf("[%-16s] %-24s conf=%.2f n=%-4d %s\n",
				insight.Kind, insight.TemplateID, insight.Confidence,
				insight.SampleSize, insight.Summary)
		}
	}

	if opts.promURL != "" {
		return printPromRollups(opts)
	}
	return nil
}

// printPromRollups queries the Prometheus server the engine records into and
// prints live aggregates next to the mined insights.
func printPromRollups(opts options) error {
	qs, err := metrics.NewQueryService(opts.promURL, opts.namespace)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if opts.role != "" {
		rm, err := qs.GetRoleMetrics(ctx, opts.role)
		if err != nil {
			return err
		}
		fmt.Printf("\nrole %s: %d attempts, %d successes, $%.4f spent, escalation rate %.2f\n",
			rm.Role, rm.Attempts, rm.Successes, rm.TotalCostUSD, rm.EscalationRate)
		for _, t := range []tier.Tier{tier.Cheap, tier.Capable, tier.Premium} {
			rate, err := qs.TierSuccessRate(ctx, opts.role, t.String())
			if err != nil {
				return err
			}
			fmt.Printf("  tier %-8s success rate %.2f\n", t, rate)
		}
	}

	if opts.templateID != "" {
		ok, bad, err := qs.TemplateRunCounts(ctx, opts.templateID)
		if err != nil {
			return err
		}
		fmt.Printf("\ntemplate %s: %d successful runs, %d failed\n", opts.templateID, ok, bad)
	}
	return nil
}
