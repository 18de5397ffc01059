package main

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Suite runs a set of scenarios against one project. Each scenario
// gets its own browser session and artifact directory; a failure in
// one never stops the others.
type Suite struct {
	cfg      *ResolvedConfig
	logger   *RunLogger
	parallel int
}

// NewSuite builds a suite honoring the configured parallelism.
func NewSuite(cfg *ResolvedConfig, logger *RunLogger) *Suite {
	parallel := cfg.Config.Parallel
	if parallel < 1 {
		parallel = 1
	}
	return &Suite{cfg: cfg, logger: logger, parallel: parallel}
}

// Run executes all scenarios with bounded parallelism. Results come
// back in scenario order regardless of completion order. External
// cancellation (signal, run timeout) propagates into every scenario
// through ctx.
func (s *Suite) Run(ctx context.Context, scenarios []*Scenario) []ScenarioResult {
	results := make([]ScenarioResult, len(scenarios))

	g, runCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)

	for i, sc := range scenarios {
		g.Go(func() error {
			runner := NewScenarioRunner(s.cfg, sc, s.logger, s.logger.RunID())
			results[i] = runner.Run(runCtx)
			// Scenario failures are results, not errors; returning one
			// would cancel the siblings.
			return nil
		})
	}
	g.Wait()

	return results
}

// AllPassed reports whether every scenario in the run passed.
func AllPassed(results []ScenarioResult) bool {
	for _, r := range results {
		if r.Status != ScenarioPassed {
			return false
		}
	}
	return len(results) > 0
}

// CountPassed returns how many scenarios passed.
func CountPassed(results []ScenarioResult) int {
	n := 0
	for _, r := range results {
		if r.Status == ScenarioPassed {
			n++
		}
	}
	return n
}

// PrintSummary writes the per-scenario outcome table to stdout.
func PrintSummary(results []ScenarioResult) {
	fmt.Println()
	fmt.Println("Results:")
	for _, r := range results {
		glyph := "✗"
		switch r.Status {
		case ScenarioPassed:
			glyph = "✓"
		case ScenarioCancelled:
			glyph = "○"
		}
		fmt.Printf("  %s %s (%d steps, %s)\n", glyph, r.Scenario, len(r.Steps), FormatDuration(r.Duration))

		switch r.Status {
		case ScenarioFailed:
			if r.FailedStep != "" {
				fmt.Printf("    └─ %s at step %q: %s\n", r.ErrorKind, r.FailedStep, firstLine(r.Error))
			} else {
				fmt.Printf("    └─ %s: %s\n", r.ErrorKind, firstLine(r.Error))
			}
			if len(r.Artifacts) > 0 {
				fmt.Printf("    └─ evidence: %s\n", r.Artifacts[len(r.Artifacts)-1].Path)
			}
		case ScenarioCancelled:
			fmt.Printf("    └─ cancelled\n")
		}

		if r.ConsoleErrors > 0 {
			fmt.Printf("    └─ %d console error(s) during run\n", r.ConsoleErrors)
		}
	}
	fmt.Println()
	fmt.Printf("%d/%d scenarios passed\n", CountPassed(results), len(results))
}

// firstLine truncates multi-line error text for the summary table; the
// full detail is in the run log.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
