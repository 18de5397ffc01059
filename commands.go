package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// promptServiceConfig prompts for the dev server start command. The
// detected framework's command is offered as the default; entering "-"
// skips service management entirely.
// reader is accepted as a parameter so tests can inject a bufio.Reader over a controlled input.
func promptServiceConfig(reader *bufio.Reader, detected *FrameworkInfo) *ServiceConfig {
	fmt.Println()
	fmt.Println("Dev server (vigil starts it and reads its port from the log it writes):")
	if detected != nil && detected.DevCommand != "" {
		fmt.Printf("  Start command ('-' to skip) [%s]: ", detected.DevCommand)
	} else {
		fmt.Print("  Start command (e.g. npm run dev, Enter to skip): ")
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	startCmd := input
	if input == "" {
		if detected == nil || detected.DevCommand == "" {
			return nil
		}
		startCmd = detected.DevCommand
	}
	if startCmd == "-" {
		return nil
	}

	return &ServiceConfig{
		Name:         "dev",
		Start:        startCmd,
		LogFile:      filepath.Join(".vigil", "dev.log"),
		ReadyTimeout: 30,
	}
}

func cmdInit(args []string) {
	force := false
	for _, arg := range args {
		if arg == "-f" || arg == "--force" {
			force = true
		}
	}

	projectRoot := GetProjectRoot()
	configPath := ConfigPath(projectRoot)
	vigilDir := filepath.Join(projectRoot, ".vigil")
	scenariosDir := filepath.Join(projectRoot, "verify")

	// Check if already initialized
	if fileExists(configPath) && !force {
		fmt.Fprintf(os.Stderr, "vigil.config.json already exists at %s\n", configPath)
		fmt.Fprintln(os.Stderr, "Use --force to overwrite.")
		os.Exit(1)
	}

	// Framework detection seeds the endpoint hints and the dev server default
	detected := DetectFramework(projectRoot)
	if detected != nil {
		fmt.Printf("Detected framework: %s (port %d)\n", detected.Name, detected.Port)
	}

	reader := bufio.NewReader(os.Stdin)
	svcConfig := promptServiceConfig(reader, detected)

	// Create vigil.config.json
	if err := WriteDefaultConfig(projectRoot, svcConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		os.Exit(1)
	}

	// Create .vigil directory
	if err := os.MkdirAll(vigilDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create .vigil directory: %v\n", err)
		os.Exit(1)
	}

	// Create .vigil/.gitignore
	gitignorePath := filepath.Join(vigilDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(vigilGitignore()), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write .gitignore: %v\n", err)
	}

	// Create the scenario directory with an example to edit
	if err := os.MkdirAll(scenariosDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create scenario directory: %v\n", err)
		os.Exit(1)
	}
	examplePath := filepath.Join(scenariosDir, "example.yaml")
	if !fileExists(examplePath) {
		if err := os.WriteFile(examplePath, []byte(exampleScenario("example")), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to write example scenario: %v\n", err)
		}
	}

	fmt.Println()
	fmt.Println("Initialized vigil:")
	if svcConfig != nil {
		fmt.Printf("  Dev server: %s\n", svcConfig.Start)
	} else {
		fmt.Println("  Dev server: none (vigil probes for an already-running one)")
	}
	fmt.Printf("  Config: %s\n", configPath)
	fmt.Printf("  Scenarios: %s\n", scenariosDir)
	fmt.Printf("  Data dir: %s\n", vigilDir)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit verify/example.yaml to match your app")
	fmt.Println("  2. Run 'vigil check' to confirm the target resolves")
	fmt.Println("  3. Run 'vigil run' to execute the scenarios")
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	parallel := fs.Int("parallel", 0, "Max scenarios running at once (overrides config)")
	timeout := fs.Int("timeout", 0, "Whole-run timeout in seconds (overrides config)")
	headed := fs.Bool("headed", false, "Run the browser with a visible window")
	jsonOut := fs.Bool("json", false, "Print results as JSON instead of the summary")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: vigil run [scenario...] [options]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Options:")
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Examples:")
		fmt.Fprintln(os.Stderr, "  vigil run                     # Run every scenario")
		fmt.Fprintln(os.Stderr, "  vigil run login checkout      # Run two scenarios by name")
		fmt.Fprintln(os.Stderr, "  vigil run --parallel 4        # Up to 4 scenarios at once")
		fmt.Fprintln(os.Stderr, "  vigil run --headed login      # Watch the browser work")
	}

	// Scenario names may precede the flags
	var names []string
	var flagArgs []string
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			flagArgs = args[i:]
			break
		}
		names = append(names, arg)
	}
	fs.Parse(flagArgs)
	names = append(names, fs.Args()...)

	projectRoot := GetProjectRoot()
	cfg, err := LoadConfig(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *parallel > 0 {
		cfg.Config.Parallel = *parallel
	}
	if *timeout > 0 {
		cfg.Config.RunTimeout = *timeout
	}
	if *headed {
		cfg.Config.Browser.Headless = false
	}

	// Enforce environment readiness
	if issues := CheckReadiness(&cfg.Config, projectRoot); len(issues) > 0 {
		fmt.Fprintln(os.Stderr, "Error: project is not ready for vigil")
		fmt.Fprintln(os.Stderr, "")
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "  ✗ %s\n", issue)
		}
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Run 'vigil doctor' for a full environment check.")
		os.Exit(1)
	}

	// Environment warnings are soft: warn but don't block
	if warnings := CheckReadinessWarnings(&cfg.Config); len(warnings) > 0 {
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "  Warning: %s\n", w)
		}
		fmt.Fprintln(os.Stderr, "")
	}

	scenarios, err := DiscoverScenarios(cfg.ScenariosDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	scenarios, err = FilterScenarios(scenarios, names)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(scenarios) == 0 {
		fmt.Fprintf(os.Stderr, "No scenarios found in %s\n", cfg.Config.ScenariosDir)
		fmt.Fprintln(os.Stderr, "Run 'vigil init' to create an example scenario.")
		os.Exit(1)
	}

	ok, err := runSuite(cfg, scenarios, *jsonOut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

// cmdCheck resolves the target endpoint and reports it without
// opening a browser or touching any scenario.
func cmdCheck(args []string) {
	projectRoot := GetProjectRoot()
	cfg, err := LoadConfig(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hints := cfg.Config.Target.Hints
	fmt.Printf("Resolving target (%d hints, %ds window):\n", len(hints), cfg.Config.Target.WindowTimeout)
	for _, h := range hints {
		fmt.Printf("  - %s\n", h)
	}
	fmt.Println()

	resolver := NewResolver(cfg.Config.Target.Scheme, cfg.Config.Target.ProbeTimeoutDuration(), cfg.Config.Target.WindowTimeoutDuration())
	start := time.Now()
	endpoint, err := resolver.Resolve(context.Background(), hints)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		if len(cfg.Config.Services) > 0 {
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "check does not start services; 'vigil run' does.")
		}
		os.Exit(1)
	}

	fmt.Printf("✓ %s (resolved in %s)\n", endpoint.URL(), FormatDuration(time.Since(start)))
}

func cmdValidate(args []string) {
	var paths []string
	if len(args) > 0 {
		paths = args
	} else {
		projectRoot := GetProjectRoot()
		cfg, err := LoadConfig(projectRoot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		yamls, _ := filepath.Glob(filepath.Join(cfg.ScenariosDir(), "*.yaml"))
		ymls, _ := filepath.Glob(filepath.Join(cfg.ScenariosDir(), "*.yml"))
		paths = append(yamls, ymls...)
		sort.Strings(paths)
	}

	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "No scenario files to validate.")
		fmt.Fprintln(os.Stderr, "Run 'vigil init' to create an example.")
		os.Exit(1)
	}

	invalid := 0
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			fmt.Printf("✗ %s\n", path)
			fmt.Printf("  └─ %v\n", err)
			invalid++
			continue
		}
		fmt.Printf("✓ %s (%s, %d steps)\n", path, s.Name, len(s.Steps))
	}

	fmt.Println()
	if invalid > 0 {
		fmt.Printf("%d of %d files invalid.\n", invalid, len(paths))
		os.Exit(1)
	}
	fmt.Printf("All %d files valid.\n", len(paths))
}

func cmdList(args []string) {
	projectRoot := GetProjectRoot()
	cfg, err := LoadConfig(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	scenarios, err := DiscoverScenarios(cfg.ScenariosDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(scenarios) == 0 {
		fmt.Printf("No scenarios in %s\n", cfg.Config.ScenariosDir)
		fmt.Println("Run 'vigil init' to create an example.")
		return
	}

	fmt.Printf("Scenarios in %s:\n\n", cfg.Config.ScenariosDir)
	for _, s := range scenarios {
		plural := "steps"
		if len(s.Steps) == 1 {
			plural = "step"
		}
		fmt.Printf("  %s (%d %s)\n", s.Name, len(s.Steps), plural)
		if s.Description != "" {
			fmt.Printf("    └─ %s\n", s.Description)
		}
	}
	fmt.Printf("\n%d scenario(s). Run 'vigil run <name>' to run one.\n", len(scenarios))
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	runNum := fs.Int("run", 0, "Show specific run number (default: latest)")
	listRuns := fs.Bool("list", false, "List all runs with summary")
	tail := fs.Int("tail", 50, "Show last N events")
	follow := fs.Bool("follow", false, "Follow log in real-time")
	fs.BoolVar(follow, "f", false, "Follow log in real-time (shorthand)")
	eventType := fs.String("type", "", "Filter by event type")
	scenarioName := fs.String("scenario", "", "Filter by scenario name")
	jsonOutput := fs.Bool("json", false, "Output raw JSONL")
	summaryMode := fs.Bool("summary", false, "Show run summary only")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: vigil logs [options]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Options:")
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Examples:")
		fmt.Fprintln(os.Stderr, "  vigil logs                       # Latest run, last 50 events")
		fmt.Fprintln(os.Stderr, "  vigil logs --list                # List all runs")
		fmt.Fprintln(os.Stderr, "  vigil logs --run 2               # Show run #2")
		fmt.Fprintln(os.Stderr, "  vigil logs --follow              # Watch current run live")
		fmt.Fprintln(os.Stderr, "  vigil logs --type error          # Show only errors")
		fmt.Fprintln(os.Stderr, "  vigil logs --scenario login      # Events for one scenario")
		fmt.Fprintln(os.Stderr, "  vigil logs --summary             # Quick summary of latest run")
	}

	fs.Parse(args)

	projectRoot := GetProjectRoot()
	runs, err := ListRuns(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading logs: %v\n", err)
		os.Exit(1)
	}

	if len(runs) == 0 {
		fmt.Println("No logs found.")
		fmt.Println("Run 'vigil run' to create logs.")
		return
	}

	// --list mode: show all runs
	if *listRuns {
		fmt.Println("Runs:")
		fmt.Println()
		for _, run := range runs {
			status := "○"
			if run.Success != nil {
				if *run.Success {
					status = "✓"
				} else {
					status = "✗"
				}
			}

			duration := ""
			if run.EndTime != nil {
				d := run.EndTime.Sub(run.StartTime)
				duration = fmt.Sprintf(" (%s)", FormatDuration(d))
			}

			fmt.Printf("  %s Run #%d - %s%s\n", status, run.RunNumber,
				run.StartTime.Format("2006-01-02 15:04:05"), duration)
			if run.Summary != "" {
				fmt.Printf("    └─ %s\n", run.Summary)
			}
		}
		return
	}

	// Find the target run
	var targetRun *RunSummary
	if *runNum > 0 {
		for i := range runs {
			if runs[i].RunNumber == *runNum {
				targetRun = &runs[i]
				break
			}
		}
		if targetRun == nil {
			fmt.Fprintf(os.Stderr, "Run #%d not found\n", *runNum)
			os.Exit(1)
		}
	} else {
		// Default to latest run
		targetRun = &runs[0]
	}

	// --summary mode: show detailed summary
	if *summaryMode {
		printRunSummary(targetRun.LogPath)
		return
	}

	// --follow mode: tail the log file
	if *follow {
		followLog(targetRun.LogPath, *eventType, *scenarioName, *jsonOutput)
		return
	}

	// Default: show last N events
	printEvents(targetRun.LogPath, *tail, *eventType, *scenarioName, *jsonOutput)
}

func printRunSummary(logPath string) {
	summary, err := GetRunSummary(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading log: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Run #%d - %s\n", summary.RunNumber, summary.StartTime.Format("2006-01-02 15:04:05"))
	if summary.Duration != nil {
		fmt.Printf("Duration: %s\n", FormatDuration(*summary.Duration))
	}
	if summary.Success != nil {
		result := "FAILED"
		if *summary.Success {
			result = "PASSED"
		}
		fmt.Printf("Result: %s\n", result)
	}
	if summary.Result != "" {
		fmt.Printf("Summary: %s\n", summary.Result)
	}

	names := make([]string, 0, len(summary.Scenarios))
	for name := range summary.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println()
	fmt.Printf("Scenarios: %d total\n", len(names))
	for _, name := range names {
		sc := summary.Scenarios[name]
		status := "○"
		if sc.Success != nil {
			if *sc.Success {
				status = "✓"
			} else {
				status = "✗"
			}
		}
		detail := ""
		if sc.Duration != nil {
			detail = fmt.Sprintf(" (%d steps, %s)", sc.Steps, FormatDuration(*sc.Duration))
		} else if sc.Steps > 0 {
			detail = fmt.Sprintf(" (%d steps)", sc.Steps)
		}
		fmt.Printf("  %s %s%s\n", status, sc.Name, detail)
		if sc.FailedStep != "" {
			fmt.Printf("    └─ failed at step %q\n", sc.FailedStep)
		}
	}

	fmt.Println()
	fmt.Printf("Artifacts: %d\n", summary.Artifacts)
	fmt.Printf("Warnings: %d\n", summary.Warnings)
	fmt.Printf("Errors: %d\n", summary.Errors)
}

func printEvents(logPath string, tailN int, eventTypeFilter, scenarioFilter string, jsonOutput bool) {
	events, err := ReadEvents(logPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading log: %v\n", err)
		os.Exit(1)
	}

	// Apply filters
	var filtered []Event
	for _, e := range events {
		if eventTypeFilter != "" && string(e.Type) != eventTypeFilter {
			continue
		}
		if scenarioFilter != "" && e.Scenario != scenarioFilter {
			continue
		}
		filtered = append(filtered, e)
	}

	// Take last N
	if len(filtered) > tailN {
		filtered = filtered[len(filtered)-tailN:]
	}

	for _, e := range filtered {
		if jsonOutput {
			data, _ := json.Marshal(e)
			fmt.Println(string(data))
		} else {
			printEvent(&e)
		}
	}
}

func printEvent(e *Event) {
	timestamp := e.Timestamp.Format("15:04:05")

	// Format based on event type
	switch e.Type {
	case EventRunStart:
		count := ""
		if n, ok := e.Data["scenarios"].(float64); ok {
			count = fmt.Sprintf(": %d scenario(s)", int(n))
		}
		fmt.Printf("[%s] === Run started%s ===\n", timestamp, count)

	case EventRunEnd:
		result := "failed"
		if e.Success != nil && *e.Success {
			result = "success"
		}
		fmt.Printf("[%s] === Run ended: %s ===\n", timestamp, result)
		if e.Message != "" {
			fmt.Printf("         %s\n", e.Message)
		}

	case EventScenarioStart:
		steps := ""
		if n, ok := e.Data["steps"].(float64); ok {
			steps = fmt.Sprintf(" (%d steps)", int(n))
		}
		fmt.Printf("[%s] ─── Scenario: %s%s ───\n", timestamp, e.Scenario, steps)

	case EventScenarioEnd:
		status := "✗"
		if e.Success != nil && *e.Success {
			status = "✓"
		}
		verdict, _ := e.Data["status"].(string)
		duration := ""
		if e.Duration != nil {
			duration = fmt.Sprintf(" (%s)", FormatDuration(time.Duration(*e.Duration)))
		}
		fmt.Printf("[%s] %s Scenario %s: %s%s\n", timestamp, status, e.Scenario, verdict, duration)
		if failed, ok := e.Data["failed_step"].(string); ok && failed != "" {
			fmt.Printf("         └─ failed at step %q\n", failed)
		}

	case EventResolveStart:
		hints := ""
		if n, ok := e.Data["hints"].(float64); ok {
			hints = fmt.Sprintf(" (%d hints)", int(n))
		}
		fmt.Printf("[%s] → Resolving target%s [%s]\n", timestamp, hints, e.Scenario)

	case EventResolveEnd:
		if e.Success != nil && *e.Success {
			endpoint, _ := e.Data["endpoint"].(string)
			duration := ""
			if e.Duration != nil {
				duration = fmt.Sprintf(" (%s)", FormatDuration(time.Duration(*e.Duration)))
			}
			fmt.Printf("[%s] ✓ Resolved: %s%s\n", timestamp, endpoint, duration)
		} else {
			fmt.Printf("[%s] ✗ Resolution failed [%s]\n", timestamp, e.Scenario)
			if errMsg, ok := e.Data["error"].(string); ok {
				fmt.Printf("         %s\n", errMsg)
			}
		}

	case EventSessionOpen:
		endpoint, _ := e.Data["endpoint"].(string)
		fmt.Printf("[%s] → Browser session: %s [%s]\n", timestamp, endpoint, e.Scenario)

	case EventReadyWait:
		fmt.Printf("[%s] → Waiting for readiness [%s]\n", timestamp, e.Scenario)

	case EventReadyOK:
		duration := ""
		if e.Duration != nil {
			duration = fmt.Sprintf(" (%s)", FormatDuration(time.Duration(*e.Duration)))
		}
		fmt.Printf("[%s] ✓ Ready%s [%s]\n", timestamp, duration, e.Scenario)

	case EventStepStart:
		name, _ := e.Data["name"].(string)
		action, _ := e.Data["action"].(string)
		fmt.Printf("[%s]   → Step %d: %s [%s] (%s)\n", timestamp, e.Step, name, action, e.Scenario)

	case EventStepEnd:
		status := "✗"
		if e.Success != nil && *e.Success {
			status = "✓"
		}
		name, _ := e.Data["name"].(string)
		duration := ""
		if e.Duration != nil {
			duration = fmt.Sprintf(" (%s)", FormatDuration(time.Duration(*e.Duration)))
		}
		fmt.Printf("[%s]   %s Step %d: %s%s\n", timestamp, status, e.Step, name, duration)
		if e.Message != "" {
			fmt.Printf("         %s\n", e.Message)
		}

	case EventStateChange:
		from, _ := e.Data["from"].(string)
		to, _ := e.Data["to"].(string)
		fmt.Printf("[%s] ↔ State: %s → %s [%s]\n", timestamp, from, to, e.Scenario)

	case EventCapture:
		kind, _ := e.Data["kind"].(string)
		path, _ := e.Data["path"].(string)
		fmt.Printf("[%s]   ◆ %s: %s\n", timestamp, kind, path)

	case EventServiceStart:
		name, _ := e.Data["name"].(string)
		fmt.Printf("[%s] → Service starting: %s\n", timestamp, name)

	case EventServiceReady:
		name, _ := e.Data["name"].(string)
		duration := ""
		if e.Duration != nil {
			duration = fmt.Sprintf(" (%s)", FormatDuration(time.Duration(*e.Duration)))
		}
		fmt.Printf("[%s] ✓ Service ready: %s%s\n", timestamp, name, duration)

	case EventServiceRestart:
		name, _ := e.Data["name"].(string)
		status := "✗"
		if e.Success != nil && *e.Success {
			status = "✓"
		}
		fmt.Printf("[%s] %s Service restarted: %s\n", timestamp, status, name)

	case EventServiceStop:
		name, _ := e.Data["name"].(string)
		fmt.Printf("[%s] → Service stopped: %s\n", timestamp, name)

	case EventWarning:
		fmt.Printf("[%s] ! Warning: %s\n", timestamp, e.Message)

	case EventError:
		fmt.Printf("[%s] ✗ Error: %s\n", timestamp, e.Message)
		if errMsg, ok := e.Data["error"].(string); ok {
			fmt.Printf("         %s\n", errMsg)
		}

	default:
		fmt.Printf("[%s] %s", timestamp, e.Type)
		if e.Scenario != "" {
			fmt.Printf(" [%s]", e.Scenario)
		}
		if e.Message != "" {
			fmt.Printf(": %s", e.Message)
		}
		fmt.Println()
	}
}

func followLog(logPath, eventTypeFilter, scenarioFilter string, jsonOutput bool) {
	file, err := os.Open(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	// Seek to end
	file.Seek(0, io.SeekEnd)

	fmt.Printf("Following %s (Ctrl+C to stop)\n\n", logPath)

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		// Apply filters
		if eventTypeFilter != "" && string(event.Type) != eventTypeFilter {
			continue
		}
		if scenarioFilter != "" && event.Scenario != scenarioFilter {
			continue
		}

		if jsonOutput {
			fmt.Println(line)
		} else {
			printEvent(&event)
		}
	}
}

func cmdDoctor(args []string) {
	projectRoot := GetProjectRoot()
	issues := 0

	fmt.Println("Vigil Environment Check")
	fmt.Println()

	// Check vigil.config.json
	cfg, err := LoadConfig(projectRoot)
	if err != nil {
		fmt.Printf("✗ vigil.config.json: %v\n", err)
		issues++
	} else {
		fmt.Printf("✓ vigil.config.json found\n")
	}

	// Check browser binary
	if err == nil && cfg.Config.Browser.ExecutablePath != "" {
		if fileExists(cfg.Config.Browser.ExecutablePath) {
			fmt.Printf("✓ Browser: %s\n", cfg.Config.Browser.ExecutablePath)
		} else {
			fmt.Printf("✗ Browser not found at %s\n", cfg.Config.Browser.ExecutablePath)
			issues++
		}
	} else if bin := findBrowserBinary(); bin != "" {
		fmt.Printf("✓ Browser: %s\n", bin)
	} else {
		fmt.Printf("✗ No Chrome or Chromium found in PATH\n")
		issues++
	}

	// Check sh
	if isCommandAvailable("sh") {
		fmt.Printf("✓ sh available\n")
	} else {
		fmt.Printf("✗ sh not found\n")
		issues++
	}

	// Check .vigil directory
	vigilDir := filepath.Join(projectRoot, ".vigil")
	if fileExists(vigilDir) {
		fmt.Printf("✓ .vigil directory exists\n")

		testFile := filepath.Join(vigilDir, ".write-test")
		if f, writeErr := os.Create(testFile); writeErr != nil {
			fmt.Printf("✗ .vigil directory not writable\n")
			issues++
		} else {
			f.Close()
			os.Remove(testFile)
			fmt.Printf("✓ .vigil directory writable\n")
		}
	} else {
		fmt.Printf("○ .vigil directory: not found (run 'vigil init')\n")
	}

	if err == nil {
		// Check scenarios
		scenarios, discErr := DiscoverScenarios(cfg.ScenariosDir())
		switch {
		case discErr != nil:
			fmt.Printf("✗ Scenarios: %v\n", discErr)
			issues++
		case len(scenarios) == 0:
			fmt.Printf("○ Scenarios: none in %s (run 'vigil init')\n", cfg.Config.ScenariosDir)
		default:
			fmt.Printf("✓ Scenarios: %d in %s\n", len(scenarios), cfg.Config.ScenariosDir)
		}

		// Check endpoint hints
		fmt.Printf("○ Target: %d hint(s), run 'vigil check' to probe them\n", len(cfg.Config.Target.Hints))

		// Check service start commands
		for _, svc := range cfg.Config.Services {
			if svc.Start == "" {
				continue
			}
			base := extractBaseCommand(svc.Start)
			if base != "" && isCommandAvailable(base) {
				fmt.Printf("✓ Service '%s': %s available\n", svc.Name, base)
			} else {
				fmt.Printf("✗ Service '%s': %s not found in PATH\n", svc.Name, base)
				issues++
			}
		}
	}

	// Framework detection (informational)
	if info := DetectFramework(projectRoot); info != nil {
		fmt.Printf("○ Detected framework: %s (port %d)\n", info.Name, info.Port)
	}

	// Check lock status
	lock, _ := ReadLockStatus(projectRoot)
	if lock != nil {
		fmt.Println()
		if isProcessAlive(lock.PID) {
			fmt.Printf("! vigil is currently running (PID %d, %d scenarios)\n", lock.PID, lock.Scenarios)
		} else {
			fmt.Printf("○ Stale lock found (PID %d no longer running)\n", lock.PID)
		}
	}

	fmt.Println()
	if issues > 0 {
		fmt.Printf("%d issue(s) found.\n", issues)
		os.Exit(1)
	} else {
		fmt.Println("All checks passed.")
	}
}
