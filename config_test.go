package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(ConfigPath(dir), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestFindGitRoot(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	subDir := filepath.Join(dir, "sub", "deep")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}

	if root := findGitRoot(subDir); root != dir {
		t.Errorf("expected %s, got %s", dir, root)
	}
}

func TestFindGitRoot_NoGit(t *testing.T) {
	dir := t.TempDir()
	if root := findGitRoot(dir); root != dir {
		t.Errorf("expected %s, got %s", dir, root)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"target": {"hints": [{"default": 5173}]}}`)

	rc, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := rc.Config

	if cfg.Target.Scheme != "http" {
		t.Errorf("expected scheme http, got %q", cfg.Target.Scheme)
	}
	if cfg.Target.ProbeTimeout != 2 || cfg.Target.WindowTimeout != 15 {
		t.Errorf("unexpected probe/window timeouts: %d/%d", cfg.Target.ProbeTimeout, cfg.Target.WindowTimeout)
	}
	if cfg.Readiness.Timeout != 10 || cfg.Readiness.Interval != 250 {
		t.Errorf("unexpected readiness defaults: %d/%d", cfg.Readiness.Timeout, cfg.Readiness.Interval)
	}
	if len(cfg.Readiness.Require) != 1 || cfg.Readiness.Require[0].Document != "interactive" {
		t.Errorf("expected the document-interactive default signal, got %+v", cfg.Readiness.Require)
	}
	if !cfg.Browser.Headless || cfg.Browser.Width != 1280 || cfg.Browser.Height != 900 {
		t.Errorf("unexpected browser defaults: %+v", cfg.Browser)
	}
	if cfg.Browser.ConsoleBuffer != 200 {
		t.Errorf("expected console buffer 200, got %d", cfg.Browser.ConsoleBuffer)
	}
	if cfg.Artifacts.Dir != filepath.Join(".vigil", "artifacts") {
		t.Errorf("unexpected artifacts dir: %s", cfg.Artifacts.Dir)
	}
	if cfg.ScenariosDir != "verify" {
		t.Errorf("unexpected scenarios dir: %s", cfg.ScenariosDir)
	}
	if cfg.Parallel != 1 || cfg.StepTimeout != 15 || cfg.RunTimeout != 600 {
		t.Errorf("unexpected run defaults: %d/%d/%d", cfg.Parallel, cfg.StepTimeout, cfg.RunTimeout)
	}
	if cfg.Logging == nil {
		t.Error("expected logging defaults to be filled in")
	}

	if rc.ScenariosDir() != filepath.Join(dir, "verify") {
		t.Errorf("unexpected resolved scenarios dir: %s", rc.ScenariosDir())
	}
	if rc.ArtifactsDir() != filepath.Join(dir, ".vigil", "artifacts") {
		t.Errorf("unexpected resolved artifacts dir: %s", rc.ArtifactsDir())
	}
}

func TestLoadConfig_NotFound(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "Run 'vigil init'") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"target": `)

	_, err := LoadConfig(dir)
	if err == nil || !strings.Contains(err.Error(), "invalid vigil.config.json") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_BadScheme(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"target": {"scheme": "ftp", "hints": [{"default": 5173}]}}`)

	_, err := LoadConfig(dir)
	if err == nil || !strings.Contains(err.Error(), "target.scheme must be") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_BadHintShape(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"target": {"hints": [{"default": 5173, "explicit": "localhost:3000"}]}}`)

	_, err := LoadConfig(dir)
	if err == nil || !strings.Contains(err.Error(), "target.hints[0] must set exactly one") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_ServiceValidation(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"target": {"hints": [{"default": 5173}]}, "services": [{"start": "npm run dev"}]}`)

	_, err := LoadConfig(dir)
	if err == nil || !strings.Contains(err.Error(), "services[0].name is required") {
		t.Errorf("unexpected error: %v", err)
	}

	writeConfig(t, dir, `{"target": {"hints": [{"default": 5173}]}, "services": [{"name": "dev"}]}`)
	_, err = LoadConfig(dir)
	if err == nil || !strings.Contains(err.Error(), "set at least one of start, ready, logFile") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_AbsolutizesLogfileHints(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"target": {"hints": [{"logfile": ".vigil/dev.log"}, {"default": 5173}]}}`)

	rc, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := filepath.Join(dir, ".vigil", "dev.log")
	if got := rc.Config.Target.Hints[0].Logfile; got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	if rc.Config.Target.Hints[1].Default != 5173 {
		t.Errorf("expected the port hint untouched, got %+v", rc.Config.Target.Hints[1])
	}
}

func TestLoadConfig_FallsBackToDetection(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"target": {}}`)

	rc, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Nothing recognizable in the project, so just the common ports.
	hints := rc.Config.Target.Hints
	if len(hints) != 3 {
		t.Fatalf("expected 3 fallback hints, got %d: %v", len(hints), hints)
	}
	for i, port := range []int{5173, 3000, 8080} {
		if hints[i].Default != port {
			t.Errorf("hint %d: expected default %d, got %+v", i, port, hints[i])
		}
	}
}

func TestLoadConfig_ConfiguredHintsSkipDetection(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"devDependencies": {"vite": "^5.0.0"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, dir, `{"target": {"hints": [{"explicit": "localhost:9000"}]}}`)

	rc, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rc.Config.Target.Hints) != 1 || rc.Config.Target.Hints[0].Explicit != "localhost:9000" {
		t.Errorf("expected the configured hint only, got %+v", rc.Config.Target.Hints)
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	err := WriteDefaultConfig(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(ConfigPath(dir))
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	var cfg VigilConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("config is not valid JSON: %v", err)
	}
	if cfg.Target.Scheme != "http" || cfg.ScenariosDir != "verify" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Services) != 0 {
		t.Errorf("expected no services, got %+v", cfg.Services)
	}

	// The written file must load cleanly.
	if _, err := LoadConfig(dir); err != nil {
		t.Errorf("default config does not round-trip: %v", err)
	}
}

func TestWriteDefaultConfig_ServiceLogfileBecomesFirstHint(t *testing.T) {
	dir := t.TempDir()
	svc := &ServiceConfig{
		Name:         "dev",
		Start:        "npm run dev",
		LogFile:      filepath.Join(".vigil", "dev.log"),
		ReadyTimeout: 30,
	}

	if err := WriteDefaultConfig(dir, svc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, _ := os.ReadFile(ConfigPath(dir))
	var cfg VigilConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("config is not valid JSON: %v", err)
	}

	if len(cfg.Services) != 1 || cfg.Services[0].Name != "dev" {
		t.Fatalf("expected the dev service, got %+v", cfg.Services)
	}
	if len(cfg.Target.Hints) == 0 || cfg.Target.Hints[0].Logfile != svc.LogFile {
		t.Errorf("expected the service log file as the first hint, got %+v", cfg.Target.Hints)
	}
}

func TestCheckReadiness_LogfileHintDirectory(t *testing.T) {
	dir := t.TempDir()
	cfg := &VigilConfig{
		ScenariosDir: "verify",
		Target: TargetConfig{Hints: []EndpointHint{
			{Logfile: filepath.Join(dir, "missing", "dev.log")},
		}},
	}

	issues := CheckReadiness(cfg, dir)
	found := false
	for _, issue := range issues {
		if strings.Contains(issue, "does not exist") && strings.Contains(issue, "dev.log") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a missing-directory issue, got %v", issues)
	}

	// Once the parent directory exists the issue goes away; the file
	// itself only appears when the service runs.
	if err := os.MkdirAll(filepath.Join(dir, "missing"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, issue := range CheckReadiness(cfg, dir) {
		if strings.Contains(issue, "dev.log") {
			t.Errorf("unexpected issue after creating the directory: %s", issue)
		}
	}
}

func TestCheckReadiness_MissingScenarios(t *testing.T) {
	dir := t.TempDir()
	cfg := &VigilConfig{ScenariosDir: "verify"}

	issues := CheckReadiness(cfg, dir)
	found := false
	for _, issue := range issues {
		if strings.Contains(issue, "no scenario files") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a missing-scenarios issue, got %v", issues)
	}
}

func TestCheckReadiness_ServiceCommandMissing(t *testing.T) {
	dir := t.TempDir()
	cfg := &VigilConfig{
		ScenariosDir: "verify",
		Services: []ServiceConfig{
			{Name: "dev", Start: "definitely-not-a-real-command-xyz run dev"},
		},
	}

	issues := CheckReadiness(cfg, dir)
	found := false
	for _, issue := range issues {
		if strings.Contains(issue, "'definitely-not-a-real-command-xyz' not found in PATH") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a missing-command issue, got %v", issues)
	}
}

func TestCheckReadinessWarnings_ParallelRestart(t *testing.T) {
	cfg := &VigilConfig{
		Parallel: 4,
		Services: []ServiceConfig{{Name: "dev", RestartBeforeRun: true}},
	}
	warnings := CheckReadinessWarnings(cfg)
	if len(warnings) != 1 || !strings.Contains(warnings[0], "restarts before runs while parallel") {
		t.Errorf("unexpected warnings: %v", warnings)
	}

	cfg.Parallel = 1
	if got := CheckReadinessWarnings(cfg); len(got) != 0 {
		t.Errorf("expected no warnings at parallel 1, got %v", got)
	}
}

func TestExtractBaseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"bun run dev", "bun"},
		{"./scripts/serve.sh --port 3000", "./scripts/serve.sh"},
		{"flask", "flask"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := extractBaseCommand(tt.in); got != tt.want {
			t.Errorf("extractBaseCommand(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestAbsolutizeHints(t *testing.T) {
	root := t.TempDir()
	in := []EndpointHint{
		{Logfile: ".vigil/dev.log"},
		{Logfile: "/var/log/dev.log"},
		{Default: 5173},
		{Explicit: "localhost:3000"},
	}

	out := absolutizeHints(root, in)
	if out[0].Logfile != filepath.Join(root, ".vigil", "dev.log") {
		t.Errorf("expected the relative path joined to the root, got %s", out[0].Logfile)
	}
	if out[1].Logfile != "/var/log/dev.log" {
		t.Errorf("expected the absolute path untouched, got %s", out[1].Logfile)
	}
	if out[2].Default != 5173 || out[3].Explicit != "localhost:3000" {
		t.Errorf("expected non-logfile hints untouched, got %+v", out[2:])
	}

	// The input slice must not be mutated.
	if in[0].Logfile != ".vigil/dev.log" {
		t.Errorf("input slice was mutated: %s", in[0].Logfile)
	}
}
