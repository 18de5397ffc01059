package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// TargetConfig configures how the app under verification is found.
// Hints are tried in order; see Resolver for the full contract.
type TargetConfig struct {
	Hints         []EndpointHint `json:"hints,omitempty"`
	Scheme        string         `json:"scheme,omitempty"`        // "http" or "https"
	ProbeTimeout  int            `json:"probeTimeout,omitempty"`  // seconds per probe
	WindowTimeout int            `json:"windowTimeout,omitempty"` // seconds for the whole resolution window
}

func (t *TargetConfig) ProbeTimeoutDuration() time.Duration {
	return time.Duration(t.ProbeTimeout) * time.Second
}

func (t *TargetConfig) WindowTimeoutDuration() time.Duration {
	return time.Duration(t.WindowTimeout) * time.Second
}

// ReadinessConfig is the config-file form of the default readiness
// policy. Scenarios may override it wholesale.
type ReadinessConfig struct {
	Timeout  int      `json:"timeout,omitempty"`  // seconds
	Interval int      `json:"interval,omitempty"` // milliseconds
	Require  []Signal `json:"require,omitempty"`
	AnyOf    []Signal `json:"anyOf,omitempty"`
}

// Policy converts the config form into the runtime policy.
func (r *ReadinessConfig) Policy() ReadinessPolicy {
	return ReadinessPolicy{
		Timeout:  Duration(time.Duration(r.Timeout) * time.Second),
		Interval: Duration(time.Duration(r.Interval) * time.Millisecond),
		Require:  r.Require,
		AnyOf:    r.AnyOf,
	}
}

// BrowserConfig configures the Chrome session
type BrowserConfig struct {
	Headless       bool   `json:"headless"`
	ExecutablePath string `json:"executablePath,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	ConsoleBuffer  int    `json:"consoleBuffer,omitempty"` // retained console entries per session
}

// ArtifactsConfig configures where evidence is written
type ArtifactsConfig struct {
	Dir string `json:"dir,omitempty"`
}

// ServiceConfig configures a managed service (e.g., dev server)
type ServiceConfig struct {
	Name             string `json:"name"`
	Start            string `json:"start,omitempty"`
	Ready            string `json:"ready,omitempty"` // URL to check
	ReadyTimeout     int    `json:"readyTimeout,omitempty"`
	LogFile          string `json:"logFile,omitempty"` // captured output, scannable by logfile hints
	RestartBeforeRun bool   `json:"restartBeforeRun,omitempty"`
}

// VigilConfig is the main configuration loaded from vigil.config.json
type VigilConfig struct {
	Target       TargetConfig    `json:"target"`
	Readiness    ReadinessConfig `json:"readiness,omitempty"`
	Browser      *BrowserConfig  `json:"browser,omitempty"`
	Artifacts    ArtifactsConfig `json:"artifacts,omitempty"`
	ScenariosDir string          `json:"scenarios,omitempty"`
	Parallel     int             `json:"parallel,omitempty"`
	StepTimeout  int             `json:"stepTimeout,omitempty"` // seconds per step
	RunTimeout   int             `json:"runTimeout,omitempty"`  // seconds for the whole run
	Services     []ServiceConfig `json:"services,omitempty"`
	Logging      *LoggingConfig  `json:"logging,omitempty"`
}

func (c *VigilConfig) StepTimeoutDuration() time.Duration {
	return time.Duration(c.StepTimeout) * time.Second
}

func (c *VigilConfig) RunTimeoutDuration() time.Duration {
	return time.Duration(c.RunTimeout) * time.Second
}

// ResolvedConfig is the fully resolved configuration
type ResolvedConfig struct {
	ProjectRoot string
	Config      VigilConfig
}

// ArtifactsDir returns the absolute artifacts root.
func (rc *ResolvedConfig) ArtifactsDir() string {
	return filepath.Join(rc.ProjectRoot, rc.Config.Artifacts.Dir)
}

// ScenariosDir returns the absolute scenario directory.
func (rc *ResolvedConfig) ScenariosDir() string {
	return filepath.Join(rc.ProjectRoot, rc.Config.ScenariosDir)
}

// ConfigPath returns the path to vigil.config.json
func ConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, "vigil.config.json")
}

// LoadConfig loads and validates vigil.config.json
func LoadConfig(projectRoot string) (*ResolvedConfig, error) {
	configPath := ConfigPath(projectRoot)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("vigil.config.json not found\n\nRun 'vigil init' to create one")
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg VigilConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid vigil.config.json: %w", err)
	}

	// Apply defaults
	if cfg.Target.Scheme == "" {
		cfg.Target.Scheme = "http"
	}
	if cfg.Target.ProbeTimeout <= 0 {
		cfg.Target.ProbeTimeout = 2
	}
	if cfg.Target.WindowTimeout <= 0 {
		cfg.Target.WindowTimeout = 15
	}
	if len(cfg.Target.Hints) == 0 {
		// No configured target: fall back to framework detection.
		cfg.Target.Hints = DetectHints(projectRoot)
	}
	cfg.Target.Hints = absolutizeHints(projectRoot, cfg.Target.Hints)

	if cfg.Readiness.Timeout <= 0 {
		cfg.Readiness.Timeout = 10
	}
	if cfg.Readiness.Interval <= 0 {
		cfg.Readiness.Interval = 250
	}
	if len(cfg.Readiness.Require) == 0 && len(cfg.Readiness.AnyOf) == 0 {
		cfg.Readiness.Require = []Signal{{Document: "interactive"}}
	}

	if cfg.Browser == nil {
		cfg.Browser = &BrowserConfig{Headless: true}
	}
	if cfg.Browser.Width <= 0 {
		cfg.Browser.Width = 1280
	}
	if cfg.Browser.Height <= 0 {
		cfg.Browser.Height = 900
	}
	if cfg.Browser.ConsoleBuffer <= 0 {
		cfg.Browser.ConsoleBuffer = 200
	}

	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = filepath.Join(".vigil", "artifacts")
	}
	if cfg.ScenariosDir == "" {
		cfg.ScenariosDir = "verify"
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 1
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 15
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 600
	}
	if cfg.Logging == nil {
		cfg.Logging = DefaultLoggingConfig()
	}

	// Apply service defaults
	for i := range cfg.Services {
		if cfg.Services[i].ReadyTimeout <= 0 {
			cfg.Services[i].ReadyTimeout = 30
		}
	}

	// Validate required fields
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &ResolvedConfig{
		ProjectRoot: projectRoot,
		Config:      cfg,
	}, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *VigilConfig) error {
	if cfg.Target.Scheme != "http" && cfg.Target.Scheme != "https" {
		return fmt.Errorf("target.scheme must be \"http\" or \"https\", got %q", cfg.Target.Scheme)
	}
	if err := ValidateHints(cfg.Target.Hints); err != nil {
		return fmt.Errorf("target.%w", err)
	}
	policy := cfg.Readiness.Policy()
	if err := validateReadiness(&policy); err != nil {
		return fmt.Errorf("readiness: %w", err)
	}
	for i, svc := range cfg.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d].name is required", i)
		}
		if svc.Start == "" && svc.Ready == "" && svc.LogFile == "" {
			return fmt.Errorf("services[%d] (%s): set at least one of start, ready, logFile", i, svc.Name)
		}
	}
	return nil
}

// findGitRoot finds the git root from a starting directory
func findGitRoot(start string) string {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

// GetProjectRoot returns the project root (git root or cwd)
func GetProjectRoot() string {
	cwd, _ := os.Getwd()
	return findGitRoot(cwd)
}

// isCommandAvailable checks if a command is available in PATH
func isCommandAvailable(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// browserBinaries are the executables tried when browser.executablePath
// is not set. Mirrors the allocator's own lookup order closely enough
// for preflight checks.
var browserBinaries = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless-shell",
}

// findBrowserBinary returns the first Chrome-family executable in PATH.
func findBrowserBinary() string {
	for _, name := range browserBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// extractBaseCommand returns the first word of a shell command string.
// e.g. "bun run dev" → "bun", "./scripts/serve.sh arg" → "./scripts/serve.sh"
func extractBaseCommand(cmdStr string) string {
	fields := strings.Fields(cmdStr)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// CheckReadiness validates that the project is ready for a run.
// Returns a list of issues. Empty list means ready.
func CheckReadiness(cfg *VigilConfig, projectRoot string) []string {
	var issues []string

	// A browser must be findable before anything else matters.
	if cfg.Browser != nil && cfg.Browser.ExecutablePath != "" {
		if !fileExists(cfg.Browser.ExecutablePath) {
			issues = append(issues, fmt.Sprintf("browser.executablePath: %s does not exist", cfg.Browser.ExecutablePath))
		}
	} else if findBrowserBinary() == "" {
		issues = append(issues, "no Chrome or Chromium found in PATH. Install one or set browser.executablePath.")
	}

	// Scenario files must exist somewhere discoverable.
	scenariosDir := filepath.Join(projectRoot, cfg.ScenariosDir)
	if names, err := filepath.Glob(filepath.Join(scenariosDir, "*.yaml")); err != nil || len(names) == 0 {
		more, _ := filepath.Glob(filepath.Join(scenariosDir, "*.yml"))
		if len(more) == 0 {
			issues = append(issues, fmt.Sprintf("no scenario files in %s. Run 'vigil init' to create an example.", cfg.ScenariosDir))
		}
	}

	// Check service start command binaries are available
	for _, svc := range cfg.Services {
		if svc.Start != "" {
			base := extractBaseCommand(svc.Start)
			if base != "" && !isCommandAvailable(base) {
				issues = append(issues, fmt.Sprintf("service '%s': '%s' not found in PATH (from: %s)", svc.Name, base, svc.Start))
			}
		}
	}

	// Logfile hints need an existing parent directory; the file itself
	// appears once the service runs. Paths are already absolute after
	// LoadConfig.
	for _, h := range cfg.Target.Hints {
		if h.Logfile == "" {
			continue
		}
		if dir := filepath.Dir(h.Logfile); !fileExists(dir) {
			issues = append(issues, fmt.Sprintf("logfile hint %s: directory %s does not exist", h.Logfile, dir))
		}
	}

	return issues
}

// absolutizeHints resolves relative logfile paths against the project
// root so resolution works regardless of the invocation directory.
func absolutizeHints(projectRoot string, hints []EndpointHint) []EndpointHint {
	out := make([]EndpointHint, len(hints))
	copy(out, hints)
	for i := range out {
		if out[i].Logfile != "" && !filepath.IsAbs(out[i].Logfile) {
			out[i].Logfile = filepath.Join(projectRoot, out[i].Logfile)
		}
	}
	return out
}

// CheckReadinessWarnings returns non-blocking warnings about the environment.
func CheckReadinessWarnings(cfg *VigilConfig) []string {
	var warnings []string
	if cfg.Parallel > 1 {
		for _, svc := range cfg.Services {
			if svc.RestartBeforeRun {
				warnings = append(warnings, fmt.Sprintf("service '%s' restarts before runs while parallel > 1; scenarios may race the restart", svc.Name))
				break
			}
		}
	}
	return warnings
}

// WriteDefaultConfig writes a default vigil.config.json. When svc is
// non-nil it is included in services; if it tees output to a log file,
// that file becomes the first endpoint hint so resolution reads the
// port straight from the dev server's own announcement.
func WriteDefaultConfig(projectRoot string, svc *ServiceConfig) error {
	hints := DetectHints(projectRoot)
	services := []ServiceConfig{}
	if svc != nil {
		services = append(services, *svc)
		if svc.LogFile != "" {
			hints = append([]EndpointHint{{Logfile: svc.LogFile}}, hints...)
		}
	}

	cfg := VigilConfig{
		Target: TargetConfig{
			Hints:         hints,
			Scheme:        "http",
			ProbeTimeout:  2,
			WindowTimeout: 15,
		},
		Readiness: ReadinessConfig{
			Timeout:  10,
			Interval: 250,
			Require:  []Signal{{Document: "interactive"}},
		},
		Browser: &BrowserConfig{
			Headless:      true,
			Width:         1280,
			Height:        900,
			ConsoleBuffer: 200,
		},
		Artifacts: ArtifactsConfig{
			Dir: filepath.Join(".vigil", "artifacts"),
		},
		ScenariosDir: "verify",
		Parallel:     1,
		StepTimeout:  15,
		RunTimeout:   600,
		Services:     services,
	}

	return AtomicWriteJSON(ConfigPath(projectRoot), cfg)
}
