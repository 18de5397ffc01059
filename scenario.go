package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Step actions
const (
	ActionNavigate  = "navigate"
	ActionWaitReady = "waitReady"
	ActionClick     = "click"
	ActionFill      = "fill"
	ActionPress     = "press"
	ActionFocus     = "focus"
	ActionAssert    = "assert"
	ActionCapture   = "capture"
)

// Expectation kinds
const (
	ExpectVisible      = "visible"
	ExpectAbsent       = "absent"
	ExpectAttrEquals   = "attrEquals"
	ExpectTextContains = "textContains"
	ExpectCountCompare = "countCompare"
)

// Capture kinds
const (
	CaptureScreenshot = "screenshot"
	CaptureDOM        = "dom"
	CaptureConsole    = "console"
)

// knownKeys are the named keys accepted by press steps.
var knownKeys = map[string]bool{
	"Enter": true, "Tab": true, "Escape": true, "Backspace": true,
	"Delete": true, "Space": true, "Home": true, "End": true,
	"PageUp": true, "PageDown": true,
	"ArrowUp": true, "ArrowDown": true, "ArrowLeft": true, "ArrowRight": true,
}

// geometryPicks are the accepted geometry selection modes.
var geometryPicks = map[string]bool{
	"rightmost": true, "leftmost": true, "topmost": true,
	"bottommost": true, "largest": true,
}

// countOps are the accepted countCompare operators.
var countOps = map[string]bool{
	"eq": true, "ne": true, "lt": true, "le": true, "gt": true, "ge": true,
}

// Duration is a time.Duration that unmarshals from YAML duration
// strings like "10s" or "750ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration %q must not be negative", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Scenario is one verification flow against the target application.
// Each scenario runs in its own browser session and owns its own
// artifact namespace; scenarios never share state.
type Scenario struct {
	// Name uniquely identifies the scenario. It becomes the artifact
	// directory name, so keep it filesystem-friendly.
	Name string `yaml:"name"`

	// Description explains what the scenario verifies.
	Description string `yaml:"description,omitempty"`

	// Path is the initial page to open, relative to the resolved
	// endpoint (default "/").
	Path string `yaml:"path,omitempty"`

	// Target optionally overrides the configured endpoint hints for
	// this scenario only.
	Target []EndpointHint `yaml:"target,omitempty"`

	// Readiness optionally overrides the configured readiness policy
	// applied after the initial navigation.
	Readiness *ReadinessPolicy `yaml:"readiness,omitempty"`

	// Steps run strictly in order. The first failed step aborts the
	// scenario; later steps are never attempted.
	Steps []Step `yaml:"steps"`

	// SourcePath is the file this scenario was loaded from.
	SourcePath string `yaml:"-"`
}

// Step is a single instruction within a scenario.
type Step struct {
	Name   string `yaml:"name"`
	Action string `yaml:"action"`

	// URL is the navigation target for navigate steps. Relative URLs
	// resolve against the scenario's endpoint.
	URL string `yaml:"url,omitempty"`

	// Target is the locator strategy chain, tried in declared order.
	Target []Strategy `yaml:"target,omitempty"`

	// Text is the replacement content for fill steps.
	Text string `yaml:"text,omitempty"`

	// Key is the key to dispatch for press steps: a named key
	// ("Enter", "Tab", "ArrowDown", ...) or a single character.
	Key string `yaml:"key,omitempty"`

	// Expect is the expectation evaluated by assert steps.
	Expect *Expectation `yaml:"expect,omitempty"`

	// Kind and Label configure capture steps.
	Kind  string `yaml:"kind,omitempty"`
	Label string `yaml:"label,omitempty"`

	// Soft makes a failed assertion record its mismatch and continue
	// instead of aborting the scenario.
	Soft bool `yaml:"soft,omitempty"`

	// Skip records the step as skipped without executing it.
	Skip bool `yaml:"skip,omitempty"`

	// Timeout bounds this step (default from config stepTimeout).
	Timeout Duration `yaml:"timeout,omitempty"`

	// Retry controls re-resolution after element detachment.
	Retry *RetryPolicy `yaml:"retry,omitempty"`

	// Readiness is the signal set for waitReady steps.
	Readiness *ReadinessPolicy `yaml:"readiness,omitempty"`
}

// Strategy is one entry in a locator chain. Exactly one of Role,
// Label, Text, CSS, or Geometry must be set.
type Strategy struct {
	Role     *RoleQuery     `yaml:"role,omitempty"`
	Label    string         `yaml:"label,omitempty"`
	Text     string         `yaml:"text,omitempty"`
	CSS      string         `yaml:"css,omitempty"`
	Geometry *GeometryQuery `yaml:"geometry,omitempty"`

	// Timeout bounds this strategy's attempts; unset means an even
	// share of the step budget.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// RoleQuery matches by accessibility role and accessible name.
type RoleQuery struct {
	Role string `yaml:"role"`
	Name string `yaml:"name,omitempty"`
}

// GeometryQuery picks an interactive element by position or size.
// Pick is one of rightmost, leftmost, topmost, bottommost, largest.
// Within optionally narrows the census to a CSS selector.
type GeometryQuery struct {
	Pick   string `yaml:"pick"`
	Within string `yaml:"within,omitempty"`
}

// Expectation describes a condition an assert step checks.
type Expectation struct {
	Kind string `yaml:"kind"`

	// Attr and Value serve attrEquals.
	Attr  string `yaml:"attr,omitempty"`
	Value string `yaml:"value,omitempty"`

	// Text serves textContains.
	Text string `yaml:"text,omitempty"`

	// Op and Count serve countCompare (eq, ne, lt, le, gt, ge).
	Op    string `yaml:"op,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// RetryPolicy bounds re-resolution after an element detaches mid-action.
type RetryPolicy struct {
	MaxAttempts int      `yaml:"maxAttempts,omitempty"`
	Backoff     Duration `yaml:"backoff,omitempty"`
}

// Kind returns which strategy field is set, or "" when the entry is
// empty or over-specified.
func (s *Strategy) Kind() string {
	var kind string
	n := 0
	if s.Role != nil {
		kind = "role"
		n++
	}
	if s.Label != "" {
		kind = "label"
		n++
	}
	if s.Text != "" {
		kind = "text"
		n++
	}
	if s.CSS != "" {
		kind = "css"
		n++
	}
	if s.Geometry != nil {
		kind = "geometry"
		n++
	}
	if n != 1 {
		return ""
	}
	return kind
}

// Confidence maps the strategy kind to a confidence grade. Geometry
// picks are structural guesses, so they grade low.
func (s *Strategy) Confidence() string {
	switch s.Kind() {
	case "role", "label":
		return "high"
	case "text", "css":
		return "medium"
	case "geometry":
		return "low"
	}
	return ""
}

// String renders the strategy for diagnostics and logs.
func (s *Strategy) String() string {
	switch s.Kind() {
	case "role":
		if s.Role.Name != "" {
			return fmt.Sprintf("role=%s[name=%q]", s.Role.Role, s.Role.Name)
		}
		return fmt.Sprintf("role=%s", s.Role.Role)
	case "label":
		return fmt.Sprintf("label=%q", s.Label)
	case "text":
		return fmt.Sprintf("text~%q", s.Text)
	case "css":
		return fmt.Sprintf("css=%q", s.CSS)
	case "geometry":
		if s.Geometry.Within != "" {
			return fmt.Sprintf("geometry=%s[within=%q]", s.Geometry.Pick, s.Geometry.Within)
		}
		return fmt.Sprintf("geometry=%s", s.Geometry.Pick)
	}
	return "invalid"
}

// String renders the expectation for diagnostics and summaries.
func (e *Expectation) String() string {
	switch e.Kind {
	case ExpectVisible:
		return "element visible"
	case ExpectAbsent:
		return "element absent"
	case ExpectAttrEquals:
		return fmt.Sprintf("attribute %q == %q", e.Attr, e.Value)
	case ExpectTextContains:
		return fmt.Sprintf("text contains %q", e.Text)
	case ExpectCountCompare:
		return fmt.Sprintf("count %s %d", e.Op, e.Count)
	}
	return e.Kind
}

// LoadScenario reads and validates one scenario YAML file.
// Unknown fields are rejected so typos fail loudly instead of
// silently dropping a step attribute.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	scenario.SourcePath = path

	if err := ValidateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", filepath.Base(path), err)
	}

	return &scenario, nil
}

// DiscoverScenarios loads every .yaml/.yml file in dir, sorted by
// filename. Duplicate scenario names across files are an error since
// the name keys the artifact namespace.
func DiscoverScenarios(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("scenario directory %s not found\n\nRun 'vigil init' to create it", dir)
		}
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	var scenarios []*Scenario
	seen := make(map[string]string)
	for _, name := range files {
		s, err := LoadScenario(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("duplicate scenario name %q in %s (already defined in %s)", s.Name, name, prev)
		}
		seen[s.Name] = name
		scenarios = append(scenarios, s)
	}

	return scenarios, nil
}

// FilterScenarios keeps only the named scenarios, in discovery order.
// Unknown names are an error.
func FilterScenarios(scenarios []*Scenario, names []string) ([]*Scenario, error) {
	if len(names) == 0 {
		return scenarios, nil
	}

	byName := make(map[string]*Scenario, len(scenarios))
	for _, s := range scenarios {
		byName[s.Name] = s
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("unknown scenario %q (run 'vigil list' to see available scenarios)", name)
		}
		wanted[name] = true
	}

	var out []*Scenario
	for _, s := range scenarios {
		if wanted[s.Name] {
			out = append(out, s)
		}
	}
	return out, nil
}

// ValidateScenario checks a scenario for structural problems before
// any browser work starts.
func ValidateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(s.Name, "/\\") {
		return fmt.Errorf("name %q must not contain path separators", s.Name)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if err := ValidateHints(s.Target); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if s.Readiness != nil {
		if err := validateReadiness(s.Readiness); err != nil {
			return fmt.Errorf("readiness: %w", err)
		}
	}

	seen := make(map[string]int)
	for i := range s.Steps {
		step := &s.Steps[i]
		if err := validateStep(i, step); err != nil {
			return err
		}
		if prev, dup := seen[step.Name]; dup {
			return fmt.Errorf("steps[%d]: duplicate step name %q (steps[%d] has the same name)", i, step.Name, prev)
		}
		seen[step.Name] = i
	}

	return nil
}

// validateStep checks a single step's action-specific requirements.
func validateStep(i int, step *Step) error {
	if step.Name == "" {
		return fmt.Errorf("steps[%d]: name is required", i)
	}

	switch step.Action {
	case ActionNavigate:
		if step.URL == "" {
			return fmt.Errorf("steps[%d] (%s): navigate requires url", i, step.Name)
		}

	case ActionWaitReady:
		if step.Readiness != nil {
			if err := validateReadiness(step.Readiness); err != nil {
				return fmt.Errorf("steps[%d] (%s): %w", i, step.Name, err)
			}
		}

	case ActionClick, ActionFocus:
		if err := requireTarget(i, step); err != nil {
			return err
		}

	case ActionFill:
		if err := requireTarget(i, step); err != nil {
			return err
		}
		if step.Text == "" {
			return fmt.Errorf("steps[%d] (%s): fill requires text", i, step.Name)
		}

	case ActionPress:
		if err := requireTarget(i, step); err != nil {
			return err
		}
		if step.Key == "" {
			return fmt.Errorf("steps[%d] (%s): press requires key", i, step.Name)
		}
		if !knownKeys[step.Key] && len([]rune(step.Key)) != 1 {
			return fmt.Errorf("steps[%d] (%s): unknown key %q", i, step.Name, step.Key)
		}

	case ActionAssert:
		if step.Expect == nil {
			return fmt.Errorf("steps[%d] (%s): assert requires expect", i, step.Name)
		}
		if err := requireTarget(i, step); err != nil {
			return err
		}
		if err := validateExpectation(i, step.Name, step.Expect); err != nil {
			return err
		}

	case ActionCapture:
		switch step.Kind {
		case CaptureScreenshot, CaptureDOM, CaptureConsole:
		case "":
			return fmt.Errorf("steps[%d] (%s): capture requires kind (screenshot, dom, or console)", i, step.Name)
		default:
			return fmt.Errorf("steps[%d] (%s): unknown capture kind %q", i, step.Name, step.Kind)
		}

	case "":
		return fmt.Errorf("steps[%d] (%s): action is required", i, step.Name)

	default:
		return fmt.Errorf("steps[%d] (%s): unknown action %q", i, step.Name, step.Action)
	}

	for j := range step.Target {
		if err := validateStrategy(i, j, step.Name, &step.Target[j]); err != nil {
			return err
		}
	}

	if step.Retry != nil && step.Retry.MaxAttempts < 0 {
		return fmt.Errorf("steps[%d] (%s): retry.maxAttempts must not be negative", i, step.Name)
	}

	return nil
}

func requireTarget(i int, step *Step) error {
	if len(step.Target) == 0 {
		return fmt.Errorf("steps[%d] (%s): %s requires a target locator chain", i, step.Name, step.Action)
	}
	return nil
}

// validateStrategy enforces the one-of shape of a chain entry.
func validateStrategy(stepIdx, idx int, stepName string, st *Strategy) error {
	if st.Kind() == "" {
		return fmt.Errorf("steps[%d] (%s): target[%d] must set exactly one of role, label, text, css, geometry", stepIdx, stepName, idx)
	}
	if st.Role != nil && st.Role.Role == "" {
		return fmt.Errorf("steps[%d] (%s): target[%d].role.role is required", stepIdx, stepName, idx)
	}
	if st.Geometry != nil && !geometryPicks[st.Geometry.Pick] {
		return fmt.Errorf("steps[%d] (%s): target[%d].geometry.pick must be one of rightmost, leftmost, topmost, bottommost, largest", stepIdx, stepName, idx)
	}
	return nil
}

// validateExpectation checks kind-specific required fields.
func validateExpectation(stepIdx int, stepName string, e *Expectation) error {
	switch e.Kind {
	case ExpectVisible, ExpectAbsent:

	case ExpectAttrEquals:
		if e.Attr == "" {
			return fmt.Errorf("steps[%d] (%s): attrEquals requires attr", stepIdx, stepName)
		}

	case ExpectTextContains:
		if e.Text == "" {
			return fmt.Errorf("steps[%d] (%s): textContains requires text", stepIdx, stepName)
		}

	case ExpectCountCompare:
		if e.Op == "" {
			return fmt.Errorf("steps[%d] (%s): countCompare requires op", stepIdx, stepName)
		}
		if !countOps[e.Op] {
			return fmt.Errorf("steps[%d] (%s): unknown op %q (use eq, ne, lt, le, gt, ge)", stepIdx, stepName, e.Op)
		}
		if e.Count < 0 {
			return fmt.Errorf("steps[%d] (%s): countCompare count must not be negative", stepIdx, stepName)
		}

	case "":
		return fmt.Errorf("steps[%d] (%s): expect.kind is required", stepIdx, stepName)

	default:
		return fmt.Errorf("steps[%d] (%s): unknown expectation kind %q", stepIdx, stepName, e.Kind)
	}
	return nil
}
