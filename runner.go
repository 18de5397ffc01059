package main

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RunnerState tracks where a scenario run is in its lifecycle. Every
// transition is logged, which makes "it hung" bug reports answerable.
type RunnerState string

const (
	StateInit        RunnerState = "init"
	StateResolving   RunnerState = "resolving"
	StateSessionOpen RunnerState = "session_open"
	StateReady       RunnerState = "ready"
	StateRunning     RunnerState = "running"
	StateCompleted   RunnerState = "completed"
	StateAborted     RunnerState = "aborted"
)

// StepStatus is the recorded outcome of one step.
type StepStatus string

const (
	StepPassed  StepStatus = "passed"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// ScenarioStatus is the recorded outcome of one scenario.
type ScenarioStatus string

const (
	ScenarioPassed    ScenarioStatus = "passed"
	ScenarioFailed    ScenarioStatus = "failed"
	ScenarioCancelled ScenarioStatus = "cancelled"
)

// CancelledError marks a run stopped from outside (signal or run
// timeout), as opposed to a scenario failing on its own merits.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("run cancelled: %v", e.Err)
	}
	return "run cancelled"
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// errorKind maps an error to its taxonomy name for results, logs, and
// the run summary.
func errorKind(err error) string {
	if err == nil {
		return ""
	}
	var (
		resolution *ResolutionError
		ready      *ReadinessTimeoutError
		notFound   *NotFoundError
		ambiguous  *AmbiguousMatchError
		action     *ActionError
		artifact   *ArtifactError
		cancelled  *CancelledError
	)
	switch {
	case errors.As(err, &cancelled):
		return "Cancelled"
	case errors.As(err, &resolution):
		return "ResolutionError"
	case errors.As(err, &ready):
		return "ReadinessTimeout"
	case errors.As(err, &ambiguous):
		return "AmbiguousMatch"
	case errors.As(err, &notFound):
		return "NotFound"
	case errors.As(err, &action):
		return "ActionError"
	case errors.As(err, &artifact):
		return "ArtifactError"
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "Cancelled"
	}
	return "Error"
}

// StepResult records one executed (or skipped) step.
type StepResult struct {
	Index      int               `json:"index"`
	Name       string            `json:"name"`
	Action     string            `json:"action"`
	Status     StepStatus        `json:"status"`
	ErrorKind  string            `json:"errorKind,omitempty"`
	Error      string            `json:"error,omitempty"`
	Matched    string            `json:"matched,omitempty"`
	Confidence string            `json:"confidence,omitempty"`
	Outcome    *AssertionOutcome `json:"outcome,omitempty"`
	Artifacts  []Artifact        `json:"artifacts,omitempty"`
	Duration   time.Duration     `json:"durationNs"`
}

// ScenarioResult is the full record of one scenario run. When step k
// fails, Steps holds exactly the first k results; nothing after the
// failure was attempted, so nothing after it is reported.
type ScenarioResult struct {
	Scenario      string         `json:"scenario"`
	RunID         string         `json:"runId"`
	Status        ScenarioStatus `json:"status"`
	State         RunnerState    `json:"state"`
	Endpoint      string         `json:"endpoint,omitempty"`
	FailedStep    string         `json:"failedStep,omitempty"`
	ErrorKind     string         `json:"errorKind,omitempty"`
	Error         string         `json:"error,omitempty"`
	Steps         []StepResult   `json:"steps"`
	Artifacts     []Artifact     `json:"artifacts,omitempty"`
	ConsoleErrors int            `json:"consoleErrors"`
	Duration      time.Duration  `json:"durationNs"`
}

// stepSession is the page surface the step loop drives: the locator,
// action, assertion, readiness, and evidence seams plus navigation.
// *Session implements it against a live browser.
type stepSession interface {
	elementDriver
	stateReader
	signalProbe
	artifactSource
	Context() context.Context
	Endpoint() TargetEndpoint
	Navigate(ctx context.Context, url string) error
}

// ScenarioRunner drives one scenario through its lifecycle.
type ScenarioRunner struct {
	cfg      *ResolvedConfig
	scenario *Scenario
	logger   *RunLogger
	runID    string
	state    RunnerState
}

// NewScenarioRunner builds a runner for one scenario.
func NewScenarioRunner(cfg *ResolvedConfig, scenario *Scenario, logger *RunLogger, runID string) *ScenarioRunner {
	return &ScenarioRunner{
		cfg:      cfg,
		scenario: scenario,
		logger:   logger,
		runID:    runID,
		state:    StateInit,
	}
}

func (r *ScenarioRunner) setState(to RunnerState) {
	from := r.state
	r.state = to
	r.logger.StateChange(r.scenario.Name, string(from), string(to))
}

// Run executes the scenario: resolve the target, open a browser,
// wait for readiness, then walk the steps in order, aborting at the
// first hard failure. The session is closed on every exit path.
func (r *ScenarioRunner) Run(ctx context.Context) ScenarioResult {
	start := time.Now()
	cfg := &r.cfg.Config

	result := ScenarioResult{
		Scenario: r.scenario.Name,
		RunID:    r.runID,
	}

	r.logger.ScenarioStart(r.scenario.Name, len(r.scenario.Steps))

	recorder := NewRecorder(r.cfg.ArtifactsDir(), r.scenario.Name, r.runID)
	if err := recorder.Reset(); err != nil {
		r.logger.Warning(fmt.Sprintf("scenario %s: %v", r.scenario.Name, err))
	}

	// Resolve the target endpoint.
	r.setState(StateResolving)
	hints := cfg.Target.Hints
	if len(r.scenario.Target) > 0 {
		hints = absolutizeHints(r.cfg.ProjectRoot, r.scenario.Target)
	}
	r.logger.ResolveStart(r.scenario.Name, len(hints))
	resolver := NewResolver(cfg.Target.Scheme, cfg.Target.ProbeTimeoutDuration(), cfg.Target.WindowTimeoutDuration())
	resolveStart := time.Now()
	endpoint, err := resolver.Resolve(ctx, hints)
	if err != nil {
		r.logger.ResolveEnd(r.scenario.Name, "", time.Since(resolveStart).Nanoseconds(), err)
		return r.abort(ctx, &result, recorder, nil, start, err)
	}
	r.logger.ResolveEnd(r.scenario.Name, endpoint.URL(), time.Since(resolveStart).Nanoseconds(), nil)
	result.Endpoint = endpoint.URL()

	// Open the browser session.
	r.setState(StateSessionOpen)
	sess, err := OpenSession(ctx, cfg.Browser, endpoint)
	if err != nil {
		return r.abort(ctx, &result, recorder, nil, start, err)
	}
	defer sess.Close()
	r.logger.SessionOpen(r.scenario.Name, endpoint.URL())

	// Initial navigation, then the readiness gate.
	navCtx, cancelNav := context.WithTimeout(sess.Context(), cfg.StepTimeoutDuration())
	err = sess.Navigate(navCtx, endpoint.Page(r.scenario.Path))
	cancelNav()
	if err != nil {
		r.captureAbortEvidence(sess, recorder)
		return r.abort(ctx, &result, recorder, sess, start, err)
	}

	r.setState(StateReady)
	policy := cfg.Readiness.Policy()
	if r.scenario.Readiness != nil {
		policy = *r.scenario.Readiness
	}
	r.logger.ReadyWait(r.scenario.Name)
	readyStart := time.Now()
	if err := awaitReady(sess.Context(), sess, policy); err != nil {
		r.captureAbortEvidence(sess, recorder)
		return r.abort(ctx, &result, recorder, sess, start, err)
	}
	r.logger.ReadyOK(r.scenario.Name, time.Since(readyStart).Nanoseconds())

	// Walk the steps.
	r.setState(StateRunning)
	if !r.executeSteps(ctx, sess, recorder, &result) {
		return r.abort(ctx, &result, recorder, sess, start, nil)
	}

	r.setState(StateCompleted)
	result.Status = ScenarioPassed
	return r.finish(&result, recorder, sess, start)
}

// executeSteps walks the steps strictly in order, appending one
// result per executed or skipped step. The first failure stops the
// walk with the failure detail copied onto the scenario; steps after
// it are never attempted and never reported. Returns whether the
// walk completed without a hard failure.
func (r *ScenarioRunner) executeSteps(ctx context.Context, sess stepSession, rec *Recorder, result *ScenarioResult) bool {
	for i := range r.scenario.Steps {
		step := &r.scenario.Steps[i]
		stepResult := r.runStep(ctx, sess, rec, i+1, step)
		result.Steps = append(result.Steps, stepResult)

		if stepResult.Status == StepFailed {
			result.FailedStep = step.Name
			result.ErrorKind = stepResult.ErrorKind
			result.Error = stepResult.Error
			return false
		}
	}
	return true
}

// abort finalizes a failed or cancelled scenario. err is nil when a
// step already recorded the failure detail.
func (r *ScenarioRunner) abort(ctx context.Context, result *ScenarioResult, rec *Recorder, sess *Session, start time.Time, err error) ScenarioResult {
	r.setState(StateAborted)

	if ctx.Err() != nil {
		cancelErr := &CancelledError{Err: ctx.Err()}
		result.Status = ScenarioCancelled
		result.ErrorKind = errorKind(cancelErr)
		result.Error = cancelErr.Error()
		return r.finish(result, rec, sess, start)
	}

	result.Status = ScenarioFailed
	if err != nil {
		result.ErrorKind = errorKind(err)
		result.Error = err.Error()
	}
	return r.finish(result, rec, sess, start)
}

func (r *ScenarioRunner) finish(result *ScenarioResult, rec *Recorder, sess *Session, start time.Time) ScenarioResult {
	result.Duration = time.Since(start)
	result.State = r.state
	result.Artifacts = rec.Artifacts()
	if sess != nil {
		result.ConsoleErrors = sess.Console().ErrorCount()
	}
	if err := rec.WriteManifest(); err != nil {
		r.logger.Error("failed to write artifact manifest", err)
	}
	r.logger.ScenarioEnd(r.scenario.Name, string(result.Status), result.Duration.Nanoseconds(), result.FailedStep)
	return *result
}

// captureAbortEvidence records what the page looked like when a
// pre-step phase (navigation, readiness) failed. Step index 0 keeps
// these files sorted ahead of step evidence.
func (r *ScenarioRunner) captureAbortEvidence(sess stepSession, rec *Recorder) {
	ctx, cancel := context.WithTimeout(sess.Context(), 5*time.Second)
	defer cancel()
	_, errs := rec.CaptureFailure(ctx, sess, 0)
	for _, err := range errs {
		r.logger.Error("artifact capture failed", err)
	}
}

// stepBudget picks the timeout governing one step. waitReady steps
// default to their policy's timeout rather than the generic step
// budget; a readiness wait is expected to be slow.
func (r *ScenarioRunner) stepBudget(step *Step, policy *ReadinessPolicy) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout.Std()
	}
	if step.Action == ActionWaitReady {
		t := defaultReadyTimeout
		if policy != nil && policy.Timeout > 0 {
			t = policy.Timeout.Std()
		}
		return t + 500*time.Millisecond
	}
	return r.cfg.Config.StepTimeoutDuration()
}

// runStep executes one step and records its result. Failed steps
// always get an evidence capture before the scenario aborts.
func (r *ScenarioRunner) runStep(ctx context.Context, sess stepSession, rec *Recorder, index int, step *Step) (res StepResult) {
	res = StepResult{Index: index, Name: step.Name, Action: step.Action}

	if step.Skip {
		res.Status = StepSkipped
		r.logger.StepEnd(r.scenario.Name, index, step.Name, true, 0, "skipped")
		return res
	}

	r.logger.StepStart(r.scenario.Name, index, step.Name, step.Action)
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		r.logger.StepEnd(r.scenario.Name, index, step.Name, res.Status != StepFailed, res.Duration.Nanoseconds(), res.Error)
	}()

	var policy *ReadinessPolicy
	if step.Action == ActionWaitReady {
		p := r.cfg.Config.Readiness.Policy()
		if step.Readiness != nil {
			p = *step.Readiness
		}
		policy = &p
	}

	budget := r.stepBudget(step, policy)
	stepCtx, cancel := context.WithTimeout(sess.Context(), budget)
	defer cancel()

	var err error
	switch step.Action {
	case ActionNavigate:
		err = sess.Navigate(stepCtx, sess.Endpoint().Page(step.URL))

	case ActionWaitReady:
		err = awaitReady(stepCtx, sess, *policy)

	case ActionClick, ActionFill, ActionPress, ActionFocus:
		var handle *ElementHandle
		handle, err = locate(stepCtx, sess, step.Target, budget)
		if err == nil {
			res.Matched = handle.Describe()
			res.Confidence = handle.Confidence
			if handle.Confidence == "low" {
				r.logger.Warning(fmt.Sprintf("scenario %s step %q: resolved by geometry fallback (%s)", r.scenario.Name, step.Name, handle.Strategy.String()))
			}
			handle, err = performAction(stepCtx, sess, handle, step)
			if err == nil {
				res.Matched = handle.Describe()
				res.Confidence = handle.Confidence
			}
		}

	case ActionAssert:
		outcome, aerr := assertState(stepCtx, sess, step.Target, step.Expect, budget)
		res.Outcome = &outcome
		if aerr != nil {
			err = aerr
			break
		}
		if !outcome.Holds {
			if step.Soft {
				r.logger.Warning(fmt.Sprintf("scenario %s step %q: soft assertion mismatch: expected %s, got %s", r.scenario.Name, step.Name, outcome.Expected, outcome.Actual))
				r.captureOptional(sess, rec, &res, index, "soft_mismatch")
				res.Status = StepPassed
				return res
			}
			res.Status = StepFailed
			res.ErrorKind = "AssertionMismatch"
			res.Error = fmt.Sprintf("expected %s, got %s", outcome.Expected, outcome.Actual)
			r.captureStepFailure(sess, rec, &res, index)
			return res
		}

	case ActionCapture:
		label := step.Label
		if label == "" {
			label = step.Name
		}
		art, cerr := rec.Capture(stepCtx, sess, step.Kind, index, label)
		if cerr != nil {
			// Evidence trouble is logged, not fatal.
			r.logger.Error(fmt.Sprintf("scenario %s step %q: capture failed", r.scenario.Name, step.Name), cerr)
			res.ErrorKind = errorKind(cerr)
			res.Error = cerr.Error()
		} else {
			res.Artifacts = append(res.Artifacts, art)
			r.logger.Capture(r.scenario.Name, art.Kind, art.Path)
		}
		res.Status = StepPassed
		return res

	default:
		err = fmt.Errorf("unknown action %q", step.Action)
	}

	if err != nil {
		// A deadline from the step's own budget, with the run context
		// still alive, is a step timeout rather than a shutdown.
		if ctx.Err() == nil && errorKind(err) == "Cancelled" && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("step timed out after %s: %v", budget, err)
		}
		res.Status = StepFailed
		res.ErrorKind = errorKind(err)
		res.Error = err.Error()
		r.captureStepFailure(sess, rec, &res, index)
		return res
	}

	res.Status = StepPassed
	return res
}

// captureStepFailure grabs the failure evidence set with a fresh
// context; the step's own context is usually already dead.
func (r *ScenarioRunner) captureStepFailure(sess stepSession, rec *Recorder, res *StepResult, index int) {
	ctx, cancel := context.WithTimeout(sess.Context(), 5*time.Second)
	defer cancel()

	arts, errs := rec.CaptureFailure(ctx, sess, index)
	res.Artifacts = append(res.Artifacts, arts...)
	for _, art := range arts {
		r.logger.Capture(r.scenario.Name, art.Kind, art.Path)
	}
	for _, err := range errs {
		r.logger.Error("artifact capture failed", err)
	}
}

// captureOptional takes a single screenshot for soft mismatches.
func (r *ScenarioRunner) captureOptional(sess stepSession, rec *Recorder, res *StepResult, index int, label string) {
	ctx, cancel := context.WithTimeout(sess.Context(), 5*time.Second)
	defer cancel()

	art, err := rec.Capture(ctx, sess, CaptureScreenshot, index, label)
	if err != nil {
		r.logger.Error("artifact capture failed", err)
		return
	}
	res.Artifacts = append(res.Artifacts, art)
	r.logger.Capture(r.scenario.Name, art.Kind, art.Path)
}
