package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Artifact is one captured evidence file.
type Artifact struct {
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	StepIndex int       `json:"step"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

// ArtifactError wraps a capture failure. The runner logs these and
// moves on; losing a screenshot must never fail a scenario, and a
// saved screenshot must never rescue one.
type ArtifactError struct {
	Kind string
	Err  error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("failed to capture %s: %v", e.Kind, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}

// artifactSource is what the recorder captures from.
type artifactSource interface {
	Screenshot(ctx context.Context) ([]byte, error)
	DocumentHTML(ctx context.Context) (string, error)
	ConsoleDump() string
}

// Recorder writes one scenario's artifacts. Paths are deterministic
// ({root}/{scenario}/{NN}_{label}.{ext}) so a re-run overwrites its
// previous evidence instead of accumulating timestamped copies.
// Nothing else writes inside the scenario directory.
type Recorder struct {
	root     string
	scenario string
	runID    string
	captured []Artifact
}

// NewRecorder creates a recorder for one scenario's namespace.
func NewRecorder(root, scenario, runID string) *Recorder {
	return &Recorder{root: root, scenario: scenario, runID: runID}
}

// Dir returns the scenario's artifact directory.
func (r *Recorder) Dir() string {
	return filepath.Join(r.root, r.scenario)
}

// Reset clears the scenario's directory so evidence from an earlier,
// longer run can't sit next to this run's files and mislead.
func (r *Recorder) Reset() error {
	if err := os.RemoveAll(r.Dir()); err != nil {
		return fmt.Errorf("failed to clear artifact directory: %w", err)
	}
	r.captured = nil
	return nil
}

// Capture grabs one artifact and writes it under the scenario
// directory.
func (r *Recorder) Capture(ctx context.Context, src artifactSource, kind string, stepIndex int, label string) (Artifact, error) {
	var data []byte
	var ext string

	switch kind {
	case CaptureScreenshot:
		buf, err := src.Screenshot(ctx)
		if err != nil {
			return Artifact{}, &ArtifactError{Kind: kind, Err: err}
		}
		data, ext = buf, "png"

	case CaptureDOM:
		html, err := src.DocumentHTML(ctx)
		if err != nil {
			return Artifact{}, &ArtifactError{Kind: kind, Err: err}
		}
		data, ext = []byte(html), "html"

	case CaptureConsole:
		data, ext = []byte(src.ConsoleDump()), "log"

	default:
		return Artifact{}, &ArtifactError{Kind: kind, Err: fmt.Errorf("unknown artifact kind %q", kind)}
	}

	if label == "" {
		label = kind
	}

	if err := os.MkdirAll(r.Dir(), 0755); err != nil {
		return Artifact{}, &ArtifactError{Kind: kind, Err: err}
	}

	name := fmt.Sprintf("%02d_%s.%s", stepIndex, sanitizeLabel(label), ext)
	path := filepath.Join(r.Dir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return Artifact{}, &ArtifactError{Kind: kind, Err: err}
	}

	art := Artifact{
		Kind:      kind,
		Path:      path,
		StepIndex: stepIndex,
		Label:     label,
		CreatedAt: time.Now(),
	}
	r.captured = append(r.captured, art)
	return art, nil
}

// CaptureFailure grabs the full evidence set for a failed step:
// screenshot, DOM snapshot, and console buffer. Individual capture
// errors are returned for logging but don't stop the others.
func (r *Recorder) CaptureFailure(ctx context.Context, src artifactSource, stepIndex int) ([]Artifact, []error) {
	var arts []Artifact
	var errs []error
	for _, kind := range []string{CaptureScreenshot, CaptureDOM, CaptureConsole} {
		art, err := r.Capture(ctx, src, kind, stepIndex, "failure")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		arts = append(arts, art)
	}
	return arts, errs
}

// Artifacts returns everything captured so far.
func (r *Recorder) Artifacts() []Artifact {
	out := make([]Artifact, len(r.captured))
	copy(out, r.captured)
	return out
}

// WriteManifest records the capture index for tooling that wants to
// find evidence without globbing.
func (r *Recorder) WriteManifest() error {
	manifest := struct {
		Scenario  string     `json:"scenario"`
		RunID     string     `json:"runId"`
		WrittenAt time.Time  `json:"writtenAt"`
		Artifacts []Artifact `json:"artifacts"`
	}{
		Scenario:  r.scenario,
		RunID:     r.runID,
		WrittenAt: time.Now(),
		Artifacts: r.captured,
	}
	return AtomicWriteJSON(filepath.Join(r.Dir(), "manifest.json"), manifest)
}
