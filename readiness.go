package main

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Readiness defaults
const (
	defaultReadyTimeout  = 10 * time.Second
	defaultReadyInterval = 250 * time.Millisecond
)

// ReadinessPolicy gates scenario execution until the page is actually
// usable, not merely loaded. All Require signals must hold on the same
// poll; when AnyOf is non-empty at least one of its signals must hold
// on that poll too. An empty policy holds immediately.
type ReadinessPolicy struct {
	Timeout  Duration `yaml:"timeout,omitempty"`
	Interval Duration `yaml:"interval,omitempty"`
	Require  []Signal `yaml:"require,omitempty"`
	AnyOf    []Signal `yaml:"anyOf,omitempty"`
}

// Signal is one readiness condition. Exactly one field must be set:
//   - Selector: at least one element matches
//   - Absent: no element matches
//   - NetworkQuiet: inflight requests stayed at or below the threshold
//     for the window
//   - Document: document.readyState reached "interactive" or "complete"
type Signal struct {
	Selector     string        `json:"selector,omitempty" yaml:"selector,omitempty"`
	Absent       string        `json:"absent,omitempty" yaml:"absent,omitempty"`
	NetworkQuiet *NetworkQuiet `json:"networkQuiet,omitempty" yaml:"networkQuiet,omitempty"`
	Document     string        `json:"document,omitempty" yaml:"document,omitempty"`
}

// NetworkQuiet tunes the network-quiet signal. Window is in
// milliseconds; MaxInflight is the open-request count still considered
// quiet (long-poll and websocket upgrades keep a request open forever,
// so zero is not always achievable).
type NetworkQuiet struct {
	Window      int `json:"window,omitempty" yaml:"window,omitempty"`
	MaxInflight int `json:"maxInflight,omitempty" yaml:"maxInflight,omitempty"`
}

func (s Signal) String() string {
	switch {
	case s.Selector != "":
		return fmt.Sprintf("selector %q", s.Selector)
	case s.Absent != "":
		return fmt.Sprintf("absent %q", s.Absent)
	case s.NetworkQuiet != nil:
		return fmt.Sprintf("network-quiet window=%dms maxInflight=%d", s.NetworkQuiet.Window, s.NetworkQuiet.MaxInflight)
	case s.Document != "":
		return fmt.Sprintf("document %s", s.Document)
	}
	return "empty signal"
}

// validateReadiness checks signal shape at load time.
func validateReadiness(p *ReadinessPolicy) error {
	check := func(group string, signals []Signal) error {
		for i, s := range signals {
			set := 0
			if s.Selector != "" {
				set++
			}
			if s.Absent != "" {
				set++
			}
			if s.NetworkQuiet != nil {
				set++
			}
			if s.Document != "" {
				set++
			}
			if set != 1 {
				return fmt.Errorf("%s[%d] must set exactly one of selector, absent, networkQuiet, document", group, i)
			}
			if s.NetworkQuiet != nil && s.NetworkQuiet.Window < 0 {
				return fmt.Errorf("%s[%d]: networkQuiet.window must not be negative", group, i)
			}
			if s.NetworkQuiet != nil && s.NetworkQuiet.MaxInflight < 0 {
				return fmt.Errorf("%s[%d]: networkQuiet.maxInflight must not be negative", group, i)
			}
			if s.Document != "" && s.Document != "interactive" && s.Document != "complete" {
				return fmt.Errorf("%s[%d]: document must be \"interactive\" or \"complete\"", group, i)
			}
		}
		return nil
	}

	if err := check("require", p.Require); err != nil {
		return err
	}
	return check("anyOf", p.AnyOf)
}

// SignalObservation is the last recorded state of one signal, kept for
// the timeout error users debug from.
type SignalObservation struct {
	Group  string
	Signal string
	Held   bool
	Detail string
}

// ReadinessTimeoutError means the page never satisfied the policy
// within its timeout. Observations hold the final poll's results.
type ReadinessTimeoutError struct {
	Timeout      time.Duration
	Observations []SignalObservation
}

func (e *ReadinessTimeoutError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "page not ready after %s", FormatDuration(e.Timeout))
	for _, obs := range e.Observations {
		state := "held"
		if !obs.Held {
			state = obs.Detail
			if state == "" {
				state = "not held"
			}
		}
		fmt.Fprintf(&b, "\n  [%s] %s: %s", obs.Group, obs.Signal, state)
	}
	return b.String()
}

// signalProbe is the page surface the readiness gate polls. Session
// implements it; tests substitute fakes.
type signalProbe interface {
	CountSelector(ctx context.Context, selector string) (int, error)
	DocumentState(ctx context.Context) (string, error)
	NetworkQuietFor(window time.Duration, maxInflight int) bool
}

// awaitReady polls the probe until the policy holds or the timeout
// expires. Parent-context cancellation is passed through untouched so
// the runner can tell "cancelled" from "never became ready".
func awaitReady(ctx context.Context, probe signalProbe, policy ReadinessPolicy) error {
	timeout := policy.Timeout.Std()
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	interval := policy.Interval.Std()
	if interval <= 0 {
		interval = defaultReadyInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last []SignalObservation
	for {
		obs, ok := evaluateSignals(waitCtx, probe, policy)
		if ok {
			return nil
		}
		last = obs

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ReadinessTimeoutError{Timeout: timeout, Observations: last}
		case <-ticker.C:
		}
	}
}

// evaluateSignals checks every signal in one poll. All signals are
// evaluated even after a miss so the timeout error shows the complete
// picture, not just the first unhappy signal.
func evaluateSignals(ctx context.Context, probe signalProbe, policy ReadinessPolicy) ([]SignalObservation, bool) {
	var observations []SignalObservation

	requireOK := true
	for _, s := range policy.Require {
		obs := evaluateSignal(ctx, probe, "require", s)
		observations = append(observations, obs)
		if !obs.Held {
			requireOK = false
		}
	}

	anyOK := len(policy.AnyOf) == 0
	for _, s := range policy.AnyOf {
		obs := evaluateSignal(ctx, probe, "anyOf", s)
		observations = append(observations, obs)
		if obs.Held {
			anyOK = true
		}
	}

	return observations, requireOK && anyOK
}

func evaluateSignal(ctx context.Context, probe signalProbe, group string, s Signal) SignalObservation {
	obs := SignalObservation{Group: group, Signal: s.String()}

	switch {
	case s.Selector != "":
		n, err := probe.CountSelector(ctx, s.Selector)
		if err != nil {
			obs.Detail = err.Error()
			return obs
		}
		if n == 0 {
			obs.Detail = "0 matches"
			return obs
		}
		obs.Held = true

	case s.Absent != "":
		n, err := probe.CountSelector(ctx, s.Absent)
		if err != nil {
			obs.Detail = err.Error()
			return obs
		}
		if n > 0 {
			obs.Detail = fmt.Sprintf("still present (%d matches)", n)
			return obs
		}
		obs.Held = true

	case s.NetworkQuiet != nil:
		window := time.Duration(s.NetworkQuiet.Window) * time.Millisecond
		if probe.NetworkQuietFor(window, s.NetworkQuiet.MaxInflight) {
			obs.Held = true
		} else {
			obs.Detail = "network still active"
		}

	case s.Document != "":
		state, err := probe.DocumentState(ctx)
		if err != nil {
			obs.Detail = err.Error()
			return obs
		}
		if documentStateReached(state, s.Document) {
			obs.Held = true
		} else {
			obs.Detail = fmt.Sprintf("readyState is %q", state)
		}

	default:
		obs.Detail = "empty signal"
	}

	return obs
}

// documentStateReached orders loading < interactive < complete.
func documentStateReached(actual, wanted string) bool {
	rank := map[string]int{"loading": 0, "interactive": 1, "complete": 2}
	a, okA := rank[actual]
	w, okW := rank[wanted]
	if !okA || !okW {
		return actual == wanted
	}
	return a >= w
}
