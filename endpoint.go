package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Port bounds for target endpoints. Dev servers live above the
// privileged range; anything outside this window is a config typo.
const (
	minTargetPort = 1024
	maxTargetPort = 65535
)

// TargetEndpoint is a resolved, probed-live application address.
type TargetEndpoint struct {
	Scheme string
	Host   string
	Port   int
}

// URL returns the endpoint's base URL.
func (t TargetEndpoint) URL() string {
	return fmt.Sprintf("%s://%s:%d", t.Scheme, t.Host, t.Port)
}

// Page joins a page path onto the endpoint's base URL. Absolute URLs
// pass through untouched.
func (t TargetEndpoint) Page(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return t.URL() + path
}

func (t TargetEndpoint) String() string {
	return t.URL()
}

// EndpointHint is one candidate source for the target endpoint.
// Exactly one field must be set:
//   - Explicit: a host:port to probe directly
//   - Logfile: a dev-server log to scan for a port announcement
//   - Default: a conventional port to probe on localhost
type EndpointHint struct {
	Explicit string `json:"explicit,omitempty" yaml:"explicit,omitempty"`
	Logfile  string `json:"logfile,omitempty" yaml:"logfile,omitempty"`
	Default  int    `json:"default,omitempty" yaml:"default,omitempty"`
}

func (h EndpointHint) String() string {
	switch {
	case h.Explicit != "":
		return "explicit " + h.Explicit
	case h.Logfile != "":
		return "logfile " + h.Logfile
	case h.Default != 0:
		return fmt.Sprintf("default %d", h.Default)
	}
	return "empty hint"
}

// ValidateHints checks hint shape and port ranges at load time so
// resolution failures only ever mean "nothing is listening".
func ValidateHints(hints []EndpointHint) error {
	for i, h := range hints {
		set := 0
		if h.Explicit != "" {
			set++
		}
		if h.Logfile != "" {
			set++
		}
		if h.Default != 0 {
			set++
		}
		if set != 1 {
			return fmt.Errorf("hints[%d] must set exactly one of explicit, logfile, default", i)
		}
		if h.Explicit != "" {
			if _, _, err := parseHostPort(h.Explicit); err != nil {
				return fmt.Errorf("hints[%d]: %w", i, err)
			}
		}
		if h.Default != 0 {
			if err := checkPortRange(h.Default); err != nil {
				return fmt.Errorf("hints[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// ProbeAttempt records one candidate that failed during resolution,
// for the error message users actually debug from.
type ProbeAttempt struct {
	Hint   string
	Reason string
}

// ResolutionError means every hint was exhausted without finding a
// live endpoint.
type ResolutionError struct {
	Attempts []ProbeAttempt
	Window   time.Duration
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no live endpoint found within %s", FormatDuration(e.Window))
	if len(e.Attempts) == 0 {
		b.WriteString(" (no endpoint hints configured)")
		return b.String()
	}
	b.WriteString(":")
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "\n  %s: %s", a.Hint, a.Reason)
	}
	return b.String()
}

// Resolver turns an ordered hint list into a live TargetEndpoint.
type Resolver struct {
	client       *http.Client
	scheme       string
	probeTimeout time.Duration
	window       time.Duration
	pollInterval time.Duration
}

// NewResolver builds a resolver. probeTimeout bounds each HTTP probe;
// window bounds the whole resolution including waits for log lines
// and slow-starting servers.
func NewResolver(scheme string, probeTimeout, window time.Duration) *Resolver {
	if scheme == "" {
		scheme = "http"
	}
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	if window <= 0 {
		window = 15 * time.Second
	}
	return &Resolver{
		client: &http.Client{
			Timeout: probeTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		scheme:       scheme,
		probeTimeout: probeTimeout,
		window:       window,
		pollInterval: 500 * time.Millisecond,
	}
}

// Resolve tries hints in priority order, re-sweeping the list until
// one candidate answers HTTP or the window expires. Any HTTP status
// counts as live; a 500 page is still a server worth pointing the
// browser at. Only transport errors mean "down".
func (r *Resolver) Resolve(ctx context.Context, hints []EndpointHint) (TargetEndpoint, error) {
	if len(hints) == 0 {
		return TargetEndpoint{}, &ResolutionError{Window: r.window}
	}

	ctx, cancel := context.WithTimeout(ctx, r.window)
	defer cancel()

	// A changing logfile wakes the sweep early; otherwise we poll.
	wake := watchLogfileHints(ctx, hints)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	var attempts []ProbeAttempt
	for {
		var ep TargetEndpoint
		var ok bool
		ep, attempts, ok = r.sweep(ctx, hints)
		if ok {
			return ep, nil
		}

		select {
		case <-ctx.Done():
			return TargetEndpoint{}, &ResolutionError{Attempts: attempts, Window: r.window}
		case <-ticker.C:
		case <-wake:
		}
	}
}

// sweep evaluates every hint once, in order. The first candidate that
// probes live wins; earlier hints always get first claim on each pass.
func (r *Resolver) sweep(ctx context.Context, hints []EndpointHint) (TargetEndpoint, []ProbeAttempt, bool) {
	var attempts []ProbeAttempt

	for _, h := range hints {
		host, port, reason := r.candidate(h)
		if reason != "" {
			attempts = append(attempts, ProbeAttempt{Hint: h.String(), Reason: reason})
			continue
		}

		ep := TargetEndpoint{Scheme: r.scheme, Host: host, Port: port}
		if err := r.probe(ctx, ep); err != nil {
			attempts = append(attempts, ProbeAttempt{Hint: h.String(), Reason: err.Error()})
			continue
		}
		return ep, attempts, true
	}

	return TargetEndpoint{}, attempts, false
}

// candidate extracts a probeable host:port from a hint, or a reason
// why it can't produce one yet.
func (r *Resolver) candidate(h EndpointHint) (host string, port int, reason string) {
	switch {
	case h.Explicit != "":
		host, port, err := parseHostPort(h.Explicit)
		if err != nil {
			return "", 0, err.Error()
		}
		return host, port, ""

	case h.Logfile != "":
		port, err := scanLogfileForPort(h.Logfile)
		if err != nil {
			return "", 0, err.Error()
		}
		return "localhost", port, ""

	case h.Default != 0:
		if err := checkPortRange(h.Default); err != nil {
			return "", 0, err.Error()
		}
		return "localhost", h.Default, ""
	}
	return "", 0, "empty hint"
}

// probe issues one GET against the endpoint root. The response body
// is irrelevant; reaching an HTTP server at all is the signal.
func (r *Resolver) probe(ctx context.Context, ep TargetEndpoint) error {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, ep.URL()+"/", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("not responding: %w", err)
	}
	resp.Body.Close()
	return nil
}

// portAnnouncements match the serving lines dev servers print.
// Ordered most-specific first; within a log the last announcement
// wins since restarts append.
var portAnnouncements = []*regexp.Regexp{
	regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1?\]):(\d{2,5})`),
	regexp.MustCompile(`(?:localhost|127\.0\.0\.1|0\.0\.0\.0):(\d{2,5})`),
	regexp.MustCompile(`(?i)port[\s:=]+(\d{2,5})`),
}

// scanLogfileForPort reads a dev-server log and extracts the announced
// port. Missing file and missing announcement are ordinary conditions
// while the server is still starting.
func scanLogfileForPort(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("log file not created yet")
		}
		return 0, fmt.Errorf("cannot read log file: %w", err)
	}

	text := string(data)
	for _, re := range portAnnouncements {
		matches := re.FindAllStringSubmatch(text, -1)
		for i := len(matches) - 1; i >= 0; i-- {
			port, err := strconv.Atoi(matches[i][1])
			if err != nil || checkPortRange(port) != nil {
				continue
			}
			return port, nil
		}
	}
	return 0, fmt.Errorf("no port announcement found")
}

// watchLogfileHints wires fsnotify onto the parent directories of
// logfile hints so a freshly written serving line triggers an
// immediate re-sweep instead of waiting out the poll interval.
// Returns nil (blocks forever in select) when there is nothing to
// watch or the watcher can't start; the poll ticker still covers us.
func watchLogfileHints(ctx context.Context, hints []EndpointHint) <-chan struct{} {
	var dirs []string
	seen := make(map[string]bool)
	for _, h := range hints {
		if h.Logfile == "" {
			continue
		}
		dir := filepath.Dir(h.Logfile)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}

	watching := false
	for _, dir := range dirs {
		if err := watcher.Add(dir); err == nil {
			watching = true
		}
	}
	if !watching {
		watcher.Close()
		return nil
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return wake
}

// parseHostPort splits "host:port" with localhost as the default host
// for bare ":port" values.
func parseHostPort(s string) (string, int, error) {
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimSuffix(s, "/")

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("invalid endpoint %q (want host:port)", s)
	}
	if host == "" {
		host = "localhost"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q", s)
	}
	if err := checkPortRange(port); err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func checkPortRange(port int) error {
	if port < minTargetPort || port > maxTargetPort {
		return fmt.Errorf("port %d outside allowed range %d-%d", port, minTargetPort, maxTargetPort)
	}
	return nil
}
