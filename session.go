package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// Session owns one browser for one scenario. Scenarios never share a
// session, so crashes, console noise, and cookies stay isolated.
type Session struct {
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	endpoint TargetEndpoint
	console  *consoleBuffer
	network  *networkTracker
}

// OpenSession launches a browser and wires up console and network
// listeners. The caller must Close the session; closing is safe from
// cleanup paths that may run twice.
func OpenSession(parent context.Context, cfg *BrowserConfig, endpoint TargetEndpoint) (*Session, error) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.WindowSize(cfg.Width, cfg.Height),
	}

	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	if cfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecutablePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx: ctx,
		cancel: func() {
			cancel()
			allocCancel()
		},
		endpoint: endpoint,
		console:  newConsoleBuffer(cfg.ConsoleBuffer),
		network:  newNetworkTracker(),
	}

	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			args := make([]string, len(ev.Args))
			for i, arg := range ev.Args {
				args[i] = formatRemoteObject(arg)
			}
			s.console.add(string(ev.Type), strings.Join(args, " "))

		case *runtime.EventExceptionThrown:
			s.console.add("exception", formatException(ev))

		case *network.EventRequestWillBeSent:
			s.network.start(ev.RequestID)

		case *network.EventLoadingFinished:
			s.network.finish(ev.RequestID)

		case *network.EventLoadingFailed:
			s.network.finish(ev.RequestID)
		}
	})

	// First Run starts the browser. Network events and accessibility
	// queries don't work until their domains are enabled.
	if err := chromedp.Run(s.ctx, network.Enable(), accessibility.Enable()); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return s, nil
}

// Context returns the browser context. Step-level deadlines derive
// from it with context.WithTimeout.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Endpoint returns the resolved target this session points at.
func (s *Session) Endpoint() TargetEndpoint {
	return s.endpoint
}

// Console returns the session's console buffer.
func (s *Session) Console() *consoleBuffer {
	return s.console
}

// ConsoleDump renders the console buffer for the console artifact.
func (s *Session) ConsoleDump() string {
	return s.console.Dump()
}

// Network returns the session's inflight-request tracker.
func (s *Session) Network() *networkTracker {
	return s.network
}

// Navigate opens a page and waits for the body to exist. Readiness
// beyond that is the readiness gate's job.
func (s *Session) Navigate(ctx context.Context, url string) error {
	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Close tears down the browser. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// formatRemoteObject renders a console argument. Primitives carry
// their JSON value; objects only a description.
func formatRemoteObject(obj *runtime.RemoteObject) string {
	if obj == nil {
		return ""
	}
	if len(obj.Value) > 0 {
		return strings.Trim(string(obj.Value), `"`)
	}
	if obj.Description != "" {
		return obj.Description
	}
	return string(obj.Type)
}

func formatException(ev *runtime.EventExceptionThrown) string {
	d := ev.ExceptionDetails
	if d == nil {
		return "uncaught exception"
	}
	text := d.Text
	if d.Exception != nil && d.Exception.Description != "" {
		if text != "" {
			text += " "
		}
		text += d.Exception.Description
	}
	if text == "" {
		text = "uncaught exception"
	}
	return text
}

// ConsoleEntry is one captured console message or page error.
type ConsoleEntry struct {
	When time.Time
	Kind string
	Text string
}

// consoleBuffer keeps the most recent console output, bounded so a
// chatty page can't grow memory unchecked.
type consoleBuffer struct {
	mu      sync.Mutex
	entries []ConsoleEntry
	max     int
	errors  int
}

func newConsoleBuffer(max int) *consoleBuffer {
	if max <= 0 {
		max = 200
	}
	return &consoleBuffer{max: max}
}

func (b *consoleBuffer) add(kind, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, ConsoleEntry{When: time.Now(), Kind: kind, Text: text})
	if len(b.entries) > b.max {
		b.entries = b.entries[len(b.entries)-b.max:]
	}
	if kind == "error" || kind == "exception" {
		b.errors++
	}
}

// Entries returns a copy of the buffered entries.
func (b *consoleBuffer) Entries() []ConsoleEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ConsoleEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// ErrorCount returns how many error-level messages were seen,
// including ones rotated out of the buffer.
func (b *consoleBuffer) ErrorCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errors
}

// Dump renders the buffer as text for the console artifact.
func (b *consoleBuffer) Dump() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return "(no console output)\n"
	}

	var sb strings.Builder
	for _, e := range b.entries {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", e.When.Format("15:04:05.000"), e.Kind, e.Text)
	}
	return sb.String()
}

// networkTracker counts inflight requests for the network-quiet
// readiness signal. Any start or finish resets the quiet clock.
type networkTracker struct {
	mu         sync.Mutex
	inflight   map[network.RequestID]struct{}
	lastChange time.Time
}

func newNetworkTracker() *networkTracker {
	return &networkTracker{
		inflight:   make(map[network.RequestID]struct{}),
		lastChange: time.Now(),
	}
}

func (n *networkTracker) start(id network.RequestID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inflight[id] = struct{}{}
	n.lastChange = time.Now()
}

func (n *networkTracker) finish(id network.RequestID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.inflight, id)
	n.lastChange = time.Now()
}

// Inflight returns the current open-request count.
func (n *networkTracker) Inflight() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight)
}

// QuietFor reports whether the network has stayed at or below
// maxInflight open requests with no activity for the given window.
func (n *networkTracker) QuietFor(window time.Duration, maxInflight int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight) <= maxInflight && time.Since(n.lastChange) >= window
}
