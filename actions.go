package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp/kb"
)

const (
	// Total action tries, re-resolving the locator between tries.
	defaultRetryAttempts = 2
	defaultRetryBackoff  = 250 * time.Millisecond

	// Settle wait: an element still animating into place swallows
	// clicks at its old position.
	settleTimeout   = 2 * time.Second
	settleInterval  = 100 * time.Millisecond
	settleTolerance = 1.0

	// Budget for re-locating a detached element.
	reResolveBudget = 2 * time.Second
)

// elementDriver is what the executor needs from a session: the
// locator's query surface plus input dispatch.
type elementDriver interface {
	domQuerier
	ScrollIntoView(ctx context.Context, id cdp.BackendNodeID) error
	FocusNode(ctx context.Context, id cdp.BackendNodeID) error
	ClickAt(ctx context.Context, x, y float64) error
	InsertText(ctx context.Context, text string) error
	SendKeys(ctx context.Context, keys string) error
	SelectAllIn(ctx context.Context, id cdp.BackendNodeID) error
}

// ActionError wraps a failed interaction with what was being done to
// which element.
type ActionError struct {
	Action string
	Target string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s on %s failed: %v", e.Action, e.Target, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// namedKeys maps scenario key names onto the key sequences the
// keyboard layer understands.
var namedKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"Space":      " ",
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
}

func keySequence(key string) string {
	if seq, ok := namedKeys[key]; ok {
		return seq
	}
	return key
}

// performAction executes one element interaction. When the element
// detaches mid-action (frameworks re-render nodes out from under us)
// the original chain is resolved again and the action retried, up to
// the step's retry budget.
func performAction(ctx context.Context, drv elementDriver, handle *ElementHandle, step *Step) (*ElementHandle, error) {
	maxAttempts := defaultRetryAttempts
	backoff := defaultRetryBackoff
	if step.Retry != nil {
		if step.Retry.MaxAttempts > 0 {
			maxAttempts = step.Retry.MaxAttempts
		}
		if step.Retry.Backoff > 0 {
			backoff = step.Retry.Backoff.Std()
		}
	}

	for attempt := 1; ; attempt++ {
		err := dispatchAction(ctx, drv, handle, step)
		if err == nil {
			return handle, nil
		}

		if !isDetachError(err) || attempt >= maxAttempts || ctx.Err() != nil {
			return handle, &ActionError{Action: step.Action, Target: handle.Strategy.String(), Err: err}
		}

		select {
		case <-ctx.Done():
			return handle, &ActionError{Action: step.Action, Target: handle.Strategy.String(), Err: err}
		case <-time.After(backoff):
		}

		fresh, lerr := locate(ctx, drv, handle.chain, reResolveBudget)
		if lerr != nil {
			return handle, &ActionError{
				Action: step.Action,
				Target: handle.Strategy.String(),
				Err:    fmt.Errorf("element detached and re-resolution failed: %w", lerr),
			}
		}
		handle = fresh
	}
}

// dispatchAction runs the raw interaction once.
func dispatchAction(ctx context.Context, drv elementDriver, h *ElementHandle, step *Step) error {
	switch step.Action {
	case ActionClick:
		box, err := settle(ctx, drv, h.BackendID)
		if err != nil {
			return err
		}
		x, y := box.Center()
		return drv.ClickAt(ctx, x, y)

	case ActionFill:
		if _, err := settle(ctx, drv, h.BackendID); err != nil {
			return err
		}
		if err := drv.FocusNode(ctx, h.BackendID); err != nil {
			return err
		}
		if err := drv.SelectAllIn(ctx, h.BackendID); err != nil {
			return err
		}
		return drv.InsertText(ctx, step.Text)

	case ActionPress:
		if err := drv.FocusNode(ctx, h.BackendID); err != nil {
			return err
		}
		return drv.SendKeys(ctx, keySequence(step.Key))

	case ActionFocus:
		return drv.FocusNode(ctx, h.BackendID)
	}

	return fmt.Errorf("action %q does not target an element", step.Action)
}

// settle scrolls the element into view and waits for its box to stop
// moving. Two consecutive reads within tolerance count as stable. A
// box still drifting when the settle window closes is used as-is;
// endless animations should not hang the step.
func settle(ctx context.Context, drv elementDriver, id cdp.BackendNodeID) (*ElementBox, error) {
	if err := drv.ScrollIntoView(ctx, id); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(settleTimeout)
	var prev *ElementBox
	for {
		box, err := drv.BoxModel(ctx, id)
		if err != nil {
			return nil, err
		}
		if prev != nil && boxStable(prev, box) {
			return box, nil
		}
		prev = box

		if ctx.Err() != nil || !time.Now().Add(settleInterval).Before(deadline) {
			return box, nil
		}
		select {
		case <-ctx.Done():
			return box, nil
		case <-time.After(settleInterval):
		}
	}
}

func boxStable(a, b *ElementBox) bool {
	return math.Abs(a.X-b.X) < settleTolerance &&
		math.Abs(a.Y-b.Y) < settleTolerance &&
		math.Abs(a.W-b.W) < settleTolerance &&
		math.Abs(a.H-b.H) < settleTolerance
}

// detachMessages are the protocol error fragments that mean the node
// reference went stale rather than the operation being wrong.
var detachMessages = []string{
	"could not find node",
	"no node with given id",
	"node with given id does not belong",
	"not attached",
	"detached from document",
	"could not compute box model",
	"cannot find context",
	"inspected target navigated",
}

func isDetachError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range detachMessages {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
