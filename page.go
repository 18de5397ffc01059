package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ElementBox is an element's content box in page coordinates.
type ElementBox struct {
	X float64
	Y float64
	W float64
	H float64
}

// Center returns the box midpoint, where clicks land.
func (b ElementBox) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns the box area in square pixels.
func (b ElementBox) Area() float64 {
	return b.W * b.H
}

// run executes raw protocol calls inside the chromedp action pipeline,
// which carries the target executor in ctx.
func (s *Session) run(ctx context.Context, fn func(context.Context) error) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(fn))
}

// Eval evaluates a JSON-returning expression on the page.
func (s *Session) Eval(ctx context.Context, js string, out interface{}) error {
	return chromedp.Run(ctx, chromedp.Evaluate(js, out))
}

// CountSelector returns how many elements match a CSS selector.
func (s *Session) CountSelector(ctx context.Context, selector string) (int, error) {
	var n int
	js := fmt.Sprintf("document.querySelectorAll(%s).length", strconv.Quote(selector))
	if err := s.Eval(ctx, js, &n); err != nil {
		return 0, fmt.Errorf("selector count failed: %w", err)
	}
	return n, nil
}

// DocumentState returns document.readyState.
func (s *Session) DocumentState(ctx context.Context) (string, error) {
	var state string
	if err := s.Eval(ctx, "document.readyState", &state); err != nil {
		return "", err
	}
	return state, nil
}

// NetworkQuietFor reports network quiet via the session tracker.
func (s *Session) NetworkQuietFor(window time.Duration, maxInflight int) bool {
	return s.network.QuietFor(window, maxInflight)
}

// QueryAll resolves a CSS selector to stable backend node IDs.
func (s *Session) QueryAll(ctx context.Context, selector string) ([]cdp.BackendNodeID, error) {
	var ids []cdp.BackendNodeID
	err := s.run(ctx, func(ctx context.Context) error {
		root, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		nodeIDs, err := dom.QuerySelectorAll(root.NodeID, selector).Do(ctx)
		if err != nil {
			return err
		}
		for _, id := range nodeIDs {
			node, err := dom.DescribeNode().WithNodeID(id).Do(ctx)
			if err != nil {
				continue
			}
			if node.BackendNodeID != 0 {
				ids = append(ids, node.BackendNodeID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	return ids, nil
}

// SearchXPath resolves an XPath expression to backend node IDs using
// the DOM search API.
func (s *Session) SearchXPath(ctx context.Context, xpath string) ([]cdp.BackendNodeID, error) {
	var ids []cdp.BackendNodeID
	err := s.run(ctx, func(ctx context.Context) error {
		// Search results reference the current document push.
		if _, err := dom.GetDocument().Do(ctx); err != nil {
			return err
		}
		searchID, count, err := dom.PerformSearch(xpath).Do(ctx)
		if err != nil {
			return err
		}
		defer dom.DiscardSearchResults(searchID).Do(ctx)

		if count == 0 {
			return nil
		}
		nodeIDs, err := dom.GetSearchResults(searchID, 0, count).Do(ctx)
		if err != nil {
			return err
		}
		for _, id := range nodeIDs {
			node, err := dom.DescribeNode().WithNodeID(id).Do(ctx)
			if err != nil {
				continue
			}
			// Search also returns text and attribute nodes.
			if node.NodeType == 1 && node.BackendNodeID != 0 {
				ids = append(ids, node.BackendNodeID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("text search failed: %w", err)
	}
	return ids, nil
}

// QueryAXRole finds elements by accessibility role and accessible
// name. The browser does the matching; ignored nodes and nodes
// without a DOM counterpart are dropped.
func (s *Session) QueryAXRole(ctx context.Context, role, name string) ([]cdp.BackendNodeID, error) {
	var ids []cdp.BackendNodeID
	err := s.run(ctx, func(ctx context.Context) error {
		root, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		params := accessibility.QueryAXTree().WithBackendNodeID(root.BackendNodeID).WithRole(role)
		if name != "" {
			params = params.WithAccessibleName(name)
		}
		nodes, err := params.Do(ctx)
		if err != nil {
			return err
		}
		for _, node := range nodes {
			if node.Ignored || node.BackendDOMNodeID == 0 {
				continue
			}
			ids = append(ids, node.BackendDOMNodeID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("accessibility query failed: %w", err)
	}
	return ids, nil
}

// BoxModel returns the element's content box, or an error when the
// node is detached or not rendered.
func (s *Session) BoxModel(ctx context.Context, id cdp.BackendNodeID) (*ElementBox, error) {
	var box *ElementBox
	err := s.run(ctx, func(ctx context.Context) error {
		model, err := dom.GetBoxModel().WithBackendNodeID(id).Do(ctx)
		if err != nil {
			return err
		}
		box = quadToBox(model.Content)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return box, nil
}

// quadToBox converts a content quad (4 corner points) to an
// axis-aligned box.
func quadToBox(q dom.Quad) *ElementBox {
	if len(q) < 8 {
		return &ElementBox{}
	}
	minX, maxX := q[0], q[0]
	minY, maxY := q[1], q[1]
	for i := 2; i < 8; i += 2 {
		if q[i] < minX {
			minX = q[i]
		}
		if q[i] > maxX {
			maxX = q[i]
		}
		if q[i+1] < minY {
			minY = q[i+1]
		}
		if q[i+1] > maxY {
			maxY = q[i+1]
		}
	}
	return &ElementBox{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

// ScrollIntoView brings the element into the viewport.
func (s *Session) ScrollIntoView(ctx context.Context, id cdp.BackendNodeID) error {
	return s.run(ctx, func(ctx context.Context) error {
		return dom.ScrollIntoViewIfNeeded().WithBackendNodeID(id).Do(ctx)
	})
}

// FocusNode gives the element input focus.
func (s *Session) FocusNode(ctx context.Context, id cdp.BackendNodeID) error {
	return s.run(ctx, func(ctx context.Context) error {
		return dom.Focus().WithBackendNodeID(id).Do(ctx)
	})
}

// ClickAt dispatches a trusted click at page coordinates.
func (s *Session) ClickAt(ctx context.Context, x, y float64) error {
	return chromedp.Run(ctx, chromedp.MouseClickXY(x, y))
}

// InsertText types text into the focused element, replacing any
// selection, with the input events a real keyboard produces.
func (s *Session) InsertText(ctx context.Context, text string) error {
	return s.run(ctx, func(ctx context.Context) error {
		return input.InsertText(text).Do(ctx)
	})
}

// SendKeys dispatches key events to the focused element.
func (s *Session) SendKeys(ctx context.Context, keys string) error {
	return chromedp.Run(ctx, chromedp.KeyEvent(keys))
}

// SelectAllIn selects the element's content so the next insert
// replaces instead of appends.
func (s *Session) SelectAllIn(ctx context.Context, id cdp.BackendNodeID) error {
	const fn = `function() {
		if (typeof this.select === 'function') { this.select(); return true; }
		const sel = window.getSelection();
		if (!sel) return false;
		const range = document.createRange();
		range.selectNodeContents(this);
		sel.removeAllRanges();
		sel.addRange(range);
		return true;
	}`
	var ok bool
	return s.callOnNode(ctx, id, fn, &ok)
}

// NodeVisible checks rendered visibility the way a user would judge
// it: attached, not display:none or visibility:hidden, nonzero rect.
func (s *Session) NodeVisible(ctx context.Context, id cdp.BackendNodeID) (bool, error) {
	const fn = `function() {
		if (!this.isConnected) return false;
		const style = window.getComputedStyle(this);
		if (style.display === 'none' || style.visibility === 'hidden') return false;
		if (style.opacity === '0') return false;
		const rect = this.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	}`
	var visible bool
	if err := s.callOnNode(ctx, id, fn, &visible); err != nil {
		return false, err
	}
	return visible, nil
}

// NodeText returns the element's rendered text.
func (s *Session) NodeText(ctx context.Context, id cdp.BackendNodeID) (string, error) {
	const fn = `function() {
		return this.innerText !== undefined ? this.innerText : (this.textContent || '');
	}`
	var text string
	if err := s.callOnNode(ctx, id, fn, &text); err != nil {
		return "", err
	}
	return text, nil
}

// NodeAttr returns an attribute value and whether it is present at
// all; absent and empty are different answers.
func (s *Session) NodeAttr(ctx context.Context, id cdp.BackendNodeID, name string) (string, bool, error) {
	fn := fmt.Sprintf(`function() {
		const v = this.getAttribute(%s);
		return { present: v !== null, value: v === null ? '' : String(v) };
	}`, strconv.Quote(name))
	var res struct {
		Present bool   `json:"present"`
		Value   string `json:"value"`
	}
	if err := s.callOnNode(ctx, id, fn, &res); err != nil {
		return "", false, err
	}
	return res.Value, res.Present, nil
}

// Screenshot captures a full-page PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, err
	}
	return buf, nil
}

// DocumentHTML returns the serialized DOM, post-JavaScript.
func (s *Session) DocumentHTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, func(ctx context.Context) error {
		root, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		html, err = dom.GetOuterHTML().WithBackendNodeID(root.BackendNodeID).Do(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	return html, nil
}

// callOnNode runs a JS function with the element as `this` and
// unmarshals the JSON return value into out.
func (s *Session) callOnNode(ctx context.Context, id cdp.BackendNodeID, fn string, out interface{}) error {
	return s.run(ctx, func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(id).Do(ctx)
		if err != nil {
			return err
		}
		defer runtime.ReleaseObject(obj.ObjectID).Do(ctx)

		res, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("script threw: %s", exc.Text)
		}
		if out != nil && res != nil && len(res.Value) > 0 {
			return json.Unmarshal(res.Value, out)
		}
		return nil
	})
}
