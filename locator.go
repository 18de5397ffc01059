package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
)

const (
	// minStrategyBudget keeps a strategy's share of the step budget
	// from rounding down to nothing in long chains.
	minStrategyBudget  = 500 * time.Millisecond
	locatePollInterval = 100 * time.Millisecond

	// interactiveSelector is the default census for geometry picks.
	interactiveSelector = "button, a, [role=button], input, select, textarea"
)

// domQuerier is the DOM surface the locator resolves against. Session
// implements it; tests substitute fakes.
type domQuerier interface {
	QueryAll(ctx context.Context, selector string) ([]cdp.BackendNodeID, error)
	SearchXPath(ctx context.Context, xpath string) ([]cdp.BackendNodeID, error)
	QueryAXRole(ctx context.Context, role, name string) ([]cdp.BackendNodeID, error)
	BoxModel(ctx context.Context, id cdp.BackendNodeID) (*ElementBox, error)
}

// ElementHandle is a resolved element plus the provenance needed to
// re-resolve it if it detaches mid-action.
type ElementHandle struct {
	BackendID   cdp.BackendNodeID
	Strategy    Strategy
	StrategyIdx int
	Confidence  string

	chain []Strategy
}

// Describe renders the handle for logs and step results.
func (h *ElementHandle) Describe() string {
	return fmt.Sprintf("%s (confidence %s)", h.Strategy.String(), h.Confidence)
}

// StrategyAttempt records why one strategy produced no element.
type StrategyAttempt struct {
	Strategy string
	Reason   string
}

// NotFoundError means every strategy in the chain was exhausted
// without a match.
type NotFoundError struct {
	Attempts []StrategyAttempt
}

func (e *NotFoundError) Error() string {
	if len(e.Attempts) == 0 {
		return "no locator strategies declared"
	}
	var b strings.Builder
	b.WriteString("no element matched any locator strategy:")
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "\n  %s: %s", a.Strategy, a.Reason)
	}
	return b.String()
}

// AmbiguousMatchError means a strategy matched several elements.
// Guessing which one the author meant would make scenarios pass for
// the wrong reasons, so the chain stops here rather than falling
// through to a weaker strategy.
type AmbiguousMatchError struct {
	Strategy string
	Count    int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("locator %s matched %d elements (want exactly 1)", e.Strategy, e.Count)
}

// locate tries each strategy in chain order. A strategy keeps
// re-polling for its whole sub-timeout since elements mount
// asynchronously; only after its budget runs dry does the next
// strategy get a turn.
func locate(ctx context.Context, q domQuerier, chain []Strategy, budget time.Duration) (*ElementHandle, error) {
	if len(chain) == 0 {
		return nil, &NotFoundError{}
	}
	if budget <= 0 {
		budget = 10 * time.Second
	}

	var attempts []StrategyAttempt
	for i := range chain {
		st := &chain[i]
		id, reason, err := pollStrategy(ctx, q, st, strategyBudget(chain, i, budget))
		if err != nil {
			return nil, err
		}
		if reason == "" {
			return &ElementHandle{
				BackendID:   id,
				Strategy:    *st,
				StrategyIdx: i,
				Confidence:  st.Confidence(),
				chain:       chain,
			}, nil
		}
		attempts = append(attempts, StrategyAttempt{Strategy: st.String(), Reason: reason})
	}

	return nil, &NotFoundError{Attempts: attempts}
}

// strategyBudget gives explicit per-strategy timeouts priority, then
// an even split of the step budget.
func strategyBudget(chain []Strategy, i int, total time.Duration) time.Duration {
	if chain[i].Timeout > 0 {
		return chain[i].Timeout.Std()
	}
	share := total / time.Duration(len(chain))
	if share < minStrategyBudget {
		share = minStrategyBudget
	}
	return share
}

// pollStrategy re-resolves one strategy until it matches exactly one
// element or its budget expires. Returns ("", nil) on a unique match,
// a miss reason when the budget ran out, or AmbiguousMatchError as a
// hard error. Transient protocol errors count as misses; the DOM may
// be mid-mutation.
func pollStrategy(ctx context.Context, q domQuerier, st *Strategy, budget time.Duration) (cdp.BackendNodeID, string, error) {
	deadline := time.Now().Add(budget)
	lastReason := "no match"

	for {
		ids, err := resolveStrategy(ctx, q, st)
		switch {
		case err != nil:
			lastReason = err.Error()
		case len(ids) == 1:
			return ids[0], "", nil
		case len(ids) > 1:
			return 0, "", &AmbiguousMatchError{Strategy: st.String(), Count: len(ids)}
		default:
			lastReason = "no match"
		}

		if ctx.Err() != nil || !time.Now().Add(locatePollInterval).Before(deadline) {
			return 0, fmt.Sprintf("%s (after %s)", lastReason, FormatDuration(budget)), nil
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Sprintf("%s (after %s)", lastReason, FormatDuration(budget)), nil
		case <-time.After(locatePollInterval):
		}
	}
}

// resolveStrategy runs one query pass for a strategy. Results are
// filtered to rendered elements; selectors routinely also match
// hidden templates, and those can't be acted on.
func resolveStrategy(ctx context.Context, q domQuerier, st *Strategy) ([]cdp.BackendNodeID, error) {
	switch st.Kind() {
	case "role":
		ids, err := q.QueryAXRole(ctx, st.Role.Role, st.Role.Name)
		if err != nil {
			return nil, err
		}
		return renderedOnly(ctx, q, ids), nil

	case "label":
		ids, err := q.QueryAll(ctx, labelSelector(st.Label))
		if err != nil {
			return nil, err
		}
		return renderedOnly(ctx, q, ids), nil

	case "text":
		ids, err := q.SearchXPath(ctx, textXPath(st.Text))
		if err != nil {
			return nil, err
		}
		return renderedOnly(ctx, q, ids), nil

	case "css":
		ids, err := q.QueryAll(ctx, st.CSS)
		if err != nil {
			return nil, err
		}
		return renderedOnly(ctx, q, ids), nil

	case "geometry":
		return resolveGeometry(ctx, q, st.Geometry)
	}
	return nil, fmt.Errorf("invalid strategy")
}

// renderedOnly keeps elements that have a nonzero box model.
func renderedOnly(ctx context.Context, q domQuerier, ids []cdp.BackendNodeID) []cdp.BackendNodeID {
	var out []cdp.BackendNodeID
	for _, id := range ids {
		box, err := q.BoxModel(ctx, id)
		if err != nil || box.W <= 0 || box.H <= 0 {
			continue
		}
		out = append(out, id)
	}
	return out
}

// resolveGeometry picks at most one element from the interactive
// census by position or size. Ties keep the earlier element.
func resolveGeometry(ctx context.Context, q domQuerier, g *GeometryQuery) ([]cdp.BackendNodeID, error) {
	selector := g.Within
	if selector == "" {
		selector = interactiveSelector
	}

	ids, err := q.QueryAll(ctx, selector)
	if err != nil {
		return nil, err
	}

	var bestID cdp.BackendNodeID
	var bestBox *ElementBox
	for _, id := range ids {
		box, err := q.BoxModel(ctx, id)
		if err != nil || box.W <= 0 || box.H <= 0 {
			continue
		}
		if bestBox == nil || geometryBetter(g.Pick, box, bestBox) {
			bestID = id
			bestBox = box
		}
	}

	if bestBox == nil {
		return nil, nil
	}
	return []cdp.BackendNodeID{bestID}, nil
}

func geometryBetter(pick string, b, than *ElementBox) bool {
	bx, by := b.Center()
	tx, ty := than.Center()
	switch pick {
	case "rightmost":
		return bx > tx
	case "leftmost":
		return bx < tx
	case "topmost":
		return by < ty
	case "bottommost":
		return by > ty
	case "largest":
		return b.Area() > than.Area()
	}
	return false
}

// labelSelector matches the attributes that label an element for
// assistive tech and tooltips.
func labelSelector(label string) string {
	lit := cssAttrLiteral(label)
	return fmt.Sprintf("[aria-label=%s], [placeholder=%s], [title=%s], [alt=%s]", lit, lit, lit, lit)
}

func cssAttrLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// textXPath matches elements whose own text nodes contain the needle.
// Matching on descendant text instead would select every ancestor up
// to <html> and ambiguity would be guaranteed.
func textXPath(needle string) string {
	return fmt.Sprintf(`//*[text()[contains(normalize-space(.), %s)]]`, xpathLiteral(needle))
}

// xpathLiteral quotes a string for XPath 1.0, which has no escape
// syntax; strings holding both quote kinds need concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, '"', `)
		}
		fmt.Fprintf(&b, "%q", p)
	}
	b.WriteString(")")
	return b.String()
}

// resolveChainOnce sweeps the whole chain without waiting, for
// assertion polling where the caller owns the retry loop.
func resolveChainOnce(ctx context.Context, q domQuerier, chain []Strategy) (*ElementHandle, error) {
	if len(chain) == 0 {
		return nil, &NotFoundError{}
	}

	var attempts []StrategyAttempt
	for i := range chain {
		st := &chain[i]
		ids, err := resolveStrategy(ctx, q, st)
		if err != nil {
			attempts = append(attempts, StrategyAttempt{Strategy: st.String(), Reason: err.Error()})
			continue
		}
		switch {
		case len(ids) == 1:
			return &ElementHandle{
				BackendID:   ids[0],
				Strategy:    *st,
				StrategyIdx: i,
				Confidence:  st.Confidence(),
				chain:       chain,
			}, nil
		case len(ids) > 1:
			return nil, &AmbiguousMatchError{Strategy: st.String(), Count: len(ids)}
		default:
			attempts = append(attempts, StrategyAttempt{Strategy: st.String(), Reason: "no match"})
		}
	}

	return nil, &NotFoundError{Attempts: attempts}
}
