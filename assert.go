package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
)

const assertPollInterval = 250 * time.Millisecond

// stateReader is the page surface assertions read from.
type stateReader interface {
	domQuerier
	NodeVisible(ctx context.Context, id cdp.BackendNodeID) (bool, error)
	NodeText(ctx context.Context, id cdp.BackendNodeID) (string, error)
	NodeAttr(ctx context.Context, id cdp.BackendNodeID, name string) (string, bool, error)
}

// AssertionOutcome is what an assertion observed. A mismatch is a
// recorded fact, not an error; the runner decides whether it aborts
// the scenario.
type AssertionOutcome struct {
	Holds    bool
	Expected string
	Actual   string
}

// assertState polls the expectation until it holds or the budget
// expires, so "the heading appears" means appears, not "existed at
// the instant we looked". The returned error only ever reports
// cancellation. A deadline on ctx, the step budget's included, is
// the same answer as the poll window closing: the expectation did
// not hold in time, and the last outcome says what was seen instead.
func assertState(ctx context.Context, rdr stateReader, chain []Strategy, exp *Expectation, timeout time.Duration) (AssertionOutcome, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)

	var outcome AssertionOutcome
	for {
		outcome = checkExpectation(ctx, rdr, chain, exp)
		if outcome.Holds {
			return outcome, nil
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return outcome, ctx.Err()
		}
		if ctx.Err() != nil || !time.Now().Add(assertPollInterval).Before(deadline) {
			return outcome, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return outcome, ctx.Err()
			}
			return outcome, nil
		case <-time.After(assertPollInterval):
		}
	}
}

// checkExpectation evaluates the expectation once against the live
// page.
func checkExpectation(ctx context.Context, rdr stateReader, chain []Strategy, exp *Expectation) AssertionOutcome {
	out := AssertionOutcome{Expected: exp.String()}

	switch exp.Kind {
	case ExpectVisible:
		h, err := resolveChainOnce(ctx, rdr, chain)
		if err != nil {
			out.Actual = describeResolveFailure(err)
			return out
		}
		visible, err := rdr.NodeVisible(ctx, h.BackendID)
		if err != nil {
			out.Actual = err.Error()
			return out
		}
		if visible {
			out.Holds = true
			out.Actual = "visible"
		} else {
			out.Actual = "present but hidden"
		}

	case ExpectAbsent:
		// Absence means no strategy in the chain finds anything; a
		// fallback selector still matching means the element is there.
		total := 0
		detail := ""
		for i := range chain {
			ids, err := resolveStrategy(ctx, rdr, &chain[i])
			if err != nil {
				continue
			}
			if len(ids) > 0 {
				total += len(ids)
				if detail == "" {
					detail = fmt.Sprintf("%d match(es) for %s", len(ids), chain[i].String())
				}
			}
		}
		if total == 0 {
			out.Holds = true
			out.Actual = "absent"
		} else {
			out.Actual = detail
		}

	case ExpectAttrEquals:
		h, err := resolveChainOnce(ctx, rdr, chain)
		if err != nil {
			out.Actual = describeResolveFailure(err)
			return out
		}
		val, present, err := rdr.NodeAttr(ctx, h.BackendID, exp.Attr)
		if err != nil {
			out.Actual = err.Error()
			return out
		}
		if !present {
			out.Actual = fmt.Sprintf("attribute %q missing", exp.Attr)
			return out
		}
		if val == exp.Value {
			out.Holds = true
		}
		out.Actual = fmt.Sprintf("attribute %q is %q", exp.Attr, val)

	case ExpectTextContains:
		h, err := resolveChainOnce(ctx, rdr, chain)
		if err != nil {
			out.Actual = describeResolveFailure(err)
			return out
		}
		text, err := rdr.NodeText(ctx, h.BackendID)
		if err != nil {
			out.Actual = err.Error()
			return out
		}
		if strings.Contains(text, exp.Text) {
			out.Holds = true
			out.Actual = fmt.Sprintf("text contains %q", exp.Text)
		} else {
			out.Actual = fmt.Sprintf("text is %q", truncateText(text, 120))
		}

	case ExpectCountCompare:
		// Counting uses the first strategy only; fallback strategies
		// describe the same single element, not the same collection.
		ids, err := resolveStrategy(ctx, rdr, &chain[0])
		if err != nil {
			out.Actual = err.Error()
			return out
		}
		n := len(ids)
		out.Actual = fmt.Sprintf("%d elements", n)
		out.Holds = compareCount(n, exp.Op, exp.Count)

	default:
		out.Actual = fmt.Sprintf("unknown expectation kind %q", exp.Kind)
	}

	return out
}

// describeResolveFailure renders locator failures for the Actual
// field. Ambiguity names the guilty strategy; plain misses stay short.
func describeResolveFailure(err error) string {
	var amb *AmbiguousMatchError
	if errors.As(err, &amb) {
		return fmt.Sprintf("%d matches for %s", amb.Count, amb.Strategy)
	}
	return "not found"
}

func compareCount(n int, op string, want int) bool {
	switch op {
	case "eq":
		return n == want
	case "ne":
		return n != want
	case "lt":
		return n < want
	case "le":
		return n <= want
	case "gt":
		return n > want
	case "ge":
		return n >= want
	}
	return false
}
