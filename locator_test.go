package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
)

// fakeDOM is a scriptable domQuerier. Elements without an entry in
// boxes get a default rendered box; an explicit zero box marks a
// hidden element.
type fakeDOM struct {
	css       map[string][]cdp.BackendNodeID
	xpath     map[string][]cdp.BackendNodeID
	roles     map[string][]cdp.BackendNodeID
	boxes     map[cdp.BackendNodeID]*ElementBox
	missFirst int
	queries   []string
}

func (f *fakeDOM) QueryAll(ctx context.Context, selector string) ([]cdp.BackendNodeID, error) {
	f.queries = append(f.queries, "css:"+selector)
	if f.missFirst > 0 {
		f.missFirst--
		return nil, nil
	}
	return f.css[selector], nil
}

func (f *fakeDOM) SearchXPath(ctx context.Context, xpath string) ([]cdp.BackendNodeID, error) {
	f.queries = append(f.queries, "xpath:"+xpath)
	return f.xpath[xpath], nil
}

func (f *fakeDOM) QueryAXRole(ctx context.Context, role, name string) ([]cdp.BackendNodeID, error) {
	f.queries = append(f.queries, "role:"+role+"/"+name)
	return f.roles[role+"/"+name], nil
}

func (f *fakeDOM) BoxModel(ctx context.Context, id cdp.BackendNodeID) (*ElementBox, error) {
	if box, ok := f.boxes[id]; ok {
		return box, nil
	}
	return &ElementBox{W: 20, H: 10}, nil
}

func (f *fakeDOM) queried(prefix string) bool {
	for _, q := range f.queries {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}

// fast gives every strategy a budget short enough for a single poll.
func fast(st Strategy) Strategy {
	st.Timeout = Duration(time.Millisecond)
	return st
}

func TestLocate_FirstStrategyWins(t *testing.T) {
	dom := &fakeDOM{
		roles: map[string][]cdp.BackendNodeID{"button/Save": {7}},
		css:   map[string][]cdp.BackendNodeID{"#save": {8}},
	}
	chain := []Strategy{
		fast(Strategy{Role: &RoleQuery{Role: "button", Name: "Save"}}),
		fast(Strategy{CSS: "#save"}),
	}

	h, err := locate(context.Background(), dom, chain, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.BackendID != 7 {
		t.Errorf("expected the role match (id 7), got id %d", h.BackendID)
	}
	if h.StrategyIdx != 0 {
		t.Errorf("expected strategy index 0, got %d", h.StrategyIdx)
	}
	if h.Confidence != "high" {
		t.Errorf("expected high confidence for a role match, got %q", h.Confidence)
	}
	if dom.queried("css:#save") {
		t.Error("expected the css fallback to stay untried")
	}
}

func TestLocate_FallsThroughOnMiss(t *testing.T) {
	dom := &fakeDOM{
		css: map[string][]cdp.BackendNodeID{"#save": {8}},
	}
	chain := []Strategy{
		fast(Strategy{Role: &RoleQuery{Role: "button", Name: "Save"}}),
		fast(Strategy{CSS: "#save"}),
	}

	h, err := locate(context.Background(), dom, chain, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.BackendID != 8 {
		t.Errorf("expected the css match (id 8), got id %d", h.BackendID)
	}
	if h.StrategyIdx != 1 {
		t.Errorf("expected strategy index 1, got %d", h.StrategyIdx)
	}
	if h.Confidence != "medium" {
		t.Errorf("expected medium confidence for a css match, got %q", h.Confidence)
	}
}

func TestLocate_RepeatOnUnchangedDOM(t *testing.T) {
	// Re-resolving against the same page must land on the same
	// element via the same strategy, not drift between candidates.
	// The role strategy misses both times, so the repeat has to
	// reproduce the fall-through as well as the element.
	dom := &fakeDOM{
		css: map[string][]cdp.BackendNodeID{"#save": {8}},
	}
	chain := []Strategy{
		fast(Strategy{Role: &RoleQuery{Role: "button", Name: "Save"}}),
		fast(Strategy{CSS: "#save"}),
	}

	first, err := locate(context.Background(), dom, chain, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := locate(context.Background(), dom, chain, time.Second)
	if err != nil {
		t.Fatalf("unexpected error on repeat: %v", err)
	}

	if second.BackendID != first.BackendID {
		t.Errorf("expected the same element twice, got id %d then id %d", first.BackendID, second.BackendID)
	}
	if second.StrategyIdx != first.StrategyIdx {
		t.Errorf("expected the same strategy twice, got index %d then %d", first.StrategyIdx, second.StrategyIdx)
	}
	if second.Confidence != first.Confidence {
		t.Errorf("expected the same confidence twice, got %q then %q", first.Confidence, second.Confidence)
	}
}

func TestLocate_AmbiguousStopsChain(t *testing.T) {
	dom := &fakeDOM{
		css: map[string][]cdp.BackendNodeID{
			".btn":      {1, 2, 3},
			"#fallback": {9},
		},
	}
	chain := []Strategy{
		fast(Strategy{CSS: ".btn"}),
		fast(Strategy{CSS: "#fallback"}),
	}

	_, err := locate(context.Background(), dom, chain, time.Second)
	if err == nil {
		t.Fatal("expected ambiguous match to fail the chain")
	}

	var ambErr *AmbiguousMatchError
	if !errors.As(err, &ambErr) {
		t.Fatalf("expected *AmbiguousMatchError, got %T", err)
	}
	if ambErr.Count != 3 {
		t.Errorf("expected count 3, got %d", ambErr.Count)
	}
	if dom.queried("css:#fallback") {
		t.Error("expected the chain to stop, but the fallback strategy ran")
	}
}

func TestLocate_NotFoundListsAttempts(t *testing.T) {
	dom := &fakeDOM{}
	chain := []Strategy{
		fast(Strategy{Label: "Search"}),
		fast(Strategy{Text: "Submit"}),
	}

	_, err := locate(context.Background(), dom, chain, time.Second)
	if err == nil {
		t.Fatal("expected NotFound when every strategy misses")
	}

	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected *NotFoundError, got %T", err)
	}
	if len(nfErr.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(nfErr.Attempts))
	}
	msg := err.Error()
	if !strings.Contains(msg, `label="Search"`) || !strings.Contains(msg, `text~"Submit"`) {
		t.Errorf("expected both strategies in the message, got:\n%s", msg)
	}
}

func TestLocate_HiddenElementsFiltered(t *testing.T) {
	// Two raw matches, one with a zero box. Only the rendered one
	// counts, so the match is unique rather than ambiguous.
	dom := &fakeDOM{
		css: map[string][]cdp.BackendNodeID{"#app template, #app div": {4, 5}},
		boxes: map[cdp.BackendNodeID]*ElementBox{
			4: {},
			5: {X: 10, Y: 10, W: 100, H: 30},
		},
	}
	chain := []Strategy{fast(Strategy{CSS: "#app template, #app div"})}

	h, err := locate(context.Background(), dom, chain, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.BackendID != 5 {
		t.Errorf("expected the rendered element (id 5), got id %d", h.BackendID)
	}
}

func TestLocate_PollsUntilMount(t *testing.T) {
	// The element appears on the third query pass.
	dom := &fakeDOM{
		css:       map[string][]cdp.BackendNodeID{"#late": {6}},
		missFirst: 2,
	}
	chain := []Strategy{{CSS: "#late"}}

	h, err := locate(context.Background(), dom, chain, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.BackendID != 6 {
		t.Errorf("expected id 6, got id %d", h.BackendID)
	}
}

func TestLocate_GeometryPicks(t *testing.T) {
	boxes := map[cdp.BackendNodeID]*ElementBox{
		1: {X: 0, Y: 50, W: 10, H: 10},
		2: {X: 300, Y: 20, W: 10, H: 10},
		3: {X: 50, Y: 80, W: 200, H: 40},
	}

	tests := []struct {
		pick string
		want cdp.BackendNodeID
	}{
		{"leftmost", 1},
		{"rightmost", 2},
		{"topmost", 2},
		{"bottommost", 3},
		{"largest", 3},
	}

	for _, tt := range tests {
		dom := &fakeDOM{
			css:   map[string][]cdp.BackendNodeID{".toolbar button": {1, 2, 3}},
			boxes: boxes,
		}
		chain := []Strategy{fast(Strategy{Geometry: &GeometryQuery{Pick: tt.pick, Within: ".toolbar button"}})}

		h, err := locate(context.Background(), dom, chain, time.Second)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.pick, err)
		}
		if h.BackendID != tt.want {
			t.Errorf("%s: expected id %d, got id %d", tt.pick, tt.want, h.BackendID)
		}
		if h.Confidence != "low" {
			t.Errorf("%s: expected low confidence, got %q", tt.pick, h.Confidence)
		}
	}
}

func TestLocate_GeometryTieKeepsEarlier(t *testing.T) {
	dom := &fakeDOM{
		css: map[string][]cdp.BackendNodeID{".row": {1, 2}},
		boxes: map[cdp.BackendNodeID]*ElementBox{
			1: {X: 10, Y: 10, W: 30, H: 30},
			2: {X: 10, Y: 10, W: 30, H: 30},
		},
	}
	chain := []Strategy{fast(Strategy{Geometry: &GeometryQuery{Pick: "largest", Within: ".row"}})}

	h, err := locate(context.Background(), dom, chain, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.BackendID != 1 {
		t.Errorf("expected the earlier element to win the tie, got id %d", h.BackendID)
	}
}

func TestLocate_GeometryTieStableAcrossCalls(t *testing.T) {
	// A tie broken by census order must break the same way on every
	// resolution, or retries would click a different element.
	dom := &fakeDOM{
		css: map[string][]cdp.BackendNodeID{".row": {1, 2}},
		boxes: map[cdp.BackendNodeID]*ElementBox{
			1: {X: 10, Y: 10, W: 30, H: 30},
			2: {X: 10, Y: 10, W: 30, H: 30},
		},
	}
	chain := []Strategy{fast(Strategy{Geometry: &GeometryQuery{Pick: "largest", Within: ".row"}})}

	first, err := locate(context.Background(), dom, chain, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := locate(context.Background(), dom, chain, time.Second)
	if err != nil {
		t.Fatalf("unexpected error on repeat: %v", err)
	}
	if first.BackendID != 1 || second.BackendID != 1 {
		t.Errorf("expected the tie to resolve to id 1 both times, got id %d then id %d", first.BackendID, second.BackendID)
	}
}

func TestLocate_GeometryDefaultCensus(t *testing.T) {
	dom := &fakeDOM{
		css: map[string][]cdp.BackendNodeID{interactiveSelector: {2}},
	}
	chain := []Strategy{fast(Strategy{Geometry: &GeometryQuery{Pick: "topmost"}})}

	h, err := locate(context.Background(), dom, chain, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.BackendID != 2 {
		t.Errorf("expected id 2, got id %d", h.BackendID)
	}
	if !dom.queried("css:" + interactiveSelector) {
		t.Error("expected the default interactive census to be queried")
	}
}

func TestLocate_EmptyChain(t *testing.T) {
	_, err := locate(context.Background(), &fakeDOM{}, nil, time.Second)
	if err == nil {
		t.Fatal("expected error for empty chain")
	}
	if !strings.Contains(err.Error(), "no locator strategies declared") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestResolveChainOnce_NoWaiting(t *testing.T) {
	dom := &fakeDOM{}
	chain := []Strategy{{CSS: "#missing"}, {Label: "Search"}}

	start := time.Now()
	_, err := resolveChainOnce(context.Background(), dom, chain)
	if err == nil {
		t.Fatal("expected NotFound")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("expected a single immediate sweep, took %s", elapsed)
	}

	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected *NotFoundError, got %T", err)
	}
}

func TestResolveChainOnce_Ambiguous(t *testing.T) {
	dom := &fakeDOM{css: map[string][]cdp.BackendNodeID{".dup": {1, 2}}}

	_, err := resolveChainOnce(context.Background(), dom, []Strategy{{CSS: ".dup"}})
	var ambErr *AmbiguousMatchError
	if !errors.As(err, &ambErr) {
		t.Fatalf("expected *AmbiguousMatchError, got %v", err)
	}
}

func TestStrategyBudget(t *testing.T) {
	chain := []Strategy{
		{CSS: "#a", Timeout: Duration(3 * time.Second)},
		{CSS: "#b"},
		{CSS: "#c"},
	}

	if got := strategyBudget(chain, 0, 9*time.Second); got != 3*time.Second {
		t.Errorf("expected the explicit timeout, got %s", got)
	}
	if got := strategyBudget(chain, 1, 9*time.Second); got != 3*time.Second {
		t.Errorf("expected an even split of 3s, got %s", got)
	}
	if got := strategyBudget(chain, 2, 600*time.Millisecond); got != minStrategyBudget {
		t.Errorf("expected the minimum floor %s, got %s", minStrategyBudget, got)
	}
}

func TestXPathLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, `"plain"`},
		{`with "double"`, `'with "double"'`},
		{`with 'single'`, `"with 'single'"`},
	}
	for _, tt := range tests {
		if got := xpathLiteral(tt.in); got != tt.want {
			t.Errorf("xpathLiteral(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}

	both := xpathLiteral(`mix "d" and 's'`)
	if !strings.HasPrefix(both, "concat(") {
		t.Errorf("expected concat() for mixed quotes, got %s", both)
	}
}

func TestLabelSelector(t *testing.T) {
	sel := labelSelector("Search")
	for _, want := range []string{`[aria-label="Search"]`, `[placeholder="Search"]`, `[title="Search"]`, `[alt="Search"]`} {
		if !strings.Contains(sel, want) {
			t.Errorf("expected %s in selector, got %s", want, sel)
		}
	}

	escaped := labelSelector(`say "hi"`)
	if !strings.Contains(escaped, `\"hi\"`) {
		t.Errorf("expected escaped quotes, got %s", escaped)
	}
}

func TestTextXPath(t *testing.T) {
	xp := textXPath("Submit")
	if !strings.Contains(xp, `contains(normalize-space(.), "Submit")`) {
		t.Errorf("unexpected xpath: %s", xp)
	}
}
