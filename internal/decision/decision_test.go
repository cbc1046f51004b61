package decision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/v0xg/browserpilot/internal/action"
	"github.com/v0xg/browserpilot/internal/ai"
	"github.com/v0xg/browserpilot/internal/page"
)

type scriptedModel struct {
	text   string
	err    error
	system string
	parts  []ai.Part
}

func (m *scriptedModel) Generate(ctx context.Context, system string, parts ...ai.Part) (*ai.Response, error) {
	m.system, m.parts = system, parts
	if m.err != nil {
		return nil, m.err
	}
	return &ai.Response{Text: m.text, PromptTokens: 120, ResponseTokens: 15}, nil
}

func searchPage() *page.Snapshot {
	return page.NewSnapshot("https://duckduckgo.com/", "DuckDuckGo", nil, []page.Element{
		{Index: 0, Tag: "a", Text: "About", Clickable: true, Href: "/about"},
		{Index: 1, Tag: "input", Input: true, Placeholder: "Search the web without being tracked", Type: "text"},
		{Index: 2, Tag: "button", Text: "", Clickable: true, Class: "searchbox_button"},
	})
}

func TestDecideUsesValidModelAction(t *testing.T) {
	m := &scriptedModel{text: `Here you go: {"action": "type", "index": 1, "text": "rust programming language", "reason": "search box"}`}
	d := NewEngine(m, nil).Decide(context.Background(), searchPage(), "search for rust programming language")

	require.False(t, d.Fallback)
	typ, ok := d.Action.(action.Type)
	require.True(t, ok)
	assert.Equal(t, 1, typ.Index)
	assert.Equal(t, "rust programming language", typ.Text)
	assert.Equal(t, action.Usage{PromptTokens: 120, ResponseTokens: 15, TotalTokens: 135}, typ.Usage)
	assert.Equal(t, SearchEngine, d.WebsiteType)
	assert.Equal(t, ai.DecisionSystemPrompt, m.system)
	assert.Contains(t, m.parts[0].Text, "Website Type: search_engine")
}

func TestDecideRejectsUnknownIndex(t *testing.T) {
	m := &scriptedModel{text: `{"action": "click", "index": 42, "reason": "made up"}`}
	d := NewEngine(m, nil).Decide(context.Background(), searchPage(), "search for rust")

	assert.True(t, d.Fallback)
	require.Error(t, d.Err)
	typ, ok := d.Action.(action.Type)
	require.True(t, ok, "got %s", action.Describe(d.Action))
	assert.Equal(t, 1, typ.Index)
	assert.Equal(t, "rust", typ.Text)
	assert.Equal(t, 135, typ.Usage.TotalTokens)
}

func TestDecideRejectsUnknownKind(t *testing.T) {
	m := &scriptedModel{text: `{"action": "hover", "index": 0}`}
	d := NewEngine(m, nil).Decide(context.Background(), searchPage(), "open the about page")

	assert.True(t, d.Fallback)
	assert.ErrorIs(t, d.Err, action.ErrUnknownKind)
}

func TestDecideModelErrorFallsBack(t *testing.T) {
	m := &scriptedModel{err: errors.New("deadline")}
	d := NewEngine(m, nil).Decide(context.Background(), searchPage(), "read about duckduckgo")

	assert.True(t, d.Fallback)
	click, ok := d.Action.(action.Click)
	require.True(t, ok, "got %s", action.Describe(d.Action))
	assert.Equal(t, 0, click.Index)
	assert.Zero(t, click.Usage)
}

func TestFallbackLadder(t *testing.T) {
	results := page.NewSnapshot("https://duckduckgo.com/?q=rust", "rust at DuckDuckGo", nil, []page.Element{
		{Index: 3, Tag: "a", Text: "Short", Clickable: true},
		{Index: 5, Tag: "a", Text: "The Rust Programming Language", Clickable: true},
		{Index: 7, Tag: "input", Input: true, Placeholder: "search"},
	})

	tests := []struct {
		name string
		snap *page.Snapshot
		goal string
		wt   WebsiteType
		want string
	}{
		{"search box first", results, "search for rust lang", SearchResults, `type [7] "rust lang"`},
		{"goal word link", results, "the programming book", GeneralWebsite, "click [5]"},
		{"long search result", results, "zzz yyy xxx", SearchResults, "click [5]"},
		{"scroll default", results, "zzz yyy xxx", GeneralWebsite, "scroll down 400px"},
		{"only stop words skips search box", results, "search", GeneralWebsite, "scroll down 400px"},
		{"empty page", page.NewSnapshot("u", "t", nil, nil), "search for x", GeneralWebsite, "scroll down 400px"},
		{"nil snapshot", nil, "anything", GeneralWebsite, "scroll down 400px"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, action.Describe(Fallback(tt.snap, tt.goal, tt.wt)))
		})
	}
}

func TestSearchQuery(t *testing.T) {
	assert.Equal(t, "rust programming language and as pdf", SearchQuery("search for rust programming language and save as pdf"))
	assert.Equal(t, "Rust 1.80 release notes", SearchQuery("find Rust 1.80 release notes"))
	assert.Equal(t, "a b c d e f", SearchQuery("a b c d e f g h"))
	assert.Equal(t, "", SearchQuery("go to search for"))
}

func TestDetectWebsiteType(t *testing.T) {
	inputs := make([]page.Element, 4)
	for i := range inputs {
		inputs[i] = page.Element{Index: i, Input: true}
	}
	tests := []struct {
		url, title string
		elements   []page.Element
		want       WebsiteType
	}{
		{"https://www.google.com/search?q=x", "x - Google", nil, SearchResults},
		{"https://duckduckgo.com/", "DuckDuckGo", nil, SearchEngine},
		{"https://www.bing.com/", "Bing", []page.Element{{Text: "Search"}}, SearchResults},
		{"https://www.amazon.com/dp/1", "Thing", nil, Ecommerce},
		{"https://x.test", "Cart - Acme Store", nil, Ecommerce},
		{"https://github.com/golang/go", "golang/go", nil, SocialProfile},
		{"https://x.test/apply", "Apply", inputs, FormApplication},
		{"https://x.test", "Daily News", nil, ContentSite},
		{"https://x.test", "About Acme", nil, CompanySite},
		{"https://x.test/directory", "People", nil, DatabaseSite},
		{"https://x.test", "Hello", nil, GeneralWebsite},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectWebsiteType(tt.url, tt.title, tt.elements), tt.url+" "+tt.title)
	}
}

func TestViewsCapsAndHints(t *testing.T) {
	var els []page.Element
	for i := 30; i > 0; i-- {
		els = append(els, page.Element{Index: i, Tag: "a", Text: strings.Repeat("x", 80), Class: "Main-NAV item", Href: strings.Repeat("h", 150)})
	}
	els = append(els, page.Element{Index: 0, Tag: "div", Class: "plain"})
	views := Views(page.NewSnapshot("u", "t", nil, els))

	require.Len(t, views, MaxElements)
	assert.Equal(t, 0, views[0].Index)
	assert.Empty(t, views[0].ClassHint)
	assert.Equal(t, 19, views[19].Index)
	assert.Len(t, views[1].Text, 60)
	assert.Len(t, views[1].Link, 100)
	assert.Equal(t, "main-nav item", views[1].ClassHint)
}

func genSnapshot(t *rapid.T) *page.Snapshot {
	n := rapid.IntRange(0, 8).Draw(t, "n")
	els := make([]page.Element, n)
	for i := range els {
		els[i] = page.Element{
			Index:       rapid.IntRange(0, 50).Draw(t, "index"),
			Tag:         rapid.SampledFrom([]string{"a", "input", "button", "div"}).Draw(t, "tag"),
			Text:        rapid.StringMatching(`[a-z ]{0,20}`).Draw(t, "text"),
			Clickable:   rapid.Bool().Draw(t, "clickable"),
			Input:       rapid.Bool().Draw(t, "input"),
			Placeholder: rapid.SampledFrom([]string{"", "search", "query", "email"}).Draw(t, "placeholder"),
		}
	}
	return page.NewSnapshot("https://duckduckgo.com/?q=x", "results", nil, els)
}

func TestBraceFreeOutputAlwaysYieldsValidAction(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		snap := genSnapshot(t)
		raw := rapid.StringMatching(`[^{}]*`).Draw(t, "raw")
		goal := rapid.StringMatching(`[a-z ]{0,40}`).Draw(t, "goal")

		d := NewEngine(&scriptedModel{text: raw}, nil).Decide(context.Background(), snap, goal)

		if !d.Fallback {
			t.Fatalf("brace-free output %q was not treated as a fallback", raw)
		}
		if d.Action == nil || !d.Action.Kind().Valid() {
			t.Fatalf("invalid action %s", action.Describe(d.Action))
		}
		if ix, ok := d.Action.(action.Indexed); ok && !snap.Has(ix.Target()) {
			t.Fatalf("action %s targets an index outside the snapshot", action.Describe(d.Action))
		}
	})
}
