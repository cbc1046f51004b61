// Package goal turns the user's natural-language goal into the decisions the
// agent makes before its first step: output format, starting URL, step
// budget and the named routines to run.
package goal

import (
	"regexp"
	"strings"

	"github.com/v0xg/browserpilot/internal/artifact"
)

// DefaultStartURL is used when nothing in the goal points elsewhere.
const DefaultStartURL = "https://duckduckgo.com/"

// Goal is a parsed goal.
type Goal struct {
	// Raw is the goal with routine directives removed.
	Raw string
	// Text is what the model sees: Raw without the explicit URL.
	Text string
	// URL is the explicit target URL, if the goal named one.
	URL string
	// Routines are the requested routine names, lowercased, in order.
	Routines []string
}

var (
	routineLine = regexp.MustCompile(`(?i)^\s*RUN_FUNCTION\s+([a-zA-Z_]\w*)`)
	explicitURL = regexp.MustCompile(`https?://[\w\-.]+[^\s]*`)
	spaces      = regexp.MustCompile(`\s+`)
)

// Parse extracts directives and the explicit URL from raw.
func Parse(raw string) Goal {
	routines, cleaned := ExtractRoutines(raw)
	if cleaned == "" {
		cleaned = strings.TrimSpace(raw)
	}

	g := Goal{Raw: cleaned, Text: cleaned, Routines: routines}
	if loc := explicitURL.FindStringIndex(cleaned); loc != nil {
		g.URL = strings.TrimRight(cleaned[loc[0]:loc[1]], `".,;`)
		text := cleaned[:loc[0]] + " " + cleaned[loc[1]:]
		text = strings.TrimSpace(spaces.ReplaceAllString(text, " "))
		if text != "" {
			g.Text = text
		}
	}
	return g
}

// ExtractRoutines pulls "RUN_FUNCTION name" lines out of raw.
func ExtractRoutines(raw string) ([]string, string) {
	var names []string
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		if m := routineLine.FindStringSubmatch(line); m != nil {
			names = append(names, strings.ToLower(m[1]))
			continue
		}
		kept = append(kept, line)
	}
	return names, strings.TrimSpace(strings.Join(kept, "\n"))
}

// StartURL picks where the agent begins: the explicit URL if present, else a
// category entry point.
func (g Goal) StartURL() string {
	if g.URL != "" {
		return g.URL
	}
	return EntryPoint(g.Raw)
}

// EntryPoint chooses a starting URL from goal keywords alone.
func EntryPoint(text string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "search", "find", "look for", "google"):
		return DefaultStartURL
	case containsAny(lower, "github", "code repository"):
		return "https://www.github.com"
	case containsAny(lower, "buy", "purchase", "product", "price", "amazon"):
		return "https://www.amazon.com"
	}
	return DefaultStartURL
}

// Category is a coarse task class used to size the step budget.
type Category int

const (
	General Category = iota
	Extraction
	Research
	FormFilling
	Shopping
	JobSearch
)

var categoryNames = map[Category]string{
	General:     "general",
	Extraction:  "extraction",
	Research:    "research",
	FormFilling: "form",
	Shopping:    "shopping",
	JobSearch:   "job_search",
}

func (c Category) String() string { return categoryNames[c] }

// DefaultBudget is the step budget of a General task.
const DefaultBudget = 20

var budgets = map[Category]int{
	General:     DefaultBudget,
	Extraction:  15,
	Research:    25,
	FormFilling: 20,
	Shopping:    18,
	JobSearch:   20,
}

// Budget returns the step ceiling for c.
func (c Category) Budget() int {
	if b, ok := budgets[c]; ok {
		return b
	}
	return DefaultBudget
}

// Classify maps goal text to a category. The first matching class wins.
func Classify(text string) Category {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "extract", "get info", "download"):
		return Extraction
	case containsAny(lower, "research", "analyze", "compare", "comprehensive"):
		return Research
	case containsAny(lower, "fill", "submit", "register", "apply", "multiple"):
		return FormFilling
	case containsAny(lower, "buy", "product", "price", "review"):
		return Shopping
	case containsAny(lower, "job", "career", "position"):
		return JobSearch
	}
	return General
}

// StepBudget is Classify(text).Budget().
func StepBudget(text string) int {
	return Classify(text).Budget()
}

type formatRule struct {
	format   artifact.Format
	patterns []*regexp.Regexp
}

func rule(f artifact.Format, patterns ...string) formatRule {
	r := formatRule{format: f}
	for _, p := range patterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	return r
}

// checked in order; the first hit wins
var formatRules = []formatRule{
	rule(artifact.PDF, `\bpdf\b`, `pdf format`, `save.*pdf`, `as pdf`, `to pdf`),
	rule(artifact.CSV, `\bcsv\b`, `csv format`, `save.*csv`, `as csv`, `to csv`),
	rule(artifact.JSON, `\bjson\b`, `json format`, `save.*json`, `as json`, `to json`),
	rule(artifact.HTML, `\bhtml\b`, `html format`, `save.*html`, `as html`, `to html`),
	rule(artifact.MD, `\bmarkdown\b`, `md format`, `save.*markdown`, `as markdown`, `to md`),
	rule(artifact.TXT, `\btext\b`, `txt format`, `save.*text`, `as text`, `to txt`, `plain text`),
}

// DetectFormat returns the format the goal text asks for, or requested when
// it asks for none.
func DetectFormat(text string, requested artifact.Format) artifact.Format {
	lower := strings.ToLower(text)
	for _, r := range formatRules {
		for _, p := range r.patterns {
			if p.MatchString(lower) {
				return r.format
			}
		}
	}
	return requested
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
