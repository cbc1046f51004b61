package decision

import (
	"fmt"
	"strings"

	"github.com/v0xg/browserpilot/internal/action"
	"github.com/v0xg/browserpilot/internal/page"
)

var (
	searchInputWords = []string{"search", "query", "find"}
	queryStopWords   = map[string]bool{
		"go": true, "to": true, "search": true, "for": true, "find": true,
		"get": true, "save": true, "extract": true, "info": true, "about": true,
	}
)

// MaxQueryWords caps the query typed by the fallback ladder.
const MaxQueryWords = 6

// SearchQuery derives a search query from the goal by dropping command words.
func SearchQuery(goal string) string {
	var words []string
	for _, w := range strings.Fields(goal) {
		if queryStopWords[strings.ToLower(w)] {
			continue
		}
		words = append(words, w)
		if len(words) == MaxQueryWords {
			break
		}
	}
	return strings.Join(words, " ")
}

// Fallback picks an action without the model. Checks run in order: search
// box, goal-word link, first long search result, scroll down. It always
// returns a valid action for snap.
func Fallback(snap *page.Snapshot, goal string, wt WebsiteType) action.Action {
	lower := strings.ToLower(goal)
	var elements []page.Element
	if snap != nil {
		elements = snap.Elements
	}

	if strings.Contains(lower, "search") {
		if query := SearchQuery(goal); query != "" {
			for _, el := range elements {
				if el.Input && containsAny(searchHaystack(el), searchInputWords) {
					if a, err := action.NewType(el.Index, query, snap, "Found search box for user query"); err == nil {
						return a
					}
				}
			}
		}
	}

	goalWords := strings.Fields(lower)
	goalWords = goalWords[:min(len(goalWords), 3)]
	for _, el := range elements {
		if !el.Clickable || el.Text == "" {
			continue
		}
		if containsAny(strings.ToLower(el.Text), goalWords) {
			reason := fmt.Sprintf("Found relevant link: %s", truncate(el.Text, 30))
			if a, err := action.NewClick(el.Index, snap, reason); err == nil {
				return a
			}
		}
	}

	if wt == SearchResults {
		for _, el := range elements {
			if el.Clickable && len([]rune(el.Text)) > 10 {
				if a, err := action.NewClick(el.Index, snap, "Clicking search result for more details"); err == nil {
					return a
				}
			}
		}
	}

	return action.NewScroll(page.Down, action.DefaultScrollAmount, "Exploring page to find relevant content")
}

func searchHaystack(el page.Element) string {
	return strings.ToLower(strings.Join([]string{el.Text, el.Placeholder, el.Type, el.Class, el.ID, el.Href}, " "))
}
