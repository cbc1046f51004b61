package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/v0xg/browserpilot/internal/record"
)

// Limits of the model-free summary.
const (
	SummaryLines   = 50
	MinKeyTextLen  = 30
	MaxKeyTextLen  = 200
	MaxRawFallback = 2000
)

// Summarize scans the first SummaryLines lines of normalized content and
// sorts them into headings, key text and lists by their prefix.
func Summarize(content string) *record.Map {
	lines := strings.Split(content, "\n")

	headings := []any{}
	keyText := []any{}
	lists := []any{}
	var current []any

	for _, line := range lines[:min(len(lines), SummaryLines)] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "HEADING:"); ok {
			headings = append(headings, strings.TrimSpace(rest))
		} else if rest, ok := strings.CutPrefix(line, "TEXT:"); ok {
			if text := strings.TrimSpace(rest); len([]rune(text)) > MinKeyTextLen {
				keyText = append(keyText, Truncate(text, MaxKeyTextLen))
			}
		} else if strings.HasPrefix(line, ListMarker) {
			if len(current) > 0 {
				lists = append(lists, current)
			}
			current = nil
		} else if rest, ok := strings.CutPrefix(line, "- "); ok {
			// list items lose their indent to TrimSpace
			current = append(current, strings.TrimSpace(rest))
		}
	}
	if len(current) > 0 {
		lists = append(lists, current)
	}

	return record.NewMap().
		Set("headings", headings).
		Set("key_text", keyText).
		Set("lists", lists).
		Set("total_lines", json.Number(strconv.Itoa(len(lines))))
}
