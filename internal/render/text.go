package render

import (
	"strings"

	"github.com/v0xg/browserpilot/internal/record"
)

// Text writes rec as indented plain text.
func Text(rec *record.Record) []byte {
	t := &textWriter{}
	m := rec.Metadata
	t.line(strings.ToUpper(Title))
	t.line("Source: " + orUnknown(m.SourceURL))
	t.line("Goal: " + orUnknown(m.Goal))
	t.line("Website Type: " + orUnknown(m.WebsiteType))
	t.line(strings.Repeat("-", 60))
	t.line("")

	walk(rec.Fields, 0, t)
	return []byte(strings.Join(t.lines, "\n"))
}

type textWriter struct {
	lines []string
}

func (t *textWriter) line(s string) { t.lines = append(t.lines, s) }

func (t *textWriter) section(depth int, label string) {
	t.line(indent(depth) + label + ":")
}

func (t *textWriter) list(depth int, label string, items []string) {
	t.line(indent(depth) + label + ":")
	for _, item := range items {
		t.line(indent(depth) + "  • " + item)
	}
}

func (t *textWriter) scalar(depth int, label, value string) {
	t.line(indent(depth) + label + ": " + value)
}

func indent(depth int) string { return strings.Repeat("  ", depth) }
