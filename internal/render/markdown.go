package render

import (
	"strings"

	"github.com/nao1215/markdown"

	"github.com/v0xg/browserpilot/internal/record"
)

// Markdown writes rec as a Markdown document. Top-level sections are H2.
func Markdown(rec *record.Record) []byte {
	var buf strings.Builder
	md := markdown.NewMarkdown(&buf)

	m := rec.Metadata
	md.H1(Title)
	md.PlainText("")
	md.PlainText("**Source:** " + orUnknown(m.SourceURL))
	md.PlainText("**Goal:** " + orUnknown(m.Goal))
	md.PlainText("**Website Type:** " + orUnknown(m.WebsiteType))
	md.PlainText("")
	md.PlainText("---")
	md.PlainText("")

	walk(rec.Fields, 0, mdWriter{md})
	return []byte(md.String())
}

type mdWriter struct {
	md *markdown.Markdown
}

func (w mdWriter) heading(depth int, label string) {
	switch min(depth+2, 6) {
	case 2:
		w.md.H2(label)
	case 3:
		w.md.H3(label)
	case 4:
		w.md.H4(label)
	case 5:
		w.md.H5(label)
	default:
		w.md.H6(label)
	}
	w.md.PlainText("")
}

func (w mdWriter) section(depth int, label string) {
	w.heading(depth, label)
}

func (w mdWriter) list(depth int, label string, items []string) {
	w.heading(depth, label)
	if len(items) > 0 {
		w.md.BulletList(items...)
	}
	w.md.PlainText("")
}

func (w mdWriter) scalar(_ int, label, value string) {
	w.md.PlainText("**" + label + ":** " + value)
	w.md.PlainText("")
}
