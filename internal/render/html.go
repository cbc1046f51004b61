package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/v0xg/browserpilot/internal/record"
)

const htmlStyle = "<style>body{font-family:Arial,sans-serif;margin:40px;} h1,h2,h3{color:#333;} " +
	".metadata{background:#f5f5f5;padding:15px;border-radius:5px;margin-bottom:20px;}</style>"

// HTML writes rec as a standalone page. Every record string is escaped and
// heading levels stop at h6.
func HTML(rec *record.Record) []byte {
	m := rec.Metadata
	w := &htmlWriter{}
	w.add("<!DOCTYPE html><html><head><title>" + Title + "</title>")
	w.add(htmlStyle)
	w.add("</head><body>")
	w.add("<h1>" + Title + "</h1>")
	w.add("<div class='metadata'>")
	if m.SourceURL != "" {
		src := html.EscapeString(m.SourceURL)
		w.add(fmt.Sprintf("<p><strong>Source:</strong> <a href='%s'>%s</a></p>", src, src))
	} else {
		w.add("<p><strong>Source:</strong> " + unknown + "</p>")
	}
	w.add("<p><strong>Goal:</strong> " + html.EscapeString(orUnknown(m.Goal)) + "</p>")
	w.add("<p><strong>Website Type:</strong> " + html.EscapeString(orUnknown(m.WebsiteType)) + "</p>")
	w.add("</div>")

	walk(rec.Fields, 0, w)
	w.add("</body></html>")
	return []byte(strings.Join(w.parts, "\n"))
}

type htmlWriter struct {
	parts []string
}

func (w *htmlWriter) add(s string) { w.parts = append(w.parts, s) }

func (w *htmlWriter) heading(depth int, label string) {
	level := min(depth+2, 6)
	w.add(fmt.Sprintf("<h%d>%s</h%d>", level, html.EscapeString(label), level))
}

func (w *htmlWriter) section(depth int, label string) {
	w.heading(depth, label)
}

func (w *htmlWriter) list(depth int, label string, items []string) {
	w.heading(depth, label)
	w.add("<ul>")
	for _, item := range items {
		w.add("<li>" + html.EscapeString(item) + "</li>")
	}
	w.add("</ul>")
}

func (w *htmlWriter) scalar(_ int, label, value string) {
	w.add("<p><strong>" + html.EscapeString(label) + ":</strong> " + html.EscapeString(value) + "</p>")
}
