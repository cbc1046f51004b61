package render

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/v0xg/browserpilot/internal/record"
)

// Per-string caps of the PDF encoding.
const (
	MaxPDFListItem = 300
	MaxPDFValue    = 800
)

const (
	pdfFont   = "Helvetica"
	pdfMargin = 72
	pdfLine   = 14
)

// PDF lays rec out as a paginated Letter document. Unlike the other
// encoders it can fail, and the error is returned to the caller.
func PDF(rec *record.Record) ([]byte, error) {
	doc := fpdf.New("P", "pt", "Letter", "")
	doc.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	doc.SetAutoPageBreak(true, pdfMargin)
	doc.SetTitle(Title, true)
	doc.SetCreator("browserpilot", true)
	doc.AddPage()

	w := &pdfWriter{doc: doc, tr: doc.UnicodeTranslatorFromDescriptor("")}

	doc.SetFont(pdfFont, "B", 22)
	doc.MultiCell(0, 28, Title, "", "C", false)
	doc.Ln(20)

	m := rec.Metadata
	w.labeled("Source", orUnknown(m.SourceURL))
	w.labeled("Goal", orUnknown(m.Goal))
	w.labeled("Website Type", orUnknown(m.WebsiteType))
	doc.Ln(20)

	walk(rec.Fields, 0, w)

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("build pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type pdfWriter struct {
	doc *fpdf.Fpdf
	tr  func(string) string
}

func (w *pdfWriter) labeled(label, value string) {
	w.doc.SetFont(pdfFont, "B", 11)
	w.doc.Write(pdfLine, w.tr(label+": "))
	w.doc.SetFont(pdfFont, "", 11)
	w.doc.Write(pdfLine, w.tr(value))
	w.doc.Ln(pdfLine)
}

func (w *pdfWriter) section(depth int, label string) {
	size := 13.0
	if depth == 0 {
		size = 17
	}
	w.doc.SetFont(pdfFont, "B", size)
	w.doc.MultiCell(0, size+4, w.tr(label), "", "L", false)
	w.doc.Ln(10)
}

func (w *pdfWriter) list(_ int, label string, items []string) {
	w.doc.SetFont(pdfFont, "B", 11)
	w.doc.MultiCell(0, pdfLine, w.tr(label+":"), "", "L", false)
	w.doc.Ln(6)
	w.doc.SetFont(pdfFont, "", 11)
	for _, item := range items {
		w.doc.MultiCell(0, pdfLine, w.tr("• "+capText(item, MaxPDFListItem)), "", "L", false)
	}
	w.doc.Ln(10)
}

func (w *pdfWriter) scalar(_ int, label, value string) {
	w.labeled(label, capText(value, MaxPDFValue))
	w.doc.Ln(8)
}

// capText cuts s to n characters and marks the cut with "...".
func capText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
