package routine

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Table is one HTML table read off a page.
type Table struct {
	Headers []string
	Rows    [][]string
}

// ReadTables parses every table in html. Headers come from thead th cells
// when present; rows are every tr with at least one cell.
func ReadTables(html string) ([]Table, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var tables []Table
	doc.Find("table").Each(func(_ int, tbl *goquery.Selection) {
		var t Table
		tbl.Find("thead th").Each(func(_ int, th *goquery.Selection) {
			if h := strings.TrimSpace(th.Text()); h != "" {
				t.Headers = append(t.Headers, h)
			}
		})
		tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := tr.Find("th, td")
			if cells.Length() == 0 {
				return
			}
			t.Rows = append(t.Rows, cells.Map(func(_ int, c *goquery.Selection) string {
				return strings.TrimSpace(c.Text())
			}))
		})
		tables = append(tables, t)
	})
	return tables, nil
}

// CSV writes the table with its header row, when the header matches the
// row width, followed by the rows that are not the header itself.
func (t Table) CSV() (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := t.Rows
	if len(t.Headers) > 0 && sameWidth(t.Headers, rows) {
		if err := w.Write(t.Headers); err != nil {
			return "", err
		}
		if len(rows) > 0 && slices.Equal(rows[0], t.Headers) {
			rows = rows[1:]
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sameWidth(headers []string, rows [][]string) bool {
	for _, r := range rows {
		if len(r) != len(headers) {
			return false
		}
	}
	return true
}

// ExportTables summarizes the first table on the current page as CSV text.
func ExportTables(ctx context.Context, env Env) (Result, error) {
	html, err := env.Browser.RawHTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	tables, err := ReadTables(html)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	if len(tables) == 0 {
		return Result{"tables": 0}, nil
	}

	text, err := tables[0].CSV()
	if err != nil {
		return nil, fmt.Errorf("encode table: %w", err)
	}
	return Result{
		"tables": len(tables),
		"rows":   len(tables[0].Rows),
		"csv":    text,
	}, nil
}
