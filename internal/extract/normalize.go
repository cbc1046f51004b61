package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Caps applied while linearizing a page.
const (
	MaxContainers   = 3
	MaxParagraphs   = 20
	MinParagraphLen = 20
	MaxLists        = 5
	MaxListItems    = 10
	MaxTables       = 3
	MaxTableRows    = 10
	MaxContent      = 12000
	MaxBodyText     = 8000
)

// Line prefixes of normalized content.
const (
	HeadingPrefix  = "HEADING: "
	TextPrefix     = "TEXT: "
	ListMarker     = "LIST:"
	ListItemPrefix = "  - "
	TableMarker    = "TABLE:"
	TableRowPrefix = "  "
)

const noise = "script, style, nav, footer, header, aside, advertisement"

// Normalize linearizes the readable parts of an HTML document into prefixed
// lines: headings, paragraphs, lists and tables from up to three main
// content containers. The result is capped at MaxContent characters.
func Normalize(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find(noise).Remove()

	containers := doc.Find("main, article, section")
	if containers.Length() == 0 {
		containers = doc.Find("body")
	}

	var lines []string
	containers.Slice(0, min(containers.Length(), MaxContainers)).Each(func(_ int, c *goquery.Selection) {
		c.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, h *goquery.Selection) {
			if t := clean(h.Text()); t != "" {
				lines = append(lines, HeadingPrefix+t)
			}
		})

		first(c.Find("p"), MaxParagraphs).Each(func(_ int, p *goquery.Selection) {
			if t := clean(p.Text()); len([]rune(t)) > MinParagraphLen {
				lines = append(lines, TextPrefix+t)
			}
		})

		first(c.Find("ul, ol"), MaxLists).Each(func(_ int, l *goquery.Selection) {
			items := l.Find("li")
			if items.Length() == 0 {
				return
			}
			lines = append(lines, ListMarker)
			first(items, MaxListItems).Each(func(_ int, li *goquery.Selection) {
				if t := clean(li.Text()); t != "" {
					lines = append(lines, ListItemPrefix+t)
				}
			})
		})

		first(c.Find("table"), MaxTables).Each(func(_ int, tbl *goquery.Selection) {
			rows := tbl.Find("tr")
			if rows.Length() == 0 {
				return
			}
			lines = append(lines, TableMarker)
			first(rows, MaxTableRows).Each(func(_ int, tr *goquery.Selection) {
				cells := tr.Find("td, th")
				if cells.Length() == 0 {
					return
				}
				row := strings.Join(cells.Map(func(_ int, cell *goquery.Selection) string {
					return clean(cell.Text())
				}), " | ")
				if strings.TrimSpace(row) != "" {
					lines = append(lines, TableRowPrefix+row)
				}
			})
		})
	})

	return Truncate(strings.Join(lines, "\n"), MaxContent), nil
}

func first(s *goquery.Selection, n int) *goquery.Selection {
	if s.Length() <= n {
		return s
	}
	return s.Slice(0, n)
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
