// Package render encodes an ExtractionRecord in one of the artifact formats.
//
// The text-like encoders share one recursive walk over the record fields:
// nested mappings open a section one level deeper, sequences become bullet
// lists and everything else is a labeled line. The metadata block is written
// once as a header and never walked.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/v0xg/browserpilot/internal/artifact"
	"github.com/v0xg/browserpilot/internal/failure"
	"github.com/v0xg/browserpilot/internal/record"
)

// Title heads every human-readable encoding.
const Title = "Extracted Information"

const unknown = "Unknown"

// Render encodes rec as f. Only PDF can fail to build.
func Render(rec *record.Record, f artifact.Format) ([]byte, error) {
	switch f {
	case artifact.JSON:
		return JSON(rec)
	case artifact.TXT:
		return Text(rec), nil
	case artifact.MD:
		return Markdown(rec), nil
	case artifact.HTML:
		return HTML(rec), nil
	case artifact.CSV:
		return CSV(rec), nil
	case artifact.PDF:
		return PDF(rec)
	}
	return nil, failure.Inputf("render.Render", "unsupported format %q", f)
}

// visitor receives the walk of a record body.
type visitor interface {
	section(depth int, label string)
	list(depth int, label string, items []string)
	scalar(depth int, label, value string)
}

func walk(m *record.Map, depth int, v visitor) {
	m.Each(func(k string, val any) {
		switch x := val.(type) {
		case *record.Map:
			if k == record.MetadataKey || x == nil {
				return
			}
			v.section(depth, Label(k))
			walk(x, depth+1, v)
		case []any:
			items := make([]string, len(x))
			for i, item := range x {
				items[i] = Scalar(item)
			}
			v.list(depth, Label(k), items)
		default:
			v.scalar(depth, Label(k), Scalar(val))
		}
	})
}

// Label turns a record key into a heading: underscores become spaces and
// every word is title-cased.
func Label(key string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(key, "_", " "))
}

// Scalar formats a record value for display. Mappings and sequences nested
// inside lists are written as compact JSON.
func Scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	case *record.Map, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
