package render

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/v0xg/browserpilot/internal/record"
)

// ListSeparator joins list values inside one CSV cell.
const ListSeparator = "; "

// CSV writes rec as a header row and a single data row, nested keys joined
// with "_" and metadata flattened under "_metadata_". When two paths flatten
// to the same column it falls back to a two-column Field,Value table of the
// top-level fields.
func CSV(rec *record.Record) []byte {
	cols, err := flatten(rec)
	if err == nil {
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		header := make([]string, len(cols))
		row := make([]string, len(cols))
		for i, c := range cols {
			header[i], row[i] = c[0], c[1]
		}
		_ = w.Write(header)
		_ = w.Write(row)
		w.Flush()
		if err = w.Error(); err == nil {
			return buf.Bytes()
		}
	}
	return fieldValueTable(rec.Fields)
}

func flatten(rec *record.Record) ([][2]string, error) {
	var cols [][2]string
	seen := make(map[string]bool)

	var visit func(prefix string, m *record.Map) error
	visit = func(prefix string, m *record.Map) error {
		for _, k := range m.Keys() {
			key := k
			if prefix != "" {
				key = prefix + "_" + k
			}
			v, _ := m.Get(k)
			if sub, ok := v.(*record.Map); ok && sub != nil {
				if err := visit(key, sub); err != nil {
					return err
				}
				continue
			}
			if seen[key] {
				return fmt.Errorf("column %q flattened twice", key)
			}
			seen[key] = true
			cols = append(cols, [2]string{key, cell(v)})
		}
		return nil
	}

	if err := visit("", rec.Fields); err != nil {
		return nil, err
	}
	if err := visit(record.MetadataKey, rec.Metadata.Map()); err != nil {
		return nil, err
	}
	return cols, nil
}

func cell(v any) string {
	items, ok := v.([]any)
	if !ok {
		return Scalar(v)
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = Scalar(item)
	}
	return strings.Join(parts, ListSeparator)
}

func fieldValueTable(fields *record.Map) []byte {
	lines := []string{"Field,Value"}
	fields.Each(func(k string, v any) {
		lines = append(lines, fmt.Sprintf(`"%s","%s"`, quote(k), quote(Scalar(v))))
	})
	return []byte(strings.Join(lines, "\n"))
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `"`, `""`)
	return strings.ReplaceAll(s, "\n", " ")
}
