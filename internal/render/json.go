package render

import (
	"github.com/tidwall/pretty"

	"github.com/v0xg/browserpilot/internal/record"
)

// JSON writes rec, metadata included, as an indented object.
func JSON(rec *record.Record) ([]byte, error) {
	raw, err := rec.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return pretty.Pretty(raw), nil
}
