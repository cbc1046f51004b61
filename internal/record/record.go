// Package record holds the ExtractionRecord: goal-relevant data harvested
// from a page plus the provenance block that travels with it into every
// output format.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// MetadataKey is the reserved entry name under which Metadata is serialized.
const MetadataKey = "_metadata"

// Method records how a Record was produced.
type Method string

const (
	MethodAI                Method = "ai_powered"
	MethodTextFallback      Method = "text_fallback"
	MethodFallbackStructure Method = "fallback_structure"
)

// Metadata is the provenance of a Record.
type Metadata struct {
	SourceURL   string    `json:"source_url"`
	PageTitle   string    `json:"page_title"`
	WebsiteType string    `json:"website_type"`
	Goal        string    `json:"extraction_goal"`
	Method      Method    `json:"extraction_method"`
	Timestamp   time.Time `json:"extraction_timestamp"`
	Note        string    `json:"note,omitempty"`
}

// Record is an ExtractionRecord. Fields never contains MetadataKey.
type Record struct {
	Fields   *Map
	Metadata Metadata
}

// New builds a Record, dropping any MetadataKey entry from fields.
func New(fields *Map, meta Metadata) *Record {
	if fields == nil {
		fields = NewMap()
	}
	fields.Delete(MetadataKey)
	return &Record{Fields: fields, Metadata: meta}
}

// MarshalJSON emits the fields in order followed by the metadata entry.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Fields.writeJSON(&buf); err != nil {
		return nil, err
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, err
	}

	out := buf.Bytes()
	out = out[:len(out)-1] // drop closing brace
	if r.Fields.Len() > 0 {
		out = append(out, ',')
	}
	key, _ := json.Marshal(MetadataKey)
	out = append(out, key...)
	out = append(out, ':')
	out = append(out, meta...)
	out = append(out, '}')
	return out, nil
}

// Parse reads a Record back from its JSON form.
func Parse(data []byte) (*Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("record: invalid JSON")
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return nil, errors.New("record: not a JSON object")
	}

	fields := MapFromJSON(res)
	var meta Metadata
	if m := res.Get(MetadataKey); m.Exists() {
		if err := json.Unmarshal([]byte(m.Raw), &meta); err != nil {
			return nil, fmt.Errorf("record: metadata: %w", err)
		}
	}
	return New(fields, meta), nil
}

// Map returns the metadata as it is serialized, in field order.
func (m Metadata) Map() *Map {
	out := NewMap().
		Set("source_url", m.SourceURL).
		Set("page_title", m.PageTitle).
		Set("website_type", m.WebsiteType).
		Set("extraction_goal", m.Goal).
		Set("extraction_method", string(m.Method)).
		Set("extraction_timestamp", m.Timestamp.Format(time.RFC3339Nano))
	if m.Note != "" {
		out.Set("note", m.Note)
	}
	return out
}
