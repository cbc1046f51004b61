package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func sampleRecord() *Record {
	inner := NewMap().
		Set("name", "Ada Lovelace").
		Set("born", json.Number("1815"))
	fields := NewMap().
		Set("person", inner).
		Set("skills", []any{"math", "poetry"}).
		Set("verified", true).
		Set("missing", nil)

	return New(fields, Metadata{
		SourceURL:   "https://example.com/ada",
		PageTitle:   "Ada",
		WebsiteType: "profile",
		Goal:        "who was ada",
		Method:      MethodAI,
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
}

func TestMapKeepsInsertionOrder(t *testing.T) {
	m := NewMap().Set("b", "1").Set("a", "2").Set("c", "3")
	m.Set("b", "updated")
	assert.Equal(t, []string{"b", "a", "c"}, m.Keys())

	m.Delete("a")
	assert.Equal(t, []string{"b", "c"}, m.Keys())

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"b":"updated","c":"3"}`, string(out))
}

func TestNewDropsReservedKey(t *testing.T) {
	fields := NewMap().Set(MetadataKey, "spoofed").Set("title", "x")
	r := New(fields, Metadata{})
	assert.Equal(t, []string{"title"}, r.Fields.Keys())
}

func TestRecordJSONRoundTrip(t *testing.T) {
	rec := sampleRecord()

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	// metadata is always the last entry
	keys := []string{}
	gjson.ParseBytes(data).ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return true
	})
	assert.Equal(t, []string{"person", "skills", "verified", "missing", MetadataKey}, keys)

	back, err := Parse(data)
	require.NoError(t, err)

	opts := cmp.Comparer(func(a, b *Map) bool {
		x, _ := json.Marshal(a)
		y, _ := json.Marshal(b)
		return string(x) == string(y)
	})
	assert.True(t, cmp.Equal(rec.Fields, back.Fields, opts))
	assert.Empty(t, cmp.Diff(rec.Metadata, back.Metadata))
}

func TestRecordEmptyFields(t *testing.T) {
	rec := New(nil, Metadata{Method: MethodFallbackStructure})
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
	assert.Equal(t, "fallback_structure", gjson.GetBytes(data, "_metadata.extraction_method").String())
}

func TestParseRejectsNonObjects(t *testing.T) {
	_, err := Parse([]byte(`[1,2]`))
	assert.Error(t, err)
	_, err = Parse([]byte(`{nope`))
	assert.Error(t, err)
}

func TestMetadataMapMatchesJSON(t *testing.T) {
	rec := sampleRecord()
	rec.Metadata.Note = "degraded"

	raw, err := json.Marshal(rec.Metadata)
	require.NoError(t, err)
	want, err := rec.Metadata.Map().MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(want))
	assert.Equal(t, "source_url", rec.Metadata.Map().Keys()[0])
}
