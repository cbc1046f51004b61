// Package llmjson pulls a JSON object out of free-form model text.
//
// Models are not guaranteed to answer with bare JSON; they wrap it in prose
// or markdown fences. The policy is: take the span
// from the first '{' to the last '}' and decode it as an object. Anything
// else is a parse failure that the caller is expected to handle with its own
// fallback path.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/v0xg/browserpilot/internal/failure"
)

var (
	// ErrNoObject is returned when the text contains no '{' ... '}' span.
	ErrNoObject = errors.New("no JSON object found in response")
	// ErrMalformed is returned when the span is not a valid JSON object.
	ErrMalformed = errors.New("malformed JSON object in response")
)

// Span returns the substring from the first '{' to the last '}' of raw.
func Span(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// Object extracts the JSON object embedded in raw. The returned result keeps
// the document order of its keys.
func Object(raw string) (gjson.Result, error) {
	span, ok := Span(raw)
	if !ok {
		return gjson.Result{}, failure.New(failure.Parse, "llmjson.Object", ErrNoObject)
	}
	if !gjson.Valid(span) {
		return gjson.Result{}, failure.New(failure.Parse, "llmjson.Object",
			fmt.Errorf("%w (truncated): %s", ErrMalformed, truncate(span, 200)))
	}
	res := gjson.Parse(span)
	if !res.IsObject() {
		return gjson.Result{}, failure.New(failure.Parse, "llmjson.Object", ErrMalformed)
	}
	return res, nil
}

// Decode extracts the embedded object and unmarshals it into a T.
func Decode[T any](raw string) (*T, error) {
	res, err := Object(raw)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal([]byte(res.Raw), &out); err != nil {
		return nil, failure.New(failure.Parse, "llmjson.Decode", fmt.Errorf("unmarshal: %w", err))
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
