package decision

import (
	"encoding/json"
	"strings"

	"github.com/v0xg/browserpilot/internal/page"
)

// MaxElements caps the element list sent to the model.
const MaxElements = 20

var classHints = []string{"search", "login", "submit", "button", "nav", "menu"}

// ElementView is the model-facing description of one element.
type ElementView struct {
	Index       int    `json:"index"`
	Tag         string `json:"tag"`
	Text        string `json:"text"`
	Clickable   bool   `json:"clickable"`
	Input       bool   `json:"input"`
	Link        string `json:"link,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Type        string `json:"type,omitempty"`
	ClassHint   string `json:"class_hint,omitempty"`
	ID          string `json:"id,omitempty"`
}

// Views returns the first MaxElements elements of snap in index order with
// their length-capped contextual hints.
func Views(snap *page.Snapshot) []ElementView {
	if snap == nil {
		return nil
	}
	n := min(len(snap.Elements), MaxElements)
	views := make([]ElementView, 0, n)
	for _, el := range snap.Elements[:n] {
		v := ElementView{
			Index:       el.Index,
			Tag:         el.Tag,
			Text:        truncate(el.Text, 60),
			Clickable:   el.Clickable,
			Input:       el.Input,
			Link:        truncate(el.Href, 100),
			Placeholder: truncate(el.Placeholder, 30),
			Type:        el.Type,
			ID:          truncate(el.ID, 30),
		}
		if cls := strings.ToLower(el.Class); containsAny(cls, classHints) {
			v.ClassHint = truncate(cls, 50)
		}
		views = append(views, v)
	}
	return views
}

// bounded returns the elements backing Views.
func bounded(snap *page.Snapshot) []page.Element {
	if snap == nil {
		return nil
	}
	return snap.Elements[:min(len(snap.Elements), MaxElements)]
}

func viewsJSON(views []ElementView) string {
	if len(views) == 0 {
		return "[]"
	}
	b, err := json.MarshalIndent(views, "", " ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
