// Package action defines the closed set of things the agent can do to a page.
//
// Every variant is validated when it is built, so a value of type Action is
// always executable against the snapshot it was built from.
package action

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/v0xg/browserpilot/internal/failure"
	"github.com/v0xg/browserpilot/internal/page"
)

// Kind names an action variant on the wire.
type Kind string

const (
	KindClick    Kind = "click"
	KindType     Kind = "type"
	KindScroll   Kind = "scroll"
	KindPressKey Kind = "press_key"
	KindNavigate Kind = "navigate"
	KindExtract  Kind = "extract"
	KindDone     Kind = "done"
)

// Kinds lists every known kind in wire order.
var Kinds = []Kind{KindClick, KindType, KindScroll, KindPressKey, KindNavigate, KindExtract, KindDone}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

const (
	// DefaultScrollAmount is used when a scroll carries no usable amount.
	DefaultScrollAmount = 400
	// DefaultKey is pressed when a press_key decision names no key.
	DefaultKey = "Enter"
	// EndKey jumps to the end of the page.
	EndKey = "End"
)

// Usage is the token accounting of the decision that produced an action.
type Usage struct {
	PromptTokens   int `json:"prompt_tokens"`
	ResponseTokens int `json:"response_tokens"`
	TotalTokens    int `json:"total_tokens"`
}

// Meta is carried by every variant.
type Meta struct {
	Reason string
	Usage  Usage
}

// Info returns the metadata of the action.
func (m Meta) Info() Meta { return m }

func (Meta) sealed() {}

// Action is one of Click, Type, Scroll, PressKey, Navigate, Extract, Done.
type Action interface {
	Kind() Kind
	Info() Meta
	sealed()
}

// Indexed is implemented by the variants that target an element.
type Indexed interface {
	Action
	Target() int
}

type Click struct {
	Meta
	Index int
}

type Type struct {
	Meta
	Index int
	Text  string
}

type Scroll struct {
	Meta
	Direction page.Direction
	Amount    int
}

type PressKey struct {
	Meta
	Key string
}

type Navigate struct {
	Meta
	URL string
}

type Extract struct{ Meta }

type Done struct{ Meta }

func (Click) Kind() Kind    { return KindClick }
func (Type) Kind() Kind     { return KindType }
func (Scroll) Kind() Kind   { return KindScroll }
func (PressKey) Kind() Kind { return KindPressKey }
func (Navigate) Kind() Kind { return KindNavigate }
func (Extract) Kind() Kind  { return KindExtract }
func (Done) Kind() Kind     { return KindDone }

func (c Click) Target() int { return c.Index }
func (t Type) Target() int  { return t.Index }

// NewClick builds a Click on an element of snap.
func NewClick(index int, snap *page.Snapshot, reason string) (Click, error) {
	if !snap.Has(index) {
		return Click{}, failure.Inputf("action.NewClick", "index %d not in snapshot", index)
	}
	return Click{Meta: Meta{Reason: reason}, Index: index}, nil
}

// NewType builds a Type into an element of snap.
func NewType(index int, text string, snap *page.Snapshot, reason string) (Type, error) {
	if !snap.Has(index) {
		return Type{}, failure.Inputf("action.NewType", "index %d not in snapshot", index)
	}
	if text == "" {
		return Type{}, failure.Inputf("action.NewType", "empty text for index %d", index)
	}
	return Type{Meta: Meta{Reason: reason}, Index: index, Text: text}, nil
}

// NewScroll builds a Scroll. Unknown directions scroll down; non-positive
// amounts use DefaultScrollAmount.
func NewScroll(dir page.Direction, amount int, reason string) Scroll {
	if dir != page.Up {
		dir = page.Down
	}
	if amount <= 0 {
		amount = DefaultScrollAmount
	}
	return Scroll{Meta: Meta{Reason: reason}, Direction: dir, Amount: amount}
}

// NewPressKey builds a PressKey.
func NewPressKey(key, reason string) (PressKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return PressKey{}, failure.Inputf("action.NewPressKey", "empty key")
	}
	return PressKey{Meta: Meta{Reason: reason}, Key: key}, nil
}

// NewNavigate builds a Navigate. The target must be an absolute http(s) URL.
func NewNavigate(raw, reason string) (Navigate, error) {
	if err := ValidateURL(raw); err != nil {
		return Navigate{}, err
	}
	return Navigate{Meta: Meta{Reason: reason}, URL: strings.TrimSpace(raw)}, nil
}

// ValidateURL reports an Input error unless raw is an absolute http(s) URL.
func ValidateURL(raw string) error {
	u, err := url.ParseRequestURI(strings.TrimSpace(raw))
	if err != nil {
		return failure.New(failure.Input, "action.ValidateURL", fmt.Errorf("invalid url %q: %w", raw, err))
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return failure.Inputf("action.ValidateURL", "url %q is not an absolute http(s) url", raw)
	}
	return nil
}

// WithUsage returns a copy of a carrying usage.
func WithUsage(a Action, u Usage) Action {
	switch v := a.(type) {
	case Click:
		v.Usage = u
		return v
	case Type:
		v.Usage = u
		return v
	case Scroll:
		v.Usage = u
		return v
	case PressKey:
		v.Usage = u
		return v
	case Navigate:
		v.Usage = u
		return v
	case Extract:
		v.Usage = u
		return v
	case Done:
		v.Usage = u
		return v
	}
	return a
}

// Describe renders a one-line human summary of a.
func Describe(a Action) string {
	switch v := a.(type) {
	case Click:
		return fmt.Sprintf("click [%d]", v.Index)
	case Type:
		return fmt.Sprintf("type [%d] %q", v.Index, v.Text)
	case Scroll:
		return fmt.Sprintf("scroll %s %dpx", v.Direction, v.Amount)
	case PressKey:
		return "press " + v.Key
	case Navigate:
		return "navigate " + v.URL
	case Extract:
		return "extract"
	case Done:
		return "done"
	case nil:
		return "<nil>"
	}
	return string(a.Kind())
}
