package action

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/v0xg/browserpilot/internal/failure"
	"github.com/v0xg/browserpilot/internal/page"
)

// ErrUnknownKind is returned for an "action" value outside Kinds.
var ErrUnknownKind = errors.New("unknown action kind")

// Wire is the JSON shape of an action, as exchanged with the model and
// published in decision events.
type Wire struct {
	Action    Kind           `json:"action"`
	Index     *int           `json:"index,omitempty"`
	Text      string         `json:"text,omitempty"`
	Direction page.Direction `json:"direction,omitempty"`
	Amount    int            `json:"amount,omitempty"`
	Key       string         `json:"key,omitempty"`
	URL       string         `json:"url,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Usage     Usage          `json:"token_usage"`
}

// ToWire converts a to its JSON shape.
func ToWire(a Action) Wire {
	meta := a.Info()
	w := Wire{Action: a.Kind(), Reason: meta.Reason, Usage: meta.Usage}
	switch v := a.(type) {
	case Click:
		w.Index = &v.Index
	case Type:
		w.Index = &v.Index
		w.Text = v.Text
	case Scroll:
		w.Direction = v.Direction
		w.Amount = v.Amount
	case PressKey:
		w.Key = v.Key
	case Navigate:
		w.URL = v.URL
	}
	return w
}

// Parse builds an Action from a decoded model object, validating any index
// against snap.
func Parse(obj gjson.Result, snap *page.Snapshot) (Action, error) {
	if !obj.IsObject() {
		return nil, failure.New(failure.Parse, "action.Parse", errors.New("decision is not an object"))
	}

	kind := Kind(obj.Get("action").String())
	reason := obj.Get("reason").String()

	switch kind {
	case KindClick:
		idx, err := index(obj)
		if err != nil {
			return nil, err
		}
		return checked(NewClick(idx, snap, reason))
	case KindType:
		idx, err := index(obj)
		if err != nil {
			return nil, err
		}
		return checked(NewType(idx, obj.Get("text").String(), snap, reason))
	case KindScroll:
		return NewScroll(page.Direction(obj.Get("direction").String()), int(obj.Get("amount").Int()), reason), nil
	case KindPressKey:
		key := obj.Get("key")
		if !key.Exists() {
			return checked(NewPressKey(DefaultKey, reason))
		}
		return checked(NewPressKey(key.String(), reason))
	case KindNavigate:
		return checked(NewNavigate(obj.Get("url").String(), reason))
	case KindExtract:
		return Extract{Meta{Reason: reason}}, nil
	case KindDone:
		return Done{Meta{Reason: reason}}, nil
	}
	return nil, failure.New(failure.Input, "action.Parse", fmt.Errorf("%w: %q", ErrUnknownKind, kind))
}

func checked[A Action](a A, err error) (Action, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

func index(obj gjson.Result) (int, error) {
	r := obj.Get("index")
	if r.Type != gjson.Number {
		return 0, failure.Inputf("action.Parse", "missing or non-numeric index %q", r.Raw)
	}
	return int(r.Int()), nil
}
