package crawler

import (
	"strings"

	"github.com/go-rod/rod/lib/input"

	"github.com/v0xg/browserpilot/internal/failure"
)

var keys = map[string]input.Key{
	"enter":      input.Enter,
	"return":     input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"space":      input.Key(' '),
	"end":        input.End,
	"home":       input.Home,
	"pagedown":   input.PageDown,
	"pageup":     input.PageUp,
	"arrowdown":  input.ArrowDown,
	"arrowup":    input.ArrowUp,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"down":       input.ArrowDown,
	"up":         input.ArrowUp,
	"left":       input.ArrowLeft,
	"right":      input.ArrowRight,
}

// KeyFor maps a key name such as "Enter", "Page Down" or "a" to a rod key.
func KeyFor(name string) (input.Key, error) {
	norm := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(name))
	if k, ok := keys[norm]; ok {
		return k, nil
	}
	if r := []rune(name); len(r) == 1 {
		return input.Key(r[0]), nil
	}
	return 0, failure.Inputf("crawler.KeyFor", "unknown key %q", name)
}
