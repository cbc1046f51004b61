// Package routine holds the named routines a goal can request with a
// "RUN_FUNCTION name" line. Routines run once, before the first step.
package routine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/v0xg/browserpilot/internal/antibot"
	"github.com/v0xg/browserpilot/internal/page"
)

// Env is what a routine may act on.
type Env struct {
	JobID   string
	Browser page.Browser
	// Resolver is nil when the browser exposes no challenge surface.
	Resolver *antibot.Resolver
}

// Result is reported in the routine's completion event.
type Result map[string]any

// Func is a routine.
type Func func(ctx context.Context, env Env) (Result, error)

// ErrNoChallengeSurface is returned by routines that need to interact with a
// challenge widget the browser cannot reach.
var ErrNoChallengeSurface = errors.New("browser has no challenge surface")

// Registry maps routine names to implementations. It is safe for
// concurrent use.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Func)}
}

// Default returns a registry with the built-in routines.
func Default() *Registry {
	r := NewRegistry()
	r.Register("handle_captcha", HandleCaptcha)
	r.Register("export_tables", ExportTables)
	return r
}

// Register adds or replaces a routine.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[name] = fn
}

// Lookup returns the routine registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.m[name]
	return fn, ok
}

// Names lists the registered routines, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.m))
	for n := range r.m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HandleCaptcha runs the challenge resolution protocol on the current page.
func HandleCaptcha(ctx context.Context, env Env) (Result, error) {
	if env.Resolver == nil {
		return nil, ErrNoChallengeSurface
	}
	url, _ := env.Browser.CurrentURL(ctx)
	out, err := env.Resolver.Resolve(ctx, url, "captcha")
	res := Result{
		"detected": out.Detected,
		"applied":  out.Applied,
		"cleared":  out.Cleared,
	}
	if out.Attempt != nil {
		res["solution_type"] = out.Attempt.SolutionType
	}
	return res, err
}
