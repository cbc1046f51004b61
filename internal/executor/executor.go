package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/action"
	"github.com/v0xg/browserpilot/internal/failure"
	"github.com/v0xg/browserpilot/internal/page"
)

// Options configures execution behavior
type Options struct {
	ClickSettle    time.Duration // wait after a click
	TypeSettle     time.Duration // wait after typing
	KeySettle      time.Duration // wait after a key press
	NavigateSettle time.Duration // wait after a navigation
	Verbose        bool
}

// DefaultOptions returns the settle delays used by the agent.
func DefaultOptions() Options {
	return Options{
		ClickSettle:    2 * time.Second,
		TypeSettle:     1 * time.Second,
		KeySettle:      2 * time.Second,
		NavigateSettle: 2 * time.Second,
	}
}

// Result describes what happened to one action.
type Result struct {
	// Executed is the action that actually ran; nil when skipped.
	Executed action.Action
	// Target is the element acted on by click and type.
	Target *page.Element
	// Skipped is set when the action's index was not in the snapshot.
	Skipped bool
	Err     error
}

// Executor runs actions against the browsing collaborator, one at a time.
type Executor struct {
	browser page.Browser
	opts    Options
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New returns an Executor for browser.
func New(browser page.Browser, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		browser: browser,
		opts:    opts,
		logger:  logger.With(zap.String("component", "executor")),
		sleep:   Sleep,
	}
}

// Execute runs a against the page snap was taken from. Click and Type whose
// index is absent from snap are skipped without touching the browser.
// Extract and Done are not browser actions and are rejected.
func (e *Executor) Execute(ctx context.Context, a action.Action, snap *page.Snapshot) Result {
	if ix, ok := a.(action.Indexed); ok {
		el, found := snap.Lookup(ix.Target())
		if !found {
			e.logger.Warn("Index not in snapshot, skipping", zap.String("action", action.Describe(a)))
			return Result{Skipped: true}
		}
		res := e.run(ctx, a, snap)
		res.Target = &el
		return res
	}
	return e.run(ctx, a, snap)
}

func (e *Executor) run(ctx context.Context, a action.Action, snap *page.Snapshot) Result {
	if e.opts.Verbose {
		fmt.Printf("  → %s", action.Describe(a))
	}

	settle, err := e.dispatch(ctx, a, snap)
	if err != nil {
		if e.opts.Verbose {
			fmt.Printf(" ✗ (%v)\n", err)
		}
		return Result{Err: err}
	}
	if e.opts.Verbose {
		fmt.Println(" ✓")
	}

	if err := e.sleep(ctx, settle); err != nil {
		return Result{Executed: a, Err: err}
	}
	return Result{Executed: a}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return failure.New(failure.Transient, op, err)
}
