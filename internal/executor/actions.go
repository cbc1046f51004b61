package executor

import (
	"context"
	"time"

	"github.com/v0xg/browserpilot/internal/action"
	"github.com/v0xg/browserpilot/internal/failure"
	"github.com/v0xg/browserpilot/internal/page"
)

// dispatch performs a and returns how long the page should settle.
func (e *Executor) dispatch(ctx context.Context, a action.Action, snap *page.Snapshot) (time.Duration, error) {
	switch v := a.(type) {
	case action.Click:
		return e.opts.ClickSettle, transient("click", e.browser.Click(ctx, v.Index, snap))
	case action.Type:
		return e.opts.TypeSettle, transient("type", e.browser.Type(ctx, v.Index, v.Text, snap))
	case action.Scroll:
		return 0, transient("scroll", e.browser.Scroll(ctx, v.Direction, v.Amount))
	case action.PressKey:
		return e.opts.KeySettle, transient("press_key", e.browser.PressKey(ctx, v.Key))
	case action.Navigate:
		if err := action.ValidateURL(v.URL); err != nil {
			return 0, err
		}
		return e.opts.NavigateSettle, transient("navigate", e.browser.Navigate(ctx, v.URL))
	}
	return 0, failure.Inputf("executor.dispatch", "%s is not a browser action", action.Describe(a))
}
