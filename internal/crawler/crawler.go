// Package crawler is the go-rod implementation of the browsing
// collaborator: one Chromium page per job, driven through page.Browser.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/page"
)

// Options configures the browser.
type Options struct {
	Width      int
	Height     int
	Headless   bool
	Timeout    time.Duration // per navigation
	ProfileDir string        // Chrome/Chromium profile directory for authenticated sessions
	Bin        string        // browser binary; looked up when empty

	// Proxy is a proxy server URL without credentials.
	Proxy         string
	ProxyUser     string
	ProxyPassword string
}

// DefaultOptions returns a 1280x800 headless configuration.
func DefaultOptions() Options {
	return Options{Width: 1280, Height: 800, Headless: true, Timeout: 30 * time.Second}
}

var (
	_ page.Browser          = (*Browser)(nil)
	_ page.ChallengeSurface = (*Browser)(nil)
)

// Browser wraps the Rod browser and the page the job drives.
type Browser struct {
	browser *rod.Browser
	page    *rod.Page
	opts    Options
	health  func() page.Health
	logger  *zap.Logger
}

// Launch starts a browser and opens a blank page.
func Launch(ctx context.Context, opts Options, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Width == 0 || opts.Height == 0 {
		opts.Width, opts.Height = 1280, 800
	}

	l := launcher.New().Context(ctx).Headless(opts.Headless)
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	} else if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	}
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}
	if opts.Proxy != "" {
		l = l.Proxy(opts.Proxy)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	if opts.ProxyUser != "" {
		wait := browser.HandleAuth(opts.ProxyUser, opts.ProxyPassword)
		go func() {
			if err := wait(); err != nil {
				logger.Debug("Proxy auth handler stopped", zap.Error(err))
			}
		}()
	}

	p, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	err = p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	return &Browser{
		browser: browser,
		page:    p,
		opts:    opts,
		logger:  logger.With(zap.String("component", "crawler")),
	}, nil
}

// WithHealth sets the source of HealthStats.
func (b *Browser) WithHealth(fn func() page.Health) *Browser {
	b.health = fn
	return b
}

// Close cleans up browser resources.
func (b *Browser) Close() error {
	var errs []error
	if b.page != nil {
		errs = append(errs, b.page.Close())
	}
	if b.browser != nil {
		errs = append(errs, b.browser.Close())
	}
	return errors.Join(errs...)
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	p := b.page.Context(ctx).Timeout(b.opts.Timeout)
	defer p.CancelTimeout()

	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	b.settle(ctx)
	return nil
}

// settle waits for the network to go quiet and, on client-rendered pages,
// for interactive elements to appear.
func (b *Browser) settle(ctx context.Context) {
	// persistent connections (WebSockets, polling) never go idle
	idle := b.page.Context(ctx).Timeout(5 * time.Second)
	idle.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
	idle.CancelTimeout()

	if spa, err := b.page.Context(ctx).Eval(spaJS); err == nil && spa.Value.Bool() {
		b.waitForInteractiveElements(ctx, 5*time.Second)
	}
}

// waitForInteractiveElements polls until interactive elements appear or the
// timeout passes.
func (b *Browser) waitForInteractiveElements(ctx context.Context, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		res, err := b.page.Context(ctx).Eval(interactiveCountJS)
		if err == nil && res.Value.Int() > 0 {
			// final renders
			sleep(ctx, 300*time.Millisecond)
			return
		}
		if !sleep(ctx, 200*time.Millisecond) {
			return
		}
	}
}

func (b *Browser) Snapshot(ctx context.Context, withScreenshot bool) (*page.Snapshot, error) {
	p := b.page.Context(ctx)

	info, err := p.Info()
	if err != nil {
		return nil, fmt.Errorf("page info: %w", err)
	}
	res, err := p.Eval(elementsJS, IndexAttr, MaxTextLen)
	if err != nil {
		return nil, fmt.Errorf("extract elements: %w", err)
	}
	elements, err := decodeElements(res.Value.Str())
	if err != nil {
		return nil, err
	}

	var shot []byte
	if withScreenshot {
		if shot, err = b.Screenshot(ctx); err != nil {
			b.logger.Warn("Screenshot failed", zap.Error(err))
		}
	}
	return page.NewSnapshot(info.URL, info.Title, shot, elements), nil
}

func (b *Browser) element(ctx context.Context, index int, snap *page.Snapshot) (*rod.Element, error) {
	if !snap.Has(index) {
		return nil, fmt.Errorf("element %d not in snapshot", index)
	}
	el, err := b.page.Context(ctx).Timeout(5 * time.Second).Element(indexSelector(index))
	if err != nil {
		return nil, fmt.Errorf("element %d: %w", index, err)
	}
	return el.CancelTimeout(), nil
}

func (b *Browser) Click(ctx context.Context, index int, snap *page.Snapshot) error {
	el, err := b.element(ctx, index, snap)
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		b.logger.Debug("Scroll into view failed", zap.Int("index", index), zap.Error(err))
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %d: %w", index, err)
	}
	return nil
}

func (b *Browser) Type(ctx context.Context, index int, text string, snap *page.Snapshot) error {
	el, err := b.element(ctx, index, snap)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("focus %d: %w", index, err)
	}
	if err := el.SelectAllText(); err != nil {
		b.logger.Debug("Select text failed", zap.Int("index", index), zap.Error(err))
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("type into %d: %w", index, err)
	}
	return nil
}

func (b *Browser) Scroll(ctx context.Context, dir page.Direction, amount int) error {
	dy := float64(amount)
	if dir == page.Up {
		dy = -dy
	}
	if err := b.page.Context(ctx).Mouse.Scroll(0, dy, 5); err != nil {
		return fmt.Errorf("scroll %s: %w", dir, err)
	}
	return nil
}

func (b *Browser) PressKey(ctx context.Context, name string) error {
	key, err := KeyFor(name)
	if err != nil {
		return err
	}
	if err := b.page.Context(ctx).Keyboard.Type(key); err != nil {
		return fmt.Errorf("press %s: %w", name, err)
	}
	return nil
}

func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	info, err := b.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (b *Browser) Title(ctx context.Context) (string, error) {
	info, err := b.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (b *Browser) RawHTML(ctx context.Context) (string, error) {
	return b.page.Context(ctx).HTML()
}

func (b *Browser) BodyText(ctx context.Context) (string, error) {
	body, err := b.page.Context(ctx).Element("body")
	if err != nil {
		return "", err
	}
	return body.Text()
}

func (b *Browser) HealthStats() page.Health {
	if b.health == nil {
		return page.Health{Current: b.opts.Proxy}
	}
	return b.health()
}

func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	return b.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
