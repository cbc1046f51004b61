// Package pagetest provides an in-memory page.Browser for tests.
package pagetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/v0xg/browserpilot/internal/page"
)

// Page is one scripted page.
type Page struct {
	Title    string
	HTML     string
	Body     string
	Elements []page.Element
	// Challenge marks the page as showing a challenge widget.
	Challenge bool
}

// Browser is a scripted page.Browser. Clicking an element with an Href
// follows the link when the target is a known page.
type Browser struct {
	mu      sync.Mutex
	pages   map[string]*Page
	current string
	calls   []string
	filled  string
	inputs  []page.Input

	// Frames are sent by Screencast before it waits for ctx.
	Frames []page.Frame

	NavigateErr error
	SnapshotErr error
	HTMLErr     error
	BodyErr     error
	Health      page.Health
}

// New returns a Browser that knows pages.
func New(pages map[string]*Page) *Browser {
	if pages == nil {
		pages = map[string]*Page{}
	}
	return &Browser{pages: pages, Health: page.Health{Available: 1, Total: 1}}
}

// Calls returns the recorded calls in order.
func (b *Browser) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Filled returns the last text typed into a challenge input.
func (b *Browser) Filled() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filled
}

// SetPage adds or replaces a page.
func (b *Browser) SetPage(url string, p *Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[url] = p
}

func (b *Browser) record(format string, args ...any) {
	b.calls = append(b.calls, fmt.Sprintf(format, args...))
}

func (b *Browser) page() *Page {
	if p, ok := b.pages[b.current]; ok {
		return p
	}
	return &Page{}
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("navigate %s", url)
	if b.NavigateErr != nil {
		return b.NavigateErr
	}
	b.current = url
	return nil
}

func (b *Browser) Snapshot(ctx context.Context, withScreenshot bool) (*page.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SnapshotErr != nil {
		return nil, b.SnapshotErr
	}
	p := b.page()
	var shot []byte
	if withScreenshot {
		shot = Screenshot()
	}
	return page.NewSnapshot(b.current, p.Title, shot, p.Elements), nil
}

func (b *Browser) Click(ctx context.Context, index int, snap *page.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("click %d", index)
	el, ok := snap.Lookup(index)
	if !ok {
		return fmt.Errorf("element %d not found", index)
	}
	if _, known := b.pages[el.Href]; known {
		b.current = el.Href
	}
	return nil
}

func (b *Browser) Type(ctx context.Context, index int, text string, snap *page.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("type %d %s", index, text)
	if !snap.Has(index) {
		return fmt.Errorf("element %d not found", index)
	}
	return nil
}

func (b *Browser) Scroll(ctx context.Context, dir page.Direction, amount int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("scroll %s %d", dir, amount)
	return nil
}

func (b *Browser) PressKey(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("key %s", key)
	return nil
}

func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, nil
}

func (b *Browser) Title(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.page().Title, nil
}

func (b *Browser) RawHTML(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.HTMLErr != nil {
		return "", b.HTMLErr
	}
	return b.page().HTML, nil
}

func (b *Browser) BodyText(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.BodyErr != nil {
		return "", b.BodyErr
	}
	return b.page().Body, nil
}

func (b *Browser) HealthStats() page.Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Health
}

func (b *Browser) ChallengePresent(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.page().Challenge, nil
}

// FillFirstTextInput records the text; a correct answer is not modelled, so
// tests clear the challenge with SetPage.
func (b *Browser) FillFirstTextInput(ctx context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("fill %s", text)
	if !b.page().Challenge {
		return errors.New("no visible text input")
	}
	b.filled = text
	return nil
}

func (b *Browser) ClickFirstSubmit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("submit")
	return nil
}

func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	return Screenshot(), nil
}

// Screenshot returns a small valid PNG.
func Screenshot() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for x := 0; x < 32; x++ {
		img.Set(x, x%24, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func (b *Browser) Screencast(ctx context.Context, quality int, frame func(page.Frame)) error {
	b.mu.Lock()
	b.record("screencast %d", quality)
	frames := append([]page.Frame(nil), b.Frames...)
	b.mu.Unlock()

	for _, f := range frames {
		frame(f)
	}
	<-ctx.Done()
	return nil
}

func (b *Browser) Input(ctx context.Context, in page.Input) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if in.Type != page.Mouse && in.Type != page.Keyboard {
		return fmt.Errorf("unsupported input %q", in.Type)
	}
	b.inputs = append(b.inputs, in)
	return nil
}

// Inputs returns the viewer input received so far.
func (b *Browser) Inputs() []page.Input {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]page.Input(nil), b.inputs...)
}

var (
	_ page.Browser          = (*Browser)(nil)
	_ page.ChallengeSurface = (*Browser)(nil)
	_ page.Screencaster     = (*Browser)(nil)
)
