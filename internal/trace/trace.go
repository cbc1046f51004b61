// Package trace records the screenshots of a job's steps and encodes them as
// an animated GIF, with the element each step acted on marked up.
package trace

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/page"
)

// Options configures GIF encoding.
type Options struct {
	// Delay per frame in 100ths of a second.
	Delay    int
	MaxWidth uint
}

// DefaultOptions shows each step for a second at 800px wide.
func DefaultOptions() Options {
	return Options{Delay: 100, MaxWidth: 800}
}

// Frame is one recorded step.
type Frame struct {
	Image  image.Image
	Target *page.Box
	Click  bool
}

// Recorder collects frames of one job. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	frames []Frame
	logger *zap.Logger
}

// NewRecorder returns an empty Recorder.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logger: logger.With(zap.String("component", "trace"))}
}

// Add decodes a screenshot and records it. target is the element the step
// acted on, if any. Undecodable screenshots are skipped.
func (r *Recorder) Add(screenshot []byte, target *page.Element, click bool) {
	if len(screenshot) == 0 {
		return
	}
	img, _, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		r.logger.Debug("Skipping undecodable frame", zap.Error(err))
		return
	}

	f := Frame{Image: img, Click: click}
	if target != nil && target.Box.Width > 0 && target.Box.Height > 0 {
		box := target.Box
		f.Target = &box
	}

	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

// Len returns the number of recorded frames.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Write encodes the recorded frames to path, creating its directory. It
// returns the file size; with no frames nothing is written.
func (r *Recorder) Write(path string, opts Options) (int64, error) {
	r.mu.Lock()
	frames := append([]Frame(nil), r.frames...)
	r.mu.Unlock()

	if len(frames) == 0 {
		return 0, nil
	}
	images := make([]image.Image, len(frames))
	for i, f := range frames {
		images[i] = Annotate(f)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := Encode(f, images, opts); err != nil {
		return 0, fmt.Errorf("encode trace: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	r.logger.Info("Trace written", zap.String("path", path), zap.Int("frames", len(images)),
		zap.Int64("bytes", info.Size()))
	return info.Size(), nil
}

// Encode writes frames as a looping GIF, scaled to opts.MaxWidth with the
// first frame's aspect ratio.
func Encode(w io.Writer, frames []image.Image, opts Options) error {
	if opts.Delay <= 0 {
		opts.Delay = 100
	}
	width := opts.MaxWidth
	if width == 0 {
		width = 800
	}
	bounds := frames[0].Bounds()
	if uint(bounds.Dx()) < width {
		width = uint(bounds.Dx())
	}
	height := uint(float64(width) * float64(bounds.Dy()) / float64(bounds.Dx()))

	g := &gif.GIF{
		Image:     make([]*image.Paletted, len(frames)),
		Delay:     make([]int, len(frames)),
		LoopCount: 0,
	}
	palette := generatePalette(frames[0])

	for i, frame := range frames {
		resized := resize.Resize(width, height, frame, resize.Lanczos3)
		paletted := image.NewPaletted(resized.Bounds(), palette)
		draw.FloydSteinberg.Draw(paletted, resized.Bounds(), resized, image.Point{})
		g.Image[i] = paletted
		g.Delay[i] = opts.Delay
	}
	return gif.EncodeAll(w, g)
}

// generatePalette builds a 256-colour palette from the most frequent colours
// of a sample of img's pixels, padded with grays.
func generatePalette(img image.Image) color.Palette {
	bounds := img.Bounds()
	counts := make(map[color.RGBA]int)

	const step = 4
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			r, g, b, a := img.At(x, y).RGBA()
			counts[color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}]++
		}
	}

	colors := make([]color.RGBA, 0, len(counts))
	for c := range counts {
		colors = append(colors, c)
	}
	sort.Slice(colors, func(i, j int) bool {
		if counts[colors[i]] != counts[colors[j]] {
			return counts[colors[i]] > counts[colors[j]]
		}
		return rgbaLess(colors[i], colors[j])
	})

	palette := make(color.Palette, 0, 256)
	// overlay colours must survive quantization
	palette = append(palette, outlineColor, rippleColor, cursorOutline, cursorFill)
	for _, c := range colors {
		if len(palette) == 256 {
			break
		}
		palette = append(palette, c)
	}
	for len(palette) < 256 {
		gray := uint8(len(palette))
		palette = append(palette, color.RGBA{gray, gray, gray, 255})
	}
	return palette
}

func rgbaLess(a, b color.RGBA) bool {
	if a.R != b.R {
		return a.R < b.R
	}
	if a.G != b.G {
		return a.G < b.G
	}
	if a.B != b.B {
		return a.B < b.B
	}
	return a.A < b.A
}
