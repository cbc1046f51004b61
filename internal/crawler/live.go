package crawler

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/page"
)

var _ page.Screencaster = (*Browser)(nil)

// Screencast streams JPEG frames of the viewport through the CDP screencast
// until ctx is done. Every frame is acknowledged so Chrome keeps sending.
func (b *Browser) Screencast(ctx context.Context, quality int, frame func(page.Frame)) error {
	p := b.page.Context(ctx)
	wait := p.EachEvent(func(e *proto.PageScreencastFrame) {
		if err := (proto.PageScreencastFrameAck{SessionID: e.SessionID}).Call(p); err != nil {
			b.logger.Debug("Screencast ack failed", zap.Error(err))
		}
		f := page.Frame{Data: e.Data}
		if m := e.Metadata; m != nil {
			f.Width, f.Height = int(m.DeviceWidth), int(m.DeviceHeight)
			f.ScrollX, f.ScrollY = m.ScrollOffsetX, m.ScrollOffsetY
			if m.Timestamp != 0 {
				f.Timestamp = m.Timestamp.Time()
			}
		}
		frame(f)
	})

	every := 1
	err := proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       &quality,
		MaxWidth:      &b.opts.Width,
		MaxHeight:     &b.opts.Height,
		EveryNthFrame: &every,
	}.Call(p)
	if err != nil {
		return fmt.Errorf("start screencast: %w", err)
	}
	b.logger.Debug("Screencast started", zap.Int("quality", quality))

	wait()

	// ctx is done by now
	if err := (proto.PageStopScreencast{}).Call(b.page); err != nil {
		b.logger.Debug("Screencast stop failed", zap.Error(err))
	}
	return nil
}

// Input replays a viewer's mouse or keyboard event on the page.
func (b *Browser) Input(ctx context.Context, in page.Input) error {
	p := b.page.Context(ctx)
	switch in.Type {
	case page.Mouse:
		switch in.Action {
		case "move":
			return p.Mouse.MoveTo(proto.Point{X: in.X, Y: in.Y})
		case "scroll":
			return p.Mouse.Scroll(0, in.DeltaY, 1)
		case "click", "":
			if err := p.Mouse.MoveTo(proto.Point{X: in.X, Y: in.Y}); err != nil {
				return fmt.Errorf("move to %.0f,%.0f: %w", in.X, in.Y, err)
			}
			return p.Mouse.Click(proto.InputMouseButtonLeft, 1)
		}
	case page.Keyboard:
		if in.Text != "" {
			return p.InsertText(in.Text)
		}
		key, err := KeyFor(in.Key)
		if err != nil {
			return err
		}
		return p.Keyboard.Type(key)
	}
	return fmt.Errorf("unsupported %s input %q", in.Type, in.Action)
}
