package trace

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

var (
	outlineColor  = color.RGBA{234, 67, 53, 255}
	rippleColor   = color.RGBA{66, 133, 244, 255}
	cursorOutline = color.RGBA{0, 0, 0, 255}
	cursorFill    = color.RGBA{255, 255, 255, 255}
)

// RippleRadius is the radius of the click ripple.
const RippleRadius = 15

// Annotate returns a copy of the frame image with the target outlined and,
// for clicks, a ripple and cursor at the target's centre.
func Annotate(f Frame) image.Image {
	bounds := f.Image.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, f.Image, bounds.Min, draw.Src)

	if f.Target == nil {
		return out
	}
	b := *f.Target
	drawRect(out, b.X, b.Y, b.X+b.Width, b.Y+b.Height, outlineColor)
	if f.Click {
		x, y := b.Center()
		drawClickRipple(out, x, y)
		drawCursor(out, x, y)
	}
	return out
}

func drawRect(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	for t := 0; t < 2; t++ {
		drawLine(img, x1-t, y1-t, x2+t, y1-t, c)
		drawLine(img, x2+t, y1-t, x2+t, y2+t, c)
		drawLine(img, x2+t, y2+t, x1-t, y2+t, c)
		drawLine(img, x1-t, y2+t, x1-t, y1-t, c)
	}
}

// drawCursor draws an arrow cursor with its tip at x, y.
func drawCursor(img *image.RGBA, x, y int) {
	points := []struct{ dx, dy int }{
		{0, 0}, {0, 16}, {4, 12}, {7, 18}, {10, 17}, {7, 11}, {12, 11},
	}
	for dy := 0; dy < 18; dy++ {
		for dx := 0; dx < 13; dx++ {
			if insideCursor(dx, dy) {
				setPixel(img, x+dx, y+dy, cursorFill)
			}
		}
	}
	for i, p1 := range points {
		p2 := points[(i+1)%len(points)]
		drawLine(img, x+p1.dx, y+p1.dy, x+p2.dx, y+p2.dy, cursorOutline)
	}
}

func insideCursor(dx, dy int) bool {
	if dy < 0 || dy > 16 || dx < 0 {
		return false
	}
	if dy <= 11 {
		return dx <= dy*12/16
	}
	return dx <= 4
}

// drawLine is Bresenham's algorithm.
func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := abs(y2 - y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy

	for {
		setPixel(img, x1, y1, c)
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func drawClickRipple(img *image.RGBA, x, y int) {
	for angle := 0.0; angle < 360; angle++ {
		rad := angle * math.Pi / 180
		px := x + int(RippleRadius*math.Cos(rad))
		py := y + int(RippleRadius*math.Sin(rad))
		setPixel(img, px, py, rippleColor)
		setPixel(img, px+1, py, rippleColor)
		setPixel(img, px, py+1, rippleColor)
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
