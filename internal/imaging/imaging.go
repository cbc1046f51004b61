// Package imaging shrinks screenshots before they are sent to a model.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

// Bounds used for model input.
const (
	DecisionWidth  = 1280
	DecisionHeight = 800
	AntiBotWidth   = 1024
	AntiBotHeight  = 768
	JPEGQuality    = 75
)

// Decode reads a PNG or JPEG screenshot.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

// Downscale fits the image inside maxW x maxH, keeping its aspect ratio and
// never enlarging it, and re-encodes it as JPEG.
func Downscale(data []byte, maxW, maxH uint, quality int) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	thumb := resize.Thumbnail(maxW, maxH, img, resize.Lanczos3)

	// JPEG has no alpha; flatten onto an opaque canvas first
	rgba := image.NewRGBA(thumb.Bounds())
	draw.Draw(rgba, rgba.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(rgba, rgba.Bounds(), thumb, thumb.Bounds().Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// ForDecision prepares a screenshot for the decision model.
func ForDecision(data []byte) ([]byte, error) {
	return Downscale(data, DecisionWidth, DecisionHeight, JPEGQuality)
}

// ForAntiBot prepares a screenshot for the anti-bot classifier.
func ForAntiBot(data []byte) ([]byte, error) {
	return Downscale(data, AntiBotWidth, AntiBotHeight, JPEGQuality)
}
