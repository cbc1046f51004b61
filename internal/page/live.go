package page

import (
	"context"
	"time"
)

// Frame is one screencast image of the viewport.
type Frame struct {
	Data      []byte    `json:"data"` // JPEG
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	ScrollX   float64   `json:"scroll_x"`
	ScrollY   float64   `json:"scroll_y"`
	Timestamp time.Time `json:"timestamp"`
}

// Input types.
const (
	Mouse    = "mouse"
	Keyboard = "keyboard"
)

// Input is a mouse or keyboard event sent by a live viewer.
type Input struct {
	Type string `json:"type"` // mouse or keyboard

	// mouse
	Action string  `json:"action,omitempty"` // click, move or scroll
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	DeltaY float64 `json:"delta_y,omitempty"`

	// keyboard: a named key, or literal text
	Key  string `json:"key,omitempty"`
	Text string `json:"text,omitempty"`
}

// Screencaster is implemented by browsers that can stream their viewport
// and accept input from a viewer.
type Screencaster interface {
	// Screencast calls frame for every image until ctx is done.
	Screencast(ctx context.Context, quality int, frame func(Frame)) error
	Input(ctx context.Context, in Input) error
}
