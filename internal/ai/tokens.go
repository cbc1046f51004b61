package ai

import (
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// ImageTokens is the flat cost charged for one image part.
const ImageTokens = 258

// DefaultLoadWait bounds how long a count waits for the encoding on first
// use. tiktoken fetches the BPE file unless TIKTOKEN_CACHE_DIR holds it.
const DefaultLoadWait = 3 * time.Second

// Estimator counts tokens locally with the cl100k_base encoding. Until the
// encoding is loaded, and if it never loads, it falls back to one token per
// four bytes.
type Estimator struct {
	encoding string
	wait     time.Duration
	load     func(encoding string) (*tiktoken.Tiktoken, error)

	start    sync.Once
	ready    chan struct{}
	deadline time.Time
	enc      *tiktoken.Tiktoken
	initErr  error
}

// NewEstimator returns an Estimator using cl100k_base.
func NewEstimator() *Estimator {
	return &Estimator{
		encoding: "cl100k_base",
		wait:     DefaultLoadWait,
		load:     tiktoken.GetEncoding,
		ready:    make(chan struct{}),
	}
}

// encoder returns the loaded encoding, or nil while it is still loading or
// after it failed. Only the calls made within the wait of the first one
// block.
func (e *Estimator) encoder() *tiktoken.Tiktoken {
	e.start.Do(func() {
		e.deadline = time.Now().Add(e.wait)
		go func() {
			defer close(e.ready)
			e.enc, e.initErr = e.load(e.encoding)
		}()
	})

	timer := time.NewTimer(time.Until(e.deadline))
	defer timer.Stop()
	select {
	case <-e.ready:
	case <-timer.C:
		return nil
	}
	if e.initErr != nil {
		return nil
	}
	return e.enc
}

// Count returns the estimated prompt size of system plus parts.
func (e *Estimator) Count(system string, parts []Part) int {
	total := e.text(system)
	for _, p := range parts {
		if p.IsImage() {
			total += ImageTokens
			continue
		}
		total += e.text(p.Text)
	}
	return total
}

func (e *Estimator) text(s string) int {
	if s == "" {
		return 0
	}
	if e == nil {
		return Rough(s)
	}
	enc := e.encoder()
	if enc == nil {
		return Rough(s)
	}
	return len(enc.Encode(s, nil, nil))
}

// Rough is the last-resort estimate: one token per four bytes.
func Rough(s string) int {
	return len(s) / 4
}
