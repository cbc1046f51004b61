package ai

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/stretchr/testify/assert"
)

func stalledEstimator(wait time.Duration) (*Estimator, chan struct{}) {
	release := make(chan struct{})
	e := NewEstimator()
	e.wait = wait
	e.load = func(string) (*tiktoken.Tiktoken, error) {
		<-release
		return nil, errors.New("bpe download failed")
	}
	return e, release
}

func TestEstimatorDoesNotWaitOnSlowEncodingLoad(t *testing.T) {
	e, release := stalledEstimator(20 * time.Millisecond)
	defer close(release)

	text := strings.Repeat("word ", 40)
	start := time.Now()
	assert.Equal(t, Rough(text), e.Count("", []Part{{Text: text}}))
	assert.Equal(t, Rough(text)+ImageTokens, e.Count("", []Part{{Text: text}, {Image: []byte{1}}}))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEstimatorFallsBackWhenEncodingFails(t *testing.T) {
	e := NewEstimator()
	calls := 0
	e.load = func(string) (*tiktoken.Tiktoken, error) {
		calls++
		return nil, errors.New("offline")
	}

	assert.Equal(t, Rough("system prompt")+Rough("hello there"), e.Count("system prompt", []Part{{Text: "hello there"}}))
	assert.Equal(t, Rough("again"), e.Count("again", nil))
	assert.Equal(t, 1, calls)
}

func TestNilEstimatorIsRough(t *testing.T) {
	var e *Estimator
	assert.Equal(t, Rough("abcdefgh"), e.Count("abcdefgh", nil))
}
