package events

import (
	"context"
	"sync"
	"time"
)

// DefaultBacklog is how many recent events a Hub replays to a late
// subscriber of a job.
const DefaultBacklog = 64

// DefaultBuffer is the per-subscriber channel size.
const DefaultBuffer = 128

// DefaultRetention is how long a finished job's events stay available for
// replay.
const DefaultRetention = 5 * time.Minute

// Hub is the process-scoped broadcast point between running jobs and their
// subscribers. Events of one job reach its subscribers in publish order; a
// subscriber that falls behind loses events rather than stalling the job.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[*subscriber]struct{}
	backlog map[string][]Event
	closed  map[string]bool
	expiry  map[string]*time.Timer
	keep    int
	retain  time.Duration
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithRetention sets how long a finished job is kept for replay. A zero or
// negative d forgets the job as soon as it finishes.
func WithRetention(d time.Duration) HubOption {
	return func(h *Hub) { h.retain = d }
}

type subscriber struct {
	ch chan Event
}

// NewHub returns an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:    make(map[string]map[*subscriber]struct{}),
		backlog: make(map[string][]Event),
		closed:  make(map[string]bool),
		expiry:  make(map[string]*time.Timer),
		keep:    DefaultBacklog,
		retain:  DefaultRetention,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish delivers e to the subscribers of e.JobID. A Finished event closes
// every subscription of the job and starts its retention period.
func (h *Hub) Publish(_ context.Context, e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed[e.JobID] {
		return
	}
	log := append(h.backlog[e.JobID], e)
	if len(log) > h.keep {
		log = log[len(log)-h.keep:]
	}
	h.backlog[e.JobID] = log

	for s := range h.subs[e.JobID] {
		select {
		case s.ch <- e:
		default:
		}
	}

	if e.Type == Finished {
		h.closed[e.JobID] = true
		for s := range h.subs[e.JobID] {
			close(s.ch)
		}
		delete(h.subs, e.JobID)

		id := e.JobID
		if h.retain <= 0 {
			h.drop(id)
			return
		}
		h.expiry[id] = time.AfterFunc(h.retain, func() { h.expire(id) })
	}
}

func (h *Hub) expire(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed[jobID] {
		h.drop(jobID)
	}
}

// Subscribe returns the events of jobID, starting with the retained backlog.
// The channel is closed after the job's Finished event or when cancel is
// called.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	log := h.backlog[jobID]
	s := &subscriber{ch: make(chan Event, max(DefaultBuffer, len(log)))}
	for _, e := range log {
		s.ch <- e
	}
	if h.closed[jobID] {
		close(s.ch)
		return s.ch, func() {}
	}

	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*subscriber]struct{})
	}
	h.subs[jobID][s] = struct{}{}

	var once sync.Once
	return s.ch, func() {
		once.Do(func() { h.unsubscribe(jobID, s) })
	}
}

func (h *Hub) unsubscribe(jobID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[jobID][s]; !ok {
		return
	}
	delete(h.subs[jobID], s)
	if len(h.subs[jobID]) == 0 {
		delete(h.subs, jobID)
	}
	close(s.ch)
}

// Subscribers returns the number of live subscriptions to jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// Retained reports whether the hub still holds events of jobID.
func (h *Hub) Retained(jobID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.backlog[jobID]) > 0 || h.closed[jobID]
}

// Jobs returns the number of jobs the hub holds events for.
func (h *Hub) Jobs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.backlog)
}

// Forget drops everything retained for jobID.
func (h *Hub) Forget(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[jobID] {
		close(s.ch)
	}
	delete(h.subs, jobID)
	h.drop(jobID)
}

func (h *Hub) drop(jobID string) {
	if t, ok := h.expiry[jobID]; ok {
		t.Stop()
		delete(h.expiry, jobID)
	}
	delete(h.backlog, jobID)
	delete(h.closed, jobID)
}

// Recorder keeps every published event. It is meant for tests and for
// printing a job summary.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types, with the status appended after a
// colon when present.
func (r *Recorder) Types() []string {
	var out []string
	for _, e := range r.Events() {
		s := string(e.Type)
		if e.Status != "" {
			s += ":" + e.Status
		}
		out = append(out, s)
	}
	return out
}
