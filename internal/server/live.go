package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/events"
	"github.com/v0xg/browserpilot/internal/page"
	"github.com/v0xg/browserpilot/internal/proxy"
)

// Live view defaults.
const (
	DefaultStreamQuality = 80
	DefaultStreamWait    = 30 * time.Second
)

const (
	streamPing   = 20 * time.Second
	streamPoll   = 100 * time.Millisecond
	frameBacklog = 4
)

// StreamInfo describes a live view session.
type StreamInfo struct {
	Enabled    bool         `json:"enabled"`
	JobID      string       `json:"job_id"`
	Active     bool         `json:"streaming_active"`
	URL        string       `json:"ws_url"`
	Quality    int          `json:"quality"`
	Viewers    int          `json:"viewers"`
	Proxy      string       `json:"current_proxy,omitempty"`
	Created    time.Time    `json:"created_at"`
	ProxyStats *page.Health `json:"proxy_stats,omitempty"`
}

// liveMessage is what /stream/{id} sends.
type liveMessage struct {
	Type    string      `json:"type"`
	Message string      `json:"message,omitempty"`
	Active  *bool       `json:"streaming_active,omitempty"`
	Frame   *page.Frame `json:"frame,omitempty"`
}

// liveSession screencasts one browser to any number of viewers. Slow
// viewers skip frames.
type liveSession struct {
	id      string
	caster  page.Screencaster
	release func() error // set when the session owns the browser
	proxy   string
	quality int
	created time.Time
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	active  bool
	last    *page.Frame
	viewers map[chan page.Frame]struct{}
}

func (l *liveSession) info() StreamInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return StreamInfo{
		Enabled: true,
		JobID:   l.id,
		Active:  l.active,
		URL:     "/stream/" + l.id,
		Quality: l.quality,
		Viewers: len(l.viewers),
		Proxy:   l.proxy,
		Created: l.created,
	}
}

func (l *liveSession) isActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *liveSession) broadcast(f page.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = &f
	for ch := range l.viewers {
		select {
		case ch <- f:
		default:
		}
	}
}

// join registers a viewer. The latest frame, if any, is queued first.
func (l *liveSession) join() (<-chan page.Frame, func()) {
	ch := make(chan page.Frame, frameBacklog)
	l.mu.Lock()
	if l.last != nil {
		ch <- *l.last
	}
	l.viewers[ch] = struct{}{}
	l.mu.Unlock()

	return ch, func() {
		l.mu.Lock()
		delete(l.viewers, ch)
		l.mu.Unlock()
	}
}

// stop ends the screencast and releases an owned browser.
func (l *liveSession) stop() error {
	l.cancel()
	<-l.done
	if l.release != nil {
		return l.release()
	}
	return nil
}

// Sessions holds the live view sessions, keyed by job id.
type Sessions struct {
	mu sync.Mutex
	m  map[string]*liveSession
}

// NewSessions returns an empty registry.
func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]*liveSession)}
}

// Len returns the number of open sessions.
func (ss *Sessions) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.m)
}

func (ss *Sessions) get(id string) (*liveSession, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	l, ok := ss.m[id]
	return l, ok
}

// open starts a session for id unless one exists, in which case the
// existing session is returned with created false.
func (ss *Sessions) open(parent context.Context, id string, caster page.Screencaster, release func() error,
	px string, quality int, now time.Time, logger *zap.Logger) (l *liveSession, created bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if l, ok := ss.m[id]; ok {
		return l, false
	}

	ctx, cancel := context.WithCancel(parent)
	l = &liveSession{
		id:      id,
		caster:  caster,
		release: release,
		proxy:   px,
		quality: quality,
		created: now,
		cancel:  cancel,
		done:    make(chan struct{}),
		active:  true,
		viewers: make(map[chan page.Frame]struct{}),
	}
	ss.m[id] = l

	go func() {
		defer close(l.done)
		err := caster.Screencast(ctx, quality, l.broadcast)
		l.mu.Lock()
		l.active = false
		l.mu.Unlock()
		if err != nil && ctx.Err() == nil {
			logger.Warn("Screencast stopped", zap.String("job_id", id), zap.Error(err))
		}
	}()
	return l, true
}

// remove unregisters l if it is still the session of its id.
func (ss *Sessions) remove(l *liveSession) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.m[l.id] != l {
		return false
	}
	delete(ss.m, l.id)
	return true
}

func (ss *Sessions) removeAll() []*liveSession {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	out := make([]*liveSession, 0, len(ss.m))
	for id, l := range ss.m {
		out = append(out, l)
		delete(ss.m, id)
	}
	return out
}

// wait polls for the session of id for up to d.
func (ss *Sessions) wait(ctx context.Context, id string, d time.Duration) (*liveSession, bool) {
	if l, ok := ss.get(id); ok {
		return l, true
	}
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(streamPoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return ss.get(id)
		case <-tick.C:
			if l, ok := ss.get(id); ok {
				return l, true
			}
		}
	}
}

// startLive opens the live view of a running job on its own browser.
func (s *Server) startLive(ctx context.Context, id string, b page.Browser, px string) *liveSession {
	caster, ok := b.(page.Screencaster)
	if !ok {
		s.logger.Warn("Browser cannot stream, live view disabled", zap.String("job_id", id))
		return nil
	}
	l, created := s.live.open(ctx, id, caster, nil, px, s.quality, s.now(), s.logger)
	if !created {
		s.logger.Warn("Live view already open for job", zap.String("job_id", id))
		return nil
	}
	s.publishStreamInfo(ctx, l)
	return l
}

func (s *Server) stopLive(l *liveSession) {
	if l == nil || !s.live.remove(l) {
		return
	}
	if err := l.stop(); err != nil {
		s.logger.Warn("Live view release failed", zap.String("job_id", l.id), zap.Error(err))
	}
}

func (s *Server) publishStreamInfo(ctx context.Context, l *liveSession) {
	s.hub.Publish(context.WithoutCancel(ctx), events.Event{
		JobID: l.id,
		Type:  events.StreamingInfo,
		Time:  s.now(),
		Data:  map[string]any{"streaming": l.info()},
	})
}

// handleLiveCreate opens a live view on a browser of its own, without a job.
func (s *Server) handleLiveCreate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if l, ok := s.live.get(id); ok {
		writeJSON(w, http.StatusOK, s.streamInfo(l))
		return
	}

	var px *proxy.Proxy
	current := ""
	if best, ok := s.pool.Best(); ok {
		px = &best
		current = best.Server
	}
	b, release, err := s.launch(s.base, s.headless, px)
	if err != nil {
		if px != nil {
			s.pool.Report(px.Server, false)
		}
		s.logger.Error("Live view browser launch failed", zap.String("job_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"enabled": false, "error": err.Error()})
		return
	}
	caster, ok := b.(page.Screencaster)
	if !ok {
		s.releaseQuietly(id, release)
		writeJSON(w, http.StatusNotImplemented, map[string]any{"enabled": false, "error": "browser cannot stream"})
		return
	}

	l, created := s.live.open(s.base, id, caster, release, current, s.quality, s.now(), s.logger)
	if !created {
		s.releaseQuietly(id, release)
	} else {
		s.logger.Info("Live view opened", zap.String("job_id", id), zap.String("proxy", current))
		if info, ok := s.jobs.Get(id); ok && info.Status == Running {
			s.publishStreamInfo(r.Context(), l)
		}
	}
	writeJSON(w, http.StatusOK, s.streamInfo(l))
}

func (s *Server) handleLiveInfo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	l, ok := s.live.get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"enabled": false,
			"error":   "streaming not enabled for this job",
			"job_id":  id,
		})
		return
	}
	writeJSON(w, http.StatusOK, s.streamInfo(l))
}

func (s *Server) handleLiveDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	l, ok := s.live.get(id)
	if !ok || !s.live.remove(l) {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "no streaming session found", "job_id": id})
		return
	}
	if err := l.stop(); err != nil {
		s.logger.Warn("Live view release failed", zap.String("job_id", id), zap.Error(err))
	}
	s.logger.Info("Live view closed", zap.String("job_id", id))
	writeJSON(w, http.StatusOK, map[string]any{"message": "streaming session closed", "job_id": id})
}

// handleLive relays screencast frames to a viewer and the viewer's mouse and
// keyboard input back to the browser.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	logger := s.logger.With(zap.String("job_id", id))

	l, ok := s.live.wait(ctx, id, s.streamWait)
	if !ok {
		msg := liveMessage{Type: "error", Message: "streaming session not available, the job may not have streaming enabled"}
		if err := s.writeLive(ctx, conn, msg); err == nil {
			conn.Close(websocket.StatusNormalClosure, "no streaming session")
		}
		return
	}

	frames, leave := l.join()
	defer leave()

	active := l.isActive()
	if err := s.writeLive(ctx, conn, liveMessage{Type: "connected", Message: "connected to browser stream", Active: &active}); err != nil {
		return
	}
	logger.Debug("Live viewer connected")

	pongs := make(chan struct{}, 1)
	readDone := make(chan struct{})
	defer func() {
		cancel()
		conn.CloseNow()
		<-readDone
	}()
	go func() {
		defer close(readDone)
		defer cancel()
		for {
			var in page.Input
			if err := wsjson.Read(ctx, conn, &in); err != nil {
				return
			}
			switch in.Type {
			case "ping":
				select {
				case pongs <- struct{}{}:
				default:
				}
			case page.Mouse, page.Keyboard:
				if err := l.caster.Input(ctx, in); err != nil {
					logger.Debug("Viewer input failed", zap.String("type", in.Type), zap.Error(err))
				}
			}
		}
	}()

	ping := time.NewTicker(streamPing)
	defer ping.Stop()
	for {
		var msg liveMessage
		select {
		case <-ctx.Done():
			logger.Debug("Live viewer disconnected")
			return
		case <-l.done:
			conn.Close(websocket.StatusNormalClosure, "stream ended")
			return
		case <-pongs:
			msg = liveMessage{Type: "pong"}
		case <-ping.C:
			msg = liveMessage{Type: "ping"}
		case f := <-frames:
			msg = liveMessage{Type: "frame", Frame: &f}
		}
		if err := s.writeLive(ctx, conn, msg); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Debug("Live viewer gone", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) writeLive(ctx context.Context, conn *websocket.Conn, msg liveMessage) error {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

func (s *Server) streamInfo(l *liveSession) StreamInfo {
	info := l.info()
	stats := s.pool.Stats(info.Proxy)
	info.ProxyStats = &stats
	return info
}

func (s *Server) releaseQuietly(id string, release func() error) {
	if release == nil {
		return
	}
	if err := release(); err != nil {
		s.logger.Warn("Browser close failed", zap.String("job_id", id), zap.Error(err))
	}
}
