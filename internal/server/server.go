// Package server exposes jobs over HTTP: submission, a WebSocket stream of
// their events, artifact download and cancellation.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/agent"
	"github.com/v0xg/browserpilot/internal/artifact"
	"github.com/v0xg/browserpilot/internal/events"
	"github.com/v0xg/browserpilot/internal/goal"
	"github.com/v0xg/browserpilot/internal/page"
	"github.com/v0xg/browserpilot/internal/proxy"
)

// WriteTimeout bounds a single WebSocket write.
const WriteTimeout = 10 * time.Second

// Launcher opens a browser for one job. px is nil when the job runs without
// a proxy. The returned func releases the browser.
type Launcher func(ctx context.Context, headless bool, px *proxy.Proxy) (page.Browser, func() error, error)

// JobRunner runs one job to completion. *agent.Runner is one.
type JobRunner interface {
	Run(ctx context.Context, job agent.Job, b page.Browser) agent.Result
}

// JobRequest is the body of POST /job.
type JobRequest struct {
	Prompt   string `json:"prompt"`
	Format   string `json:"format"`
	Headless *bool  `json:"headless,omitempty"`

	// EnableStreaming opens a live view of the job's browser.
	EnableStreaming bool `json:"enable_streaming,omitempty"`
}

// Server owns the job registry and the event hub shared by every request.
type Server struct {
	runner     JobRunner
	launch     Launcher
	pool       *proxy.Pool
	hub        *events.Hub
	store      *artifact.Store
	jobs       *Jobs
	live       *Sessions
	reload     func() ([]string, error)
	origins    []string
	headless   bool
	quality    int
	streamWait time.Duration
	newID      func() string
	now        func() time.Time
	base       context.Context
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithOrigins sets the origin patterns WebSocket clients may connect from.
func WithOrigins(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithIDs replaces the uuid job id generator.
func WithIDs(fn func() string) Option {
	return func(s *Server) { s.newID = fn }
}

// WithProxySource sets where POST /proxy/reload reads the proxy list from.
func WithProxySource(fn func() ([]string, error)) Option {
	return func(s *Server) { s.reload = fn }
}

// WithHeadless sets the browser mode of jobs that do not choose one.
func WithHeadless(headless bool) Option {
	return func(s *Server) { s.headless = headless }
}

// WithBaseContext sets the parent context of every job.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.base = ctx }
}

// WithStreamQuality sets the JPEG quality of live view frames.
func WithStreamQuality(q int) Option {
	return func(s *Server) { s.quality = q }
}

// WithStreamWait sets how long a live viewer waits for its session to open.
func WithStreamWait(d time.Duration) Option {
	return func(s *Server) { s.streamWait = d }
}

// New wires a Server. hub must be the publisher runner reports to.
func New(runner JobRunner, launch Launcher, pool *proxy.Pool, hub *events.Hub, store *artifact.Store, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:     runner,
		launch:     launch,
		pool:       pool,
		hub:        hub,
		store:      store,
		jobs:       NewJobs(),
		live:       NewSessions(),
		headless:   true,
		quality:    DefaultStreamQuality,
		streamWait: DefaultStreamWait,
		newID:      uuid.NewString,
		now:        time.Now,
		base:       context.Background(),
		logger:     logger.With(zap.String("component", "server")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Jobs returns the job registry.
func (s *Server) Jobs() *Jobs { return s.jobs }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /job", s.handleCreate)
	mux.HandleFunc("GET /job/{id}/info", s.handleInfo)
	mux.HandleFunc("DELETE /job/{id}", s.handleCancel)
	mux.HandleFunc("GET /ws/{id}", s.handleStream)
	mux.HandleFunc("GET /download/{id}", s.handleDownload)
	mux.HandleFunc("GET /stream/{id}", s.handleLive)
	mux.HandleFunc("POST /streaming/create/{id}", s.handleLiveCreate)
	mux.HandleFunc("GET /streaming/{id}", s.handleLiveInfo)
	mux.HandleFunc("DELETE /streaming/{id}", s.handleLiveDelete)
	mux.HandleFunc("GET /proxy/stats", s.handleProxyStats)
	mux.HandleFunc("POST /proxy/reload", s.handleProxyReload)
	return s.logRequests(mux)
}

// Shutdown cancels every running job and waits for them to publish their
// finished events, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	if n := s.jobs.cancelAll(); n > 0 {
		s.logger.Info("Cancelling running jobs", zap.Int("jobs", n))
	}
	for _, l := range s.live.removeAll() {
		if err := l.stop(); err != nil {
			s.logger.Warn("Live view release failed", zap.String("job_id", l.id), zap.Error(err))
		}
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	format, err := artifact.ParseFormat(req.Format)
	if err != nil {
		s.logger.Warn("Invalid format, defaulting to txt", zap.String("format", req.Format))
		format = artifact.TXT
	}
	format = goal.DetectFormat(req.Prompt, format)

	headless := s.headless
	if req.Headless != nil {
		headless = *req.Headless
	}

	info := JobInfo{
		ID:          s.newID(),
		Goal:        req.Prompt,
		Format:      format,
		Extension:   format.Ext(),
		ContentType: format.ContentType(),
		Headless:    headless,
		Streaming:   req.EnableStreaming,
		Status:      Running,
		Created:     s.now(),
	}
	var px *proxy.Proxy
	if best, ok := s.pool.Best(); ok {
		px = &best
		info.Proxy = best.Server
	}

	ctx, cancel := context.WithCancel(s.base)
	s.jobs.add(info, cancel)
	s.logger.Info("Job created",
		zap.String("job_id", info.ID),
		zap.String("format", string(format)),
		zap.Bool("headless", headless),
		zap.Bool("streaming", info.Streaming),
		zap.String("proxy", info.Proxy))

	s.wg.Add(1)
	go s.run(ctx, cancel, info, px)

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":      info.ID,
		"format":      format,
		"proxy_stats": s.pool.Stats(info.Proxy),
	})
}

// run drives one job and records its outcome. A browser that cannot be
// launched still ends the job with a finished event.
func (s *Server) run(ctx context.Context, cancel context.CancelFunc, info JobInfo, px *proxy.Proxy) {
	defer s.wg.Done()
	defer cancel()

	b, release, err := s.launch(ctx, info.Headless, px)
	if err != nil {
		s.logger.Error("Browser launch failed", zap.String("job_id", info.ID), zap.Error(err))
		if px != nil {
			s.pool.Report(px.Server, false)
		}
		res := agent.Result{JobID: info.ID, Format: info.Format, Status: events.StatusFailed,
			Err: fmt.Errorf("launch browser: %w", err)}
		s.hub.Publish(context.WithoutCancel(ctx), events.Event{
			JobID:  info.ID,
			Type:   events.Finished,
			Status: res.Status,
			Time:   s.now(),
			Data:   map[string]any{"final_format": info.Format, "steps": 0, "error": res.Err.Error()},
		})
		s.jobs.finish(info.ID, res, s.now())
		return
	}

	var live *liveSession
	if info.Streaming {
		live = s.startLive(ctx, info.ID, b, info.Proxy)
	}

	res := s.runner.Run(ctx, agent.Job{ID: info.ID, Goal: info.Goal, Format: info.Format}, b)

	s.stopLive(live)
	if release != nil {
		if err := release(); err != nil {
			s.logger.Warn("Browser close failed", zap.String("job_id", info.ID), zap.Error(err))
		}
	}
	if px != nil && res.Status != events.StatusCancelled {
		s.pool.Report(px.Server, res.Status == events.StatusCompleted)
	}
	s.jobs.finish(info.ID, res, s.now())
	s.logger.Info("Job finished",
		zap.String("job_id", info.ID),
		zap.String("status", res.Status),
		zap.Int("steps", res.Steps))
}

type infoResponse struct {
	JobInfo
	FileExists bool        `json:"file_exists"`
	FilePath   string      `json:"file_path,omitempty"`
	ProxyStats page.Health `json:"proxy_stats"`
	LiveView   *StreamInfo `json:"live_view,omitempty"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, ok := s.jobs.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "job not found", "job_id": id})
		return
	}
	resp := infoResponse{JobInfo: info, ProxyStats: s.pool.Stats(info.Proxy)}
	if saved, err := s.store.Locate(id, info.Format); err == nil {
		resp.FileExists = true
		resp.FilePath = saved.Path
	}
	if l, ok := s.live.get(id); ok {
		live := l.info()
		resp.LiveView = &live
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, ok := s.jobs.cancel(id)
	switch {
	case ok:
		s.logger.Info("Job cancellation requested", zap.String("job_id", id))
		writeJSON(w, http.StatusAccepted, map[string]any{"job_id": id, "status": "cancelling"})
	case info.ID == "":
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "job not found", "job_id": id})
	default:
		writeJSON(w, http.StatusConflict, map[string]any{"error": "job already finished", "job_id": id, "status": info.Status})
	}
}

// handleStream upgrades to a WebSocket and relays the job's events,
// starting with the retained backlog. The socket is closed normally after
// the finished event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, ok := s.jobs.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "job not found", "job_id": id})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ch, unsubscribe := s.hub.Subscribe(id)
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())
	logger := s.logger.With(zap.String("job_id", id))
	logger.Debug("Subscriber connected", zap.Int("subscribers", s.hub.Subscribers(id)))

	hello := events.Event{
		JobID: id,
		Type:  events.ProxyStats,
		Time:  s.now(),
		Data:  map[string]any{"stats": s.pool.Stats(info.Proxy)},
	}
	if err := s.write(ctx, conn, hello); err != nil {
		logger.Debug("Subscriber gone", zap.Error(err))
		return
	}

	// the hub drops a finished job's events after its retention period
	if info, _ = s.jobs.Get(id); info.Status != Running && !s.hub.Retained(id) {
		if err := s.write(ctx, conn, finishedEvent(info, s.now())); err != nil {
			logger.Debug("Subscriber gone", zap.Error(err))
			return
		}
		conn.Close(websocket.StatusNormalClosure, "job finished")
		return
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Subscriber disconnected")
			return
		case e, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "job finished")
				return
			}
			if err := s.write(ctx, conn, e); err != nil {
				logger.Debug("Subscriber gone", zap.Error(err))
				return
			}
		}
	}
}

func finishedEvent(info JobInfo, now time.Time) events.Event {
	data := map[string]any{"final_format": info.Format, "steps": info.Steps}
	if info.Error != "" {
		data["error"] = info.Error
	}
	if info.Finished != nil {
		now = *info.Finished
	}
	return events.Event{JobID: info.ID, Type: events.Finished, Status: string(info.Status), Time: now, Data: data}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, e events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}

// handleDownload serves the artifact of a job. Jobs unknown to this process
// are looked up under every format.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	candidates := artifact.Formats
	if info, ok := s.jobs.Get(id); ok {
		candidates = append([]artifact.Format{info.Format}, artifact.Formats...)
	} else if !artifact.ValidJobID(id) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "file not found", "job_id": id})
		return
	}

	var saved artifact.Saved
	var err error
	for _, f := range candidates {
		if saved, err = s.store.Locate(id, f); err == nil {
			break
		}
	}
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "file not found", "job_id": id})
		return
	}

	file, err := os.Open(saved.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "open artifact")
		s.logger.Error("Artifact open failed", zap.String("path", saved.Path), zap.Error(err))
		return
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stat artifact")
		return
	}

	name := fmt.Sprintf("extracted_data_%s.%s", id, saved.Format.Ext())
	w.Header().Set("Content-Type", saved.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-File-Format", string(saved.Format))
	http.ServeContent(w, r, name, stat.ModTime(), file)
}

func (s *Server) handleProxyStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"proxy_stats": s.pool.Stats(""),
		"servers":     s.pool.Servers(),
		"timestamp":   s.now(),
	})
}

func (s *Server) handleProxyReload(w http.ResponseWriter, _ *http.Request) {
	if s.reload == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]any{"success": false, "message": "no proxy source configured"})
		return
	}
	specs, err := s.reload()
	if err != nil {
		s.logger.Error("Proxy reload failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "failed to reload proxies: " + err.Error(),
		})
		return
	}
	n := s.pool.Reload(specs)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"proxies":     n,
		"proxy_stats": s.pool.Stats(""),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack hands the connection to the WebSocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

var _ JobRunner = (*agent.Runner)(nil)
