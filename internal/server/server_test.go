package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/browserpilot/internal/agent"
	"github.com/v0xg/browserpilot/internal/artifact"
	"github.com/v0xg/browserpilot/internal/events"
	"github.com/v0xg/browserpilot/internal/page"
	"github.com/v0xg/browserpilot/internal/page/pagetest"
	"github.com/v0xg/browserpilot/internal/proxy"
)

type runnerFunc func(ctx context.Context, job agent.Job, b page.Browser) agent.Result

func (f runnerFunc) Run(ctx context.Context, job agent.Job, b page.Browser) agent.Result {
	return f(ctx, job, b)
}

type harness struct {
	srv      *Server
	http     *httptest.Server
	hub      *events.Hub
	store    *artifact.Store
	pool     *proxy.Pool
	launched []*proxy.Proxy
	released int

	mu       sync.Mutex
	frames   []page.Frame
	browsers []*pagetest.Browser
}

func newHarness(t *testing.T, run func(h *harness) runnerFunc, opts ...Option) *harness {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	h := &harness{
		hub:   events.NewHub(),
		store: store,
		pool:  proxy.NewPool([]string{"http://proxy-a:8080"}, nil),
	}
	launch := func(_ context.Context, _ bool, px *proxy.Proxy) (page.Browser, func() error, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		b := pagetest.New(nil)
		b.Frames = h.frames
		h.launched = append(h.launched, px)
		h.browsers = append(h.browsers, b)
		return b, func() error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.released++
			return nil
		}, nil
	}
	opts = append([]Option{WithIDs(func() string { return "job-1" })}, opts...)
	h.srv = New(run(h), launch, h.pool, h.hub, store, nil, opts...)
	h.http = httptest.NewServer(h.srv.Handler())
	t.Cleanup(h.http.Close)
	return h
}

// completes publishes started and finished around a saved text artifact.
func completes(h *harness) runnerFunc {
	return func(ctx context.Context, job agent.Job, _ page.Browser) agent.Result {
		h.hub.Publish(ctx, events.Event{JobID: job.ID, Type: events.Started, Time: time.Now()})
		saved, err := h.store.Save(job.ID, job.Format, []byte("headline one\nheadline two\n"))
		if err != nil {
			return agent.Result{JobID: job.ID, Status: events.StatusFailed, Err: err}
		}
		h.hub.Publish(ctx, events.Event{JobID: job.ID, Type: events.Finished, Status: events.StatusCompleted, Time: time.Now()})
		return agent.Result{JobID: job.ID, Format: job.Format, Steps: 3, Status: events.StatusCompleted, Saved: &saved}
	}
}

// blocks until the job is cancelled.
func blocks(h *harness) runnerFunc {
	return func(ctx context.Context, job agent.Job, _ page.Browser) agent.Result {
		h.hub.Publish(ctx, events.Event{JobID: job.ID, Type: events.Started, Time: time.Now()})
		<-ctx.Done()
		h.hub.Publish(context.WithoutCancel(ctx), events.Event{JobID: job.ID, Type: events.Finished, Status: events.StatusCancelled, Time: time.Now()})
		return agent.Result{JobID: job.ID, Format: job.Format, Status: events.StatusCancelled, Err: ctx.Err()}
	}
}

func (h *harness) setFrames(frames ...page.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = frames
}

func (h *harness) releases() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *harness) browser(i int) *pagetest.Browser {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.browsers) {
		return nil
	}
	return h.browsers[i]
}

func (h *harness) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(h.http.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (h *harness) do(t *testing.T, method, path string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, h.http.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return out
}

func (h *harness) wait(t *testing.T, id string) {
	t.Helper()
	done := h.srv.Jobs().Done(id)
	require.NotNil(t, done)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", id)
	}
}

func TestCreateJobAndDownload(t *testing.T) {
	h := newHarness(t, completes)

	resp, body := h.post(t, "/job", `{"prompt":"Get the headlines from https://news.example.com","format":"DOCX"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, "txt", body["format"])
	assert.Contains(t, body, "proxy_stats")

	h.wait(t, "job-1")
	require.Len(t, h.launched, 1)
	require.NotNil(t, h.launched[0])
	assert.Equal(t, "http://proxy-a:8080", h.launched[0].Server)
	assert.Equal(t, 1, h.released)

	dl, err := http.Get(h.http.URL + "/download/job-1")
	require.NoError(t, err)
	defer dl.Body.Close()
	content, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "text/plain", dl.Header.Get("Content-Type"))
	assert.Contains(t, dl.Header.Get("Content-Disposition"), "extracted_data_job-1.txt")
	assert.Equal(t, "headline one\nheadline two\n", string(content))

	resp, info := h.do(t, http.MethodGet, "/job/job-1/info")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", info["status"])
	assert.Equal(t, true, info["file_exists"])
	assert.EqualValues(t, 3, info["steps"])
	assert.Equal(t, "text/plain", info["content_type"])
}

func TestCreateJobFormatFromGoal(t *testing.T) {
	h := newHarness(t, completes)

	_, body := h.post(t, "/job", `{"prompt":"List the prices and save them as csv","format":"json"}`)
	assert.Equal(t, "csv", body["format"])
	h.wait(t, "job-1")

	info, ok := h.srv.Jobs().Get("job-1")
	require.True(t, ok)
	assert.Equal(t, artifact.CSV, info.Format)
	assert.Equal(t, "text/csv", info.ContentType)
}

func TestCreateJobRejectsBadRequests(t *testing.T) {
	h := newHarness(t, completes)

	tests := []struct {
		name string
		body string
	}{
		{"empty prompt", `{"prompt":"   "}`},
		{"not json", `prompt=hello`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.post(t, "/job", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Empty(t, h.launched)
}

func TestStreamRelaysEventsUntilFinished(t *testing.T) {
	h := newHarness(t, completes)
	h.post(t, "/job", `{"prompt":"Find the weather in Lisbon"}`)
	h.wait(t, "job-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.http.URL, "http")+"/ws/job-1", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var types []string
	for {
		var e events.Event
		err := wsjson.Read(ctx, conn, &e)
		if err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
		assert.Equal(t, "job-1", e.JobID)
		types = append(types, string(e.Type))
	}
	assert.Equal(t, []string{"proxy_stats", "started", "finished"}, types)
}

func TestStreamReportsOutcomeOnceEventsExpire(t *testing.T) {
	h := newHarness(t, completes)
	h.post(t, "/job", `{"prompt":"Find the weather in Lisbon"}`)
	h.wait(t, "job-1")
	h.hub.Forget("job-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.http.URL, "http")+"/ws/job-1", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var got []events.Event
	for {
		var e events.Event
		if err := wsjson.Read(ctx, conn, &e); err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, events.ProxyStats, got[0].Type)
	assert.Equal(t, events.Finished, got[1].Type)
	assert.Equal(t, events.StatusCompleted, got[1].Status)
	assert.EqualValues(t, 3, got[1].Data["steps"])
}

func TestCancelJob(t *testing.T) {
	h := newHarness(t, blocks)
	h.post(t, "/job", `{"prompt":"Research the history of typesetting"}`)

	resp, body := h.do(t, http.MethodDelete, "/job/job-1")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "cancelling", body["status"])
	h.wait(t, "job-1")

	info, _ := h.srv.Jobs().Get("job-1")
	assert.Equal(t, Cancelled, info.Status)
	assert.NotNil(t, info.Finished)

	resp, _ = h.do(t, http.MethodDelete, "/job/job-1")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// A cancelled job says nothing about the proxy.
	assert.Equal(t, 1, h.pool.Stats("").Available)
	assert.Equal(t, float64(1), h.pool.Stats("").AvgScore)
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	h := newHarness(t, blocks)
	h.post(t, "/job", `{"prompt":"Research the history of typesetting"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.srv.Shutdown(ctx))

	info, _ := h.srv.Jobs().Get("job-1")
	assert.Equal(t, Cancelled, info.Status)
}

func TestLaunchFailureFinishesJob(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	hub := events.NewHub()
	pool := proxy.NewPool([]string{"http://proxy-a:8080"}, nil)
	launch := func(context.Context, bool, *proxy.Proxy) (page.Browser, func() error, error) {
		return nil, nil, errors.New("chromium not found")
	}
	srv := New(runnerFunc(func(context.Context, agent.Job, page.Browser) agent.Result {
		t.Fatal("runner called without a browser")
		return agent.Result{}
	}), launch, pool, hub, store, nil, WithIDs(func() string { return "job-x" }))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ch, unsubscribe := hub.Subscribe("job-x")
	defer unsubscribe()

	resp, err := http.Post(ts.URL+"/job", "application/json", strings.NewReader(`{"prompt":"Find flights"}`))
	require.NoError(t, err)
	resp.Body.Close()

	select {
	case e := <-ch:
		assert.Equal(t, events.Finished, e.Type)
		assert.Equal(t, events.StatusFailed, e.Status)
		assert.Contains(t, e.Data["error"], "chromium not found")
	case <-time.After(5 * time.Second):
		t.Fatal("no finished event")
	}
	<-srv.Jobs().Done("job-x")

	info, _ := srv.Jobs().Get("job-x")
	assert.Equal(t, Failed, info.Status)
	assert.Contains(t, info.Error, "chromium not found")
	assert.Less(t, pool.Stats("").AvgScore, float64(1))
}

func TestDownloadPDFFallback(t *testing.T) {
	h := newHarness(t, func(h *harness) runnerFunc {
		return func(_ context.Context, job agent.Job, _ page.Browser) agent.Result {
			saved, err := h.store.SavePDFFallback(job.ID, []byte("body"), errors.New("font missing"))
			require.NoError(t, err)
			return agent.Result{JobID: job.ID, Format: artifact.PDF, Status: events.StatusCompleted, Saved: &saved}
		}
	})
	_, body := h.post(t, "/job", `{"prompt":"Summarize the page","format":"pdf"}`)
	assert.Equal(t, "pdf", body["format"])
	h.wait(t, "job-1")

	dl, err := http.Get(h.http.URL + "/download/job-1")
	require.NoError(t, err)
	defer dl.Body.Close()
	content, _ := io.ReadAll(dl.Body)
	assert.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "text/plain", dl.Header.Get("Content-Type"))
	assert.Equal(t, "txt", dl.Header.Get("X-File-Format"))
	assert.True(t, strings.HasPrefix(string(content), artifact.PDFFallbackBanner))

	info, _ := h.srv.Jobs().Get("job-1")
	assert.True(t, info.Fallback)
	assert.Equal(t, artifact.TXT, info.Format)
}

func TestUnknownJob(t *testing.T) {
	h := newHarness(t, completes)

	for _, tt := range []struct{ method, path string }{
		{http.MethodGet, "/job/nope/info"},
		{http.MethodDelete, "/job/nope"},
		{http.MethodGet, "/download/nope"},
		{http.MethodGet, "/ws/nope"},
	} {
		resp, body := h.do(t, tt.method, tt.path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, tt.path)
		assert.Equal(t, "nope", body["job_id"], tt.path)
	}
}

func TestDownloadFromEarlierProcess(t *testing.T) {
	h := newHarness(t, completes)
	_, err := h.store.Save("old-job", artifact.MD, []byte("# Report\n"))
	require.NoError(t, err)

	dl, err := http.Get(h.http.URL + "/download/old-job")
	require.NoError(t, err)
	defer dl.Body.Close()
	assert.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "text/markdown", dl.Header.Get("Content-Type"))
}

func TestDownloadRejectsPathsOutsideOutputDir(t *testing.T) {
	h := newHarness(t, completes)
	parent := filepath.Dir(h.store.Dir())
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("keep out"), 0o644))

	for _, path := range []string{"/download/..%2Fsecret", "/download/..%5Csecret", "/download/.."} {
		resp, err := http.Get(h.http.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.NotEqual(t, http.StatusOK, resp.StatusCode, path)
		assert.NotContains(t, string(body), "keep out", path)
	}

	resp, body := h.do(t, http.MethodGet, "/download/..%2Fsecret")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "../secret", body["job_id"])
}

func TestProxyEndpoints(t *testing.T) {
	h := newHarness(t, completes, WithProxySource(func() ([]string, error) {
		return []string{"http://proxy-a:8080", "user:pw@proxy-b:3128", "http://"}, nil
	}))

	resp, body := h.post(t, "/proxy/reload", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 2, body["proxies"])

	resp, body = h.do(t, http.MethodGet, "/proxy/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats, ok := body["proxy_stats"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, stats["total"])
	assert.Len(t, body["servers"], 2)
}

func TestProxyReloadFailure(t *testing.T) {
	h := newHarness(t, completes, WithProxySource(func() ([]string, error) {
		return nil, errors.New("proxy file unreadable")
	}))

	resp, body := h.post(t, "/proxy/reload", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, 1, h.pool.Stats("").Total)
}
