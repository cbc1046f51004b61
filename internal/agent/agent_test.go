package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/v0xg/browserpilot/internal/action"
	"github.com/v0xg/browserpilot/internal/ai"
	"github.com/v0xg/browserpilot/internal/antibot"
	"github.com/v0xg/browserpilot/internal/artifact"
	"github.com/v0xg/browserpilot/internal/decision"
	"github.com/v0xg/browserpilot/internal/events"
	"github.com/v0xg/browserpilot/internal/extract"
	"github.com/v0xg/browserpilot/internal/failure"
	"github.com/v0xg/browserpilot/internal/page"
	"github.com/v0xg/browserpilot/internal/page/pagetest"
	"github.com/v0xg/browserpilot/internal/record"
	"github.com/v0xg/browserpilot/internal/render"
	"github.com/v0xg/browserpilot/internal/routine"
	"github.com/v0xg/browserpilot/internal/trace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	home    = "https://site.test/"
	about   = "https://site.test/about"
	goalRaw = "summarize https://site.test/"
)

const homeHTML = `<html><body><main>
<h1>Acme Rockets</h1>
<p>Acme builds rockets for coyotes and other desert residents.</p>
<table><tr><th>Model</th><th>Range</th></tr><tr><td>A1</td><td>10km</td></tr></table>
</main></body></html>`

func site() *pagetest.Browser {
	return pagetest.New(map[string]*pagetest.Page{
		home: {
			Title: "Acme",
			HTML:  homeHTML,
			Body:  "Acme Rockets",
			Elements: []page.Element{
				{Index: 1, Tag: "a", Text: "About", Clickable: true, Href: about,
					Box: page.Box{X: 2, Y: 2, Width: 10, Height: 6}},
				{Index: 2, Tag: "input", Input: true, Placeholder: "Search"},
			},
		},
		about: {
			Title: "About Acme",
			HTML:  homeHTML,
			Body:  "About Acme",
			Elements: []page.Element{
				{Index: 1, Tag: "a", Text: "Home", Clickable: true, Href: home},
			},
		},
	})
}

// script replays its actions in order, then repeats then.
type script struct {
	mu      sync.Mutex
	actions []action.Action
	then    action.Action
	calls   int
}

func (s *script) Decide(ctx context.Context, snap *page.Snapshot, goal string) decision.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.actions) == 0 {
		return decision.Decision{Action: s.then, WebsiteType: decision.GeneralWebsite}
	}
	a := s.actions[0]
	s.actions = s.actions[1:]
	return decision.Decision{Action: a, WebsiteType: decision.GeneralWebsite}
}

func decide(then action.Action, actions ...action.Action) *script {
	return &script{actions: actions, then: then}
}

type extractorFunc func(ctx context.Context, b page.Browser, goal string) (*record.Record, error)

func (f extractorFunc) Extract(ctx context.Context, b page.Browser, goal string) (*record.Record, error) {
	return f(ctx, b, goal)
}

type modelFunc func(ctx context.Context, system string, parts ...ai.Part) (*ai.Response, error)

func (f modelFunc) Generate(ctx context.Context, system string, parts ...ai.Part) (*ai.Response, error) {
	return f(ctx, system, parts...)
}

func fast() Options {
	return Options{Trace: trace.DefaultOptions()}
}

type harness struct {
	runner *Runner
	events *events.Recorder
	store  *artifact.Store
}

func newHarness(t *testing.T, d Decider, x Extractor, opts ...Option) *harness {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	if x == nil {
		x = extract.NewPipeline(nil, zaptest.NewLogger(t))
	}
	rec := &events.Recorder{}
	opts = append([]Option{WithOptions(fast())}, opts...)
	return &harness{
		runner: NewRunner(d, x, store, rec, zaptest.NewLogger(t), opts...),
		events: rec,
		store:  store,
	}
}

func (h *harness) count(typ string) int {
	n := 0
	for _, s := range h.events.Types() {
		if s == typ {
			n++
		}
	}
	return n
}

func (h *harness) find(typ events.Type, status string) []events.Event {
	var out []events.Event
	for _, e := range h.events.Events() {
		if e.Type == typ && e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func TestRunExtractsOnDecision(t *testing.T) {
	h := newHarness(t, decide(action.Done{}, action.Extract{}), nil)
	b := site()

	res := h.runner.Run(context.Background(), Job{ID: "job-1", Goal: goalRaw, Format: artifact.JSON}, b)

	require.NoError(t, res.Err)
	assert.Equal(t, events.StatusCompleted, res.Status)
	assert.Equal(t, 1, res.Steps)
	require.NotNil(t, res.Saved)
	assert.Equal(t, filepath.Join(h.store.Dir(), "job-1.json"), res.Saved.Path)

	assert.Equal(t, []string{
		"started",
		"proxy_stats",
		"page_info",
		"screenshot",
		"decision",
		"extraction:starting",
		"extraction:completed",
		"finished:completed",
	}, h.events.Types())
	assert.Equal(t, []string{"navigate " + home}, b.Calls())

	data, err := os.ReadFile(res.Saved.Path)
	require.NoError(t, err)
	rec, err := record.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, record.MethodFallbackStructure, rec.Metadata.Method)
	assert.Equal(t, goalRaw, rec.Metadata.Goal)
	assert.Equal(t, home, rec.Metadata.SourceURL)
}

func TestEveryEventCarriesJobID(t *testing.T) {
	h := newHarness(t, decide(action.Extract{}), nil)
	h.runner.Run(context.Background(), Job{ID: "job-7", Goal: goalRaw}, site())

	for _, e := range h.events.Events() {
		assert.Equal(t, "job-7", e.JobID)
		assert.False(t, e.Time.IsZero())
	}
}

func TestInitialNavigationFailureAborts(t *testing.T) {
	d := decide(action.Done{})
	h := newHarness(t, d, nil)
	b := site()
	b.NavigateErr = errors.New("proxy refused connection")

	res := h.runner.Run(context.Background(), Job{ID: "job-2", Goal: goalRaw}, b)

	assert.Equal(t, events.StatusFailed, res.Status)
	assert.True(t, failure.Is(res.Err, failure.Transient))
	assert.Nil(t, res.Saved)
	assert.Zero(t, d.calls)
	assert.Equal(t, []string{"started", "navigation_error", "finished:failed"}, h.events.Types())

	navErr := h.find(events.NavigationError, "")
	require.Len(t, navErr, 1)
	assert.Equal(t, home, navErr[0].Data["url"])
	assert.Contains(t, navErr[0].Data["error"], "proxy refused")
	assert.Contains(t, navErr[0].Data, "proxy_stats")

	_, err := h.store.Locate("job-2", artifact.TXT)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExtractionCeiling(t *testing.T) {
	var calls int
	failing := extractorFunc(func(context.Context, page.Browser, string) (*record.Record, error) {
		calls++
		return nil, failure.New(failure.Transient, "test", errors.New("page unreachable"))
	})
	d := decide(action.Extract{})
	h := newHarness(t, d, failing)

	res := h.runner.Run(context.Background(), Job{ID: "job-3", Goal: goalRaw}, site())

	assert.Equal(t, MaxExtractionAttempts, calls)
	assert.Equal(t, 3, d.calls)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, events.StatusFailed, res.Status)
	assert.Equal(t, 2, h.count("extraction:starting"))
	assert.Equal(t, 2, h.count("extraction:failed"))
	assert.Zero(t, h.count("extraction:completed"))
}

func TestThirdConsecutiveScrollJumpsToEnd(t *testing.T) {
	down := action.NewScroll(page.Down, 0, "look further")
	h := newHarness(t, decide(action.Done{}, down, down, down, down), nil)
	b := site()

	res := h.runner.Run(context.Background(), Job{ID: "job-4", Goal: goalRaw}, b)

	assert.Equal(t, []string{
		"navigate " + home,
		"scroll down 400",
		"scroll down 400",
		"key End",
		"scroll down 400",
	}, b.Calls())
	assert.Equal(t, events.StatusCompleted, res.Status)
}

func TestEmptyPageScrollsThenExtracts(t *testing.T) {
	d := decide(action.Done{})
	h := newHarness(t, d, nil)
	b := pagetest.New(map[string]*pagetest.Page{
		home: {Title: "Blank", HTML: homeHTML, Body: "Acme Rockets"},
	})

	res := h.runner.Run(context.Background(), Job{ID: "job-5", Goal: goalRaw}, b)

	assert.Equal(t, []string{
		"navigate " + home,
		"scroll down 400",
		"scroll down 400",
		"scroll down 400",
	}, b.Calls())
	assert.Zero(t, d.calls)
	assert.Equal(t, 4, res.Steps)
	assert.Equal(t, events.StatusCompleted, res.Status)

	final := h.find(events.Extraction, events.StatusStarting)
	require.Len(t, final, 1)
	assert.Equal(t, true, final[0].Data["final"])
}

func TestBudgetExhaustionRunsOneFinalExtraction(t *testing.T) {
	typeRust := action.Type{Index: 2, Text: "rust"}
	d := decide(typeRust)
	h := newHarness(t, d, nil)
	b := site()

	res := h.runner.Run(context.Background(), Job{ID: "job-6", Goal: goalRaw}, b)

	assert.Equal(t, 20, d.calls)
	assert.Equal(t, 20, res.Steps)
	assert.Equal(t, 4, h.count("proxy_stats"))
	assert.Equal(t, 1, h.count("extraction:starting"))
	assert.Equal(t, 1, h.count("extraction:completed"))
	assert.Equal(t, events.StatusCompleted, res.Status)

	typed := 0
	for _, c := range b.Calls() {
		if c == "type 2 rust" {
			typed++
		}
	}
	assert.Equal(t, 20, typed)
}

func TestIndexNotInSnapshotIsSkipped(t *testing.T) {
	h := newHarness(t, decide(action.Done{}, action.Click{Index: 99}, action.Type{Index: 42, Text: "x"}), nil)
	b := site()

	res := h.runner.Run(context.Background(), Job{ID: "job-8", Goal: goalRaw}, b)

	assert.Equal(t, []string{"navigate " + home}, b.Calls())
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, events.StatusCompleted, res.Status)
}

func TestClickFollowsLinkAndResetsExtractions(t *testing.T) {
	var calls int
	flaky := extractorFunc(func(ctx context.Context, b page.Browser, goal string) (*record.Record, error) {
		calls++
		if calls <= 2 {
			return nil, errors.New("still loading")
		}
		return extract.NewPipeline(nil, nil).Extract(ctx, b, goal)
	})
	h := newHarness(t, decide(action.Done{}, action.Extract{}, action.Extract{}, action.Click{Index: 1}, action.Extract{}), flaky)
	b := site()

	res := h.runner.Run(context.Background(), Job{ID: "job-9", Goal: goalRaw}, b)

	assert.Equal(t, 3, calls)
	assert.Equal(t, events.StatusCompleted, res.Status)
	require.NotNil(t, res.Saved)
	data, err := os.ReadFile(res.Saved.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Source: "+about)
	assert.Contains(t, b.Calls(), "click 1")
}

func TestPDFFailureFallsBackToText(t *testing.T) {
	broken := func(rec *record.Record, f artifact.Format) ([]byte, error) {
		if f == artifact.PDF {
			return nil, errors.New("font table missing")
		}
		return render.Render(rec, f)
	}
	h := newHarness(t, decide(action.Done{}, action.Extract{}), nil, WithRenderer(broken))

	res := h.runner.Run(context.Background(), Job{ID: "job-10", Goal: goalRaw, Format: artifact.PDF}, site())

	assert.Equal(t, events.StatusCompleted, res.Status)
	require.NotNil(t, res.Saved)
	assert.Equal(t, artifact.TXT, res.Saved.Format)
	assert.True(t, res.Saved.Fallback)
	assert.Equal(t, filepath.Join(h.store.Dir(), "job-10.txt"), res.Saved.Path)

	data, err := os.ReadFile(res.Saved.Path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), artifact.PDFFallbackBanner))
	assert.Contains(t, string(data), "EXTRACTED INFORMATION")

	done := h.find(events.Extraction, events.StatusCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, true, done[0].Data["fallback"])
}

func TestGoalFormatOverridesRequest(t *testing.T) {
	h := newHarness(t, decide(action.Done{}, action.Extract{}), nil)

	res := h.runner.Run(context.Background(), Job{ID: "job-11", Goal: "summarize https://site.test/ and save as csv", Format: artifact.JSON}, site())

	assert.Equal(t, artifact.CSV, res.Format)
	require.NotNil(t, res.Saved)
	assert.Equal(t, filepath.Join(h.store.Dir(), "job-11.csv"), res.Saved.Path)
}

func TestCancellationDiscardsArtifact(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelling := extractorFunc(func(ctx context.Context, b page.Browser, goal string) (*record.Record, error) {
		rec, err := extract.NewPipeline(nil, nil).Extract(ctx, b, goal)
		cancel()
		return rec, err
	})
	h := newHarness(t, decide(action.Done{}, action.Extract{}), cancelling)

	res := h.runner.Run(ctx, Job{ID: "job-12", Goal: goalRaw}, site())

	assert.Equal(t, events.StatusCancelled, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Nil(t, res.Saved)
	types := h.events.Types()
	assert.Equal(t, "finished:cancelled", types[len(types)-1])
	_, err := h.store.Locate("job-12", artifact.TXT)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRoutinesRunBeforeTheLoop(t *testing.T) {
	h := newHarness(t, decide(action.Done{}), nil, WithRoutines(routine.Default()))
	goal := "RUN_FUNCTION export_tables\nRUN_FUNCTION teleport\nsummarize https://site.test/"

	res := h.runner.Run(context.Background(), Job{ID: "job-13", Goal: goal}, site())

	assert.Equal(t, events.StatusCompleted, res.Status)
	types := h.events.Types()
	assert.Equal(t, []string{"started", "routine:starting", "routine:completed", "routine:missing", "proxy_stats"}, types[:5])

	done := h.find(events.Routine, events.StatusCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, "export_tables", done[0].Data["name"])
	result := done[0].Data["result"].(map[string]any)
	assert.EqualValues(t, 1, result["tables"])
	assert.Contains(t, result["csv"], "Model,Range")

	missing := h.find(events.Routine, events.StatusMissing)
	require.Len(t, missing, 1)
	assert.Equal(t, "teleport", missing[0].Data["name"])
}

func TestRoutineErrorDoesNotAbort(t *testing.T) {
	reg := routine.NewRegistry()
	reg.Register("explode", func(context.Context, routine.Env) (routine.Result, error) {
		return nil, errors.New("boom")
	})
	h := newHarness(t, decide(action.Done{}), nil, WithRoutines(reg))

	res := h.runner.Run(context.Background(), Job{ID: "job-14", Goal: "RUN_FUNCTION explode\n" + goalRaw}, site())

	assert.Equal(t, events.StatusCompleted, res.Status)
	failed := h.find(events.Routine, events.StatusError)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].Data["error"])
}

func TestGuardPublishesAntiBotVerdict(t *testing.T) {
	blocked := modelFunc(func(context.Context, string, ...ai.Part) (*ai.Response, error) {
		return &ai.Response{Text: `{"is_anti_bot": true, "detection_type": "cloudflare", "confidence": 0.9, "can_solve": false, "suggested_action": "rotate_proxy"}`}, nil
	})
	opts := fast()
	opts.AntiBot = true
	h := newHarness(t, decide(action.Done{}), nil,
		WithOptions(opts),
		WithClassifier(antibot.NewClassifier(blocked, nil)))

	h.runner.Run(context.Background(), Job{ID: "job-15", Goal: goalRaw}, site())

	assert.Equal(t, []string{"started", "anti_bot", "proxy_stats"}, h.events.Types()[:3])
	found := h.find(events.AntiBot, "")
	require.Len(t, found, 1)
	v := found[0].Data["verdict"].(antibot.Verdict)
	assert.Equal(t, "cloudflare", v.DetectionType)
	assert.Equal(t, antibot.RotateProxy, v.SuggestedAction)
	assert.NotContains(t, found[0].Data, "resolution")
}

func TestTraceWritesGIF(t *testing.T) {
	opts := fast()
	opts.TraceDir = t.TempDir()
	click := action.Click{Index: 1}
	h := newHarness(t, decide(action.Done{}, click), nil, WithOptions(opts))

	h.runner.Run(context.Background(), Job{ID: "job-16", Goal: goalRaw}, site())

	info, err := os.Stat(filepath.Join(opts.TraceDir, "job-16.gif"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
