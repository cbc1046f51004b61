// Package proxy keeps the pool of upstream proxies jobs browse through and
// the health statistics reported alongside every job.
package proxy

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/v0xg/browserpilot/internal/failure"
	"github.com/v0xg/browserpilot/internal/page"
)

// MaxFailures takes a proxy out of rotation once it has failed this many
// times more than it has succeeded.
const MaxFailures = 3

// Proxy is one upstream proxy.
type Proxy struct {
	Server   string `json:"server"`
	Username string `json:"-"`
	Password string `json:"-"`
}

// URL returns the proxy address with credentials, as rod's launcher
// expects it.
func (p Proxy) URL() string {
	if p.Username == "" {
		return p.Server
	}
	u, err := url.Parse(p.Server)
	if err != nil {
		return p.Server
	}
	u.User = url.UserPassword(p.Username, p.Password)
	return u.String()
}

// Parse reads "scheme://[user:pass@]host:port". A bare host:port is taken
// as http.
func Parse(raw string) (Proxy, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Proxy{}, failure.Inputf("proxy.Parse", "invalid proxy %q", raw)
	}
	p := Proxy{Username: u.User.Username()}
	p.Password, _ = u.User.Password()
	u.User = nil
	p.Server = u.String()
	return p, nil
}

type entry struct {
	proxy     Proxy
	successes int
	failures  int
}

func (e *entry) score() float64 {
	total := e.successes + e.failures
	if total == 0 {
		return 1
	}
	return float64(e.successes) / float64(total)
}

func (e *entry) healthy() bool { return e.failures-e.successes < MaxFailures }

// Pool is a read-mostly proxy registry shared by every job. Only Report
// mutates the statistics.
type Pool struct {
	mu      sync.RWMutex
	entries []*entry
	logger  *zap.Logger
}

// NewPool builds a pool from proxy specs. Invalid specs are logged and
// skipped.
func NewPool(specs []string, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{logger: logger.With(zap.String("component", "proxy"))}
	p.Reload(specs)
	return p
}

// Reload replaces the pool contents, keeping the statistics of proxies that
// are still listed.
func (p *Pool) Reload(specs []string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := make(map[string]*entry, len(p.entries))
	for _, e := range p.entries {
		old[e.proxy.Server] = e
	}

	var entries []*entry
	for _, s := range specs {
		if strings.TrimSpace(s) == "" {
			continue
		}
		px, err := Parse(s)
		if err != nil {
			p.logger.Warn("Skipping proxy", zap.Error(err))
			continue
		}
		if e, ok := old[px.Server]; ok {
			e.proxy = px
			entries = append(entries, e)
			continue
		}
		entries = append(entries, &entry{proxy: px})
	}
	p.entries = entries
	p.logger.Info("Proxy pool loaded", zap.Int("proxies", len(entries)))
	return len(entries)
}

// Best returns the healthy proxy with the highest success rate. ok is false
// when the pool is empty or every proxy is out of rotation.
func (p *Pool) Best() (Proxy, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *entry
	for _, e := range p.entries {
		if !e.healthy() {
			continue
		}
		if best == nil || e.score() > best.score() {
			best = e
		}
	}
	if best == nil {
		return Proxy{}, false
	}
	return best.proxy, true
}

// Report records the outcome of using the proxy at server.
func (p *Pool) Report(server string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.proxy.Server != server {
			continue
		}
		if ok {
			e.successes++
		} else {
			e.failures++
			if !e.healthy() {
				p.logger.Warn("Proxy out of rotation", zap.String("server", server),
					zap.Int("failures", e.failures))
			}
		}
		return
	}
}

// Stats returns the pool health. current is the server the caller is
// using, if any.
func (p *Pool) Stats(current string) page.Health {
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := page.Health{Total: len(p.entries), Current: current}
	var sum float64
	for _, e := range p.entries {
		if e.healthy() {
			h.Available++
		} else {
			h.Failed++
		}
		sum += e.score()
	}
	if h.Total > 0 {
		h.AvgScore = sum / float64(h.Total)
	}
	return h
}

// Servers lists the pool in descending score order, for diagnostics.
func (p *Pool) Servers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	sorted := append([]*entry(nil), p.entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].score() > sorted[j].score() })
	out := make([]string, len(sorted))
	for i, e := range sorted {
		out[i] = fmt.Sprintf("%s (%.2f)", e.proxy.Server, e.score())
	}
	return out
}
