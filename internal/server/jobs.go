package server

import (
	"context"
	"sync"
	"time"

	"github.com/v0xg/browserpilot/internal/agent"
	"github.com/v0xg/browserpilot/internal/artifact"
	"github.com/v0xg/browserpilot/internal/events"
)

// Status is the lifecycle state of a job.
type Status string

const (
	Running   Status = "running"
	Completed Status = events.StatusCompleted
	Failed    Status = events.StatusFailed
	Cancelled Status = events.StatusCancelled
)

// JobInfo is what the server knows about a job.
type JobInfo struct {
	ID          string          `json:"job_id"`
	Goal        string          `json:"goal"`
	Format      artifact.Format `json:"format"`
	Extension   string          `json:"extension"`
	ContentType string          `json:"content_type"`
	Headless    bool            `json:"headless"`
	Streaming   bool            `json:"streaming,omitempty"`
	Proxy       string          `json:"proxy,omitempty"`
	Status      Status          `json:"status"`
	Steps       int             `json:"steps"`
	Fallback    bool            `json:"fallback,omitempty"`
	Error       string          `json:"error,omitempty"`
	Created     time.Time       `json:"created_at"`
	Finished    *time.Time      `json:"finished_at,omitempty"`
}

type job struct {
	info   JobInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// Jobs is the process-scoped job registry.
type Jobs struct {
	mu   sync.RWMutex
	jobs map[string]*job
}

// NewJobs returns an empty registry.
func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[string]*job)}
}

func (s *Jobs) add(info JobInfo, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[info.ID] = &job{info: info, cancel: cancel, done: make(chan struct{})}
}

// Get returns a copy of the job's info.
func (s *Jobs) Get(id string) (JobInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobInfo{}, false
	}
	return j.info, true
}

// Done returns a channel closed when the job has finished, or nil for an
// unknown job.
func (s *Jobs) Done(id string) <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if j, ok := s.jobs[id]; ok {
		return j.done
	}
	return nil
}

// finish records the outcome of a job. Only the first call has an effect.
func (s *Jobs) finish(id string, res agent.Result, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.info.Status != Running {
		return
	}

	j.info.Status = Status(res.Status)
	if j.info.Status == "" {
		j.info.Status = Failed
	}
	j.info.Steps = res.Steps
	j.info.Finished = &at
	if res.Format != "" {
		j.info.Format = res.Format
	}
	if res.Saved != nil {
		j.info.Format = res.Saved.Format
		j.info.Fallback = res.Saved.Fallback
	}
	j.info.Extension = j.info.Format.Ext()
	j.info.ContentType = j.info.Format.ContentType()
	if res.Err != nil {
		j.info.Error = res.Err.Error()
	}
	close(j.done)
}

// cancel stops a running job. It reports false when the job is unknown or
// already finished.
func (s *Jobs) cancel(id string) (JobInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobInfo{}, false
	}
	if j.info.Status != Running {
		return j.info, false
	}
	j.cancel()
	return j.info, true
}

func (s *Jobs) cancelAll() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, j := range s.jobs {
		if j.info.Status == Running {
			j.cancel()
			n++
		}
	}
	return n
}
