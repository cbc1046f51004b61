// Package events carries job progress to whoever is watching: the console,
// the log and WebSocket subscribers.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Type names a progress event.
type Type string

const (
	Started         Type = "started"
	PageInfo        Type = "page_info"
	Screenshot      Type = "screenshot"
	Decision        Type = "decision"
	ProxyStats      Type = "proxy_stats"
	Extraction      Type = "extraction"
	NavigationError Type = "navigation_error"
	AntiBot         Type = "anti_bot"
	Routine         Type = "routine"
	StreamingInfo   Type = "streaming_info"
	Finished        Type = "finished"
)

// Statuses carried by extraction, routine and finished events.
const (
	StatusStarting  = "starting"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusMissing   = "missing"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Event is one progress report of a job.
type Event struct {
	JobID  string         `json:"job_id"`
	Type   Type           `json:"type"`
	Status string         `json:"status,omitempty"`
	Time   time.Time      `json:"timestamp"`
	Data   map[string]any `json:"data,omitempty"`
}

// Publisher receives the events of a job. Publish must not block on slow
// consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Func adapts a function to Publisher.
type Func func(ctx context.Context, e Event)

func (f Func) Publish(ctx context.Context, e Event) { f(ctx, e) }

// Multi fans an event out to every publisher, in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

// Discard drops every event.
var Discard Publisher = Func(func(context.Context, Event) {})

// LogPublisher mirrors events to a zap logger.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher returns a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.With(zap.String("component", "events"))}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) {
	fields := []zap.Field{
		zap.String("job_id", e.JobID),
		zap.String("type", string(e.Type)),
	}
	if e.Status != "" {
		fields = append(fields, zap.String("status", e.Status))
	}
	for k, v := range e.Data {
		// screenshots are large and useless in a log line
		if e.Type == Screenshot && k == "image" {
			continue
		}
		fields = append(fields, zap.Any(k, v))
	}

	switch e.Type {
	case NavigationError:
		p.logger.Warn("Job event", fields...)
	case Screenshot:
		p.logger.Debug("Job event", fields...)
	default:
		if e.Status == StatusFailed || e.Status == StatusError {
			p.logger.Warn("Job event", fields...)
			return
		}
		p.logger.Info("Job event", fields...)
	}
}
