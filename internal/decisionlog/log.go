// ABOUTME: Structured decision log entries, sinks, and per-request recorders
// ABOUTME: Every gate decision point appends one entry tagged with a correlation id

package decisionlog

import (
	"context"
	"log/slog"
	"time"
)

// Level is the severity of a decision log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Slog maps the level onto a slog.Level.
func (l Level) Slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Entry is one decision point.
type Entry struct {
	Timestamp     time.Time      `json:"timestamp"`
	Level         Level          `json:"level"`
	Component     string         `json:"component"`
	Action        string         `json:"action"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID string         `json:"correlationId"`
}

// Sink receives entries. Implementations must be safe for concurrent use.
type Sink interface {
	Append(Entry)
}

// Discard drops every entry.
var Discard Sink = discard{}

type discard struct{}

func (discard) Append(Entry) {}

// Multi fans entries out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Append(e Entry) {
	for _, s := range m {
		s.Append(e)
	}
}

// SlogSink writes entries to a slog.Logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink that logs through logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

// Append logs the entry at its level.
func (s *SlogSink) Append(e Entry) {
	attrs := make([]slog.Attr, 0, len(e.Details)+3)
	attrs = append(attrs,
		slog.String("component", e.Component),
		slog.String("correlation_id", e.CorrelationID),
	)
	for k, v := range e.Details {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.logger.LogAttrs(context.Background(), e.Level.Slog(), e.Action, attrs...)
}

// Recorder appends entries for one request and component.
// The zero value is not usable; use NewRecorder.
type Recorder struct {
	sink          Sink
	component     string
	correlationID string
	now           func() time.Time
}

// NewRecorder binds a sink to a component and correlation id.
// A nil sink discards entries.
func NewRecorder(sink Sink, component, correlationID string) *Recorder {
	if sink == nil {
		sink = Discard
	}
	return &Recorder{
		sink:          sink,
		component:     component,
		correlationID: correlationID,
		now:           time.Now,
	}
}

// With returns a recorder for another component on the same request.
func (r *Recorder) With(component string) *Recorder {
	c := *r
	c.component = component
	return &c
}

// CorrelationID returns the id every entry is tagged with.
func (r *Recorder) CorrelationID() string { return r.correlationID }

func (r *Recorder) record(level Level, action string, details map[string]any) {
	r.sink.Append(Entry{
		Timestamp:     r.now().UTC(),
		Level:         level,
		Component:     r.component,
		Action:        action,
		Details:       details,
		CorrelationID: r.correlationID,
	})
}

func (r *Recorder) Debug(action string, details map[string]any) { r.record(LevelDebug, action, details) }
func (r *Recorder) Info(action string, details map[string]any)  { r.record(LevelInfo, action, details) }
func (r *Recorder) Warn(action string, details map[string]any)  { r.record(LevelWarn, action, details) }
func (r *Recorder) Error(action string, details map[string]any) { r.record(LevelError, action, details) }
