package trace

import (
	"time"
)

// Carrier keys for cross-service context propagation. Any transport that can
// carry string pairs (HTTP headers, message attributes) can relay a context.
const (
	HeaderTraceID      = "trace-id"
	HeaderSpanID       = "span-id"
	HeaderParentSpanID = "parent-span-id"
	HeaderSampled      = "sampled"
)

// SpanStatus records how a span ended.
type SpanStatus string

const (
	StatusOK    SpanStatus = "ok"
	StatusError SpanStatus = "error"
)

// Context identifies a position within a trace. Sampling is decided once at
// trace creation and inherited unchanged by every child span.
type Context struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
	Sampled      bool   `json:"sampled"`
}

// LogRecord is a timestamped event attached to a span.
type LogRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Span is a timed unit of work. Open from creation until EndSpan, after
// which it is immutable.
type Span struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Operation    string         `json:"operation"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
	Duration     *time.Duration `json:"duration,omitempty"`
	Status       SpanStatus     `json:"status"`
	Sampled      bool           `json:"sampled"`

	Tags        map[string]string `json:"tags,omitempty"`
	Logs        []LogRecord       `json:"logs,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Clone returns a deep copy so exporters and queries cannot mutate
// tracer-owned state.
func (s *Span) Clone() *Span {
	c := *s
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if s.Duration != nil {
		d := *s.Duration
		c.Duration = &d
	}
	if s.Tags != nil {
		c.Tags = make(map[string]string, len(s.Tags))
		for k, v := range s.Tags {
			c.Tags[k] = v
		}
	}
	if s.Annotations != nil {
		c.Annotations = make(map[string]string, len(s.Annotations))
		for k, v := range s.Annotations {
			c.Annotations[k] = v
		}
	}
	if s.Logs != nil {
		c.Logs = make([]LogRecord, len(s.Logs))
		copy(c.Logs, s.Logs)
	}
	return &c
}

// Tree is a trace rendered as its root spans with nested children, for the
// presentation layer's waterfall view.
type Tree struct {
	TraceID string  `json:"trace_id"`
	Roots   []*Node `json:"roots"`
}

// Node is a span plus its children, ordered by start time.
type Node struct {
	Span     *Span   `json:"span"`
	Children []*Node `json:"children,omitempty"`
}
