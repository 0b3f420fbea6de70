package tracing

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/botwatch/internal/domain/trace"
)

// Config controls sampling and buffering.
type Config struct {
	// SampleRate in [0, 1]; the sampling decision is made once per trace and
	// inherited by every child span.
	SampleRate float64
	// MaxCompletedSpans bounds the export buffer; oldest spans are dropped
	// when exporters cannot keep up.
	MaxCompletedSpans int
}

// Tracer tracks spans across the other components. Open spans live in a map
// keyed by span id; EndSpan moves them to a completed buffer drained by the
// periodic export.
type Tracer struct {
	logger *zap.Logger
	cfg    Config

	mu        sync.Mutex
	open      map[string]*trace.Span
	completed []*trace.Span
	exporters []Exporter

	// Completed spans also indexed by trace for GetTraceTree; bounded by the
	// same buffer discipline as completed.
	byTrace map[string][]*trace.Span
}

// New creates a tracer.
func New(cfg Config, logger *zap.Logger) *Tracer {
	if cfg.SampleRate < 0 {
		cfg.SampleRate = 0
	}
	if cfg.SampleRate > 1 {
		cfg.SampleRate = 1
	}
	if cfg.MaxCompletedSpans <= 0 {
		cfg.MaxCompletedSpans = 5000
	}
	return &Tracer{
		logger:  logger,
		cfg:     cfg,
		open:    make(map[string]*trace.Span),
		byTrace: make(map[string][]*trace.Span),
	}
}

// RegisterExporter adds a sink for completed spans.
func (t *Tracer) RegisterExporter(e Exporter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exporters = append(t.exporters, e)
}

// StartTrace opens a new root span and returns its context. The sampling
// decision is made here and never revisited.
func (t *Tracer) StartTrace(operation string) trace.Context {
	ctx := trace.Context{
		TraceID: newID(),
		SpanID:  newID(),
		Sampled: rand.Float64() < t.cfg.SampleRate,
	}
	t.openSpan(operation, ctx)
	return ctx
}

// StartSpan opens a child span under parent. The child inherits the
// parent's trace id and sampling decision unchanged.
func (t *Tracer) StartSpan(operation string, parent trace.Context) trace.Context {
	ctx := trace.Context{
		TraceID:      parent.TraceID,
		SpanID:       newID(),
		ParentSpanID: parent.SpanID,
		Sampled:      parent.Sampled,
	}
	t.openSpan(operation, ctx)
	return ctx
}

// EndSpan closes an open span, computing its duration and moving it into
// the completed buffer. Unknown span ids are a no-op. Unsampled spans are
// discarded instead of buffered.
func (t *Tracer) EndSpan(spanID string, status trace.SpanStatus, tags map[string]string) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.open[spanID]
	if !ok {
		return
	}
	delete(t.open, spanID)

	s.EndTime = &now
	d := now.Sub(s.StartTime)
	s.Duration = &d
	s.Status = status
	for k, v := range tags {
		if s.Tags == nil {
			s.Tags = make(map[string]string)
		}
		s.Tags[k] = v
	}

	if !s.Sampled {
		return
	}

	if len(t.completed) >= t.cfg.MaxCompletedSpans {
		dropped := t.completed[0]
		t.completed = t.completed[1:]
		t.dropFromTrace(dropped)
	}
	t.completed = append(t.completed, s)
	t.byTrace[s.TraceID] = append(t.byTrace[s.TraceID], s)
}

// AddSpanLog attaches a timestamped event to an open span.
func (t *Tracer) AddSpanLog(spanID, message string, fields map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.open[spanID]
	if !ok {
		return
	}
	var fieldsCopy map[string]string
	if fields != nil {
		fieldsCopy = make(map[string]string, len(fields))
		for k, v := range fields {
			fieldsCopy[k] = v
		}
	}
	s.Logs = append(s.Logs, trace.LogRecord{
		Timestamp: time.Now(),
		Message:   message,
		Fields:    fieldsCopy,
	})
}

// Annotate sets an annotation on an open span.
func (t *Tracer) Annotate(spanID, key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.open[spanID]
	if !ok {
		return
	}
	if s.Annotations == nil {
		s.Annotations = make(map[string]string)
	}
	s.Annotations[key] = value
}

// Inject writes a context into a string-pair carrier.
func Inject(ctx trace.Context, carrier map[string]string) {
	carrier[trace.HeaderTraceID] = ctx.TraceID
	carrier[trace.HeaderSpanID] = ctx.SpanID
	if ctx.ParentSpanID != "" {
		carrier[trace.HeaderParentSpanID] = ctx.ParentSpanID
	}
	if ctx.Sampled {
		carrier[trace.HeaderSampled] = "1"
	}
}

// Extract reads a context back out of a carrier. Returns false when the
// carrier holds no trace.
func Extract(carrier map[string]string) (trace.Context, bool) {
	traceID := carrier[trace.HeaderTraceID]
	if traceID == "" {
		return trace.Context{}, false
	}
	return trace.Context{
		TraceID:      traceID,
		SpanID:       carrier[trace.HeaderSpanID],
		ParentSpanID: carrier[trace.HeaderParentSpanID],
		Sampled:      carrier[trace.HeaderSampled] == "1",
	}, true
}

// Export drains the completed buffer through every exporter. An exporter
// failure is logged and does not stop the others; the buffer is cleared
// either way, matching at-most-once delivery.
func (t *Tracer) Export(ctx context.Context) {
	t.mu.Lock()
	if len(t.completed) == 0 {
		t.mu.Unlock()
		return
	}
	batch := t.completed
	t.completed = nil
	for _, s := range batch {
		t.dropFromTrace(s)
	}
	exporters := make([]Exporter, len(t.exporters))
	copy(exporters, t.exporters)
	t.mu.Unlock()

	copies := make([]*trace.Span, len(batch))
	for i, s := range batch {
		copies[i] = s.Clone()
	}

	for _, e := range exporters {
		if err := e.Export(ctx, copies); err != nil {
			t.logger.Error("span exporter failed",
				zap.String("exporter", e.Name()),
				zap.Int("spans", len(copies)),
				zap.Error(err),
			)
		}
	}
}

// GetTraceTree returns the completed spans of a trace as a nested tree,
// children ordered by start time. Spans still open or already exported are
// not included.
func (t *Tracer) GetTraceTree(traceID string) trace.Tree {
	t.mu.Lock()
	spans := t.byTrace[traceID]
	copies := make([]*trace.Span, len(spans))
	for i, s := range spans {
		copies[i] = s.Clone()
	}
	t.mu.Unlock()

	tree := trace.Tree{TraceID: traceID}
	nodes := make(map[string]*trace.Node, len(copies))
	for _, s := range copies {
		nodes[s.SpanID] = &trace.Node{Span: s}
	}
	for _, s := range copies {
		node := nodes[s.SpanID]
		if parent, ok := nodes[s.ParentSpanID]; ok && s.ParentSpanID != "" {
			parent.Children = append(parent.Children, node)
		} else {
			tree.Roots = append(tree.Roots, node)
		}
	}
	sortNodes(tree.Roots)
	for _, n := range nodes {
		sortNodes(n.Children)
	}
	return tree
}

// OpenSpans returns the number of spans not yet ended.
func (t *Tracer) OpenSpans() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// Reset clears all span state. Part of the shutdown sequence.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = make(map[string]*trace.Span)
	t.completed = nil
	t.byTrace = make(map[string][]*trace.Span)
}

func (t *Tracer) openSpan(operation string, ctx trace.Context) {
	s := &trace.Span{
		TraceID:      ctx.TraceID,
		SpanID:       ctx.SpanID,
		ParentSpanID: ctx.ParentSpanID,
		Operation:    operation,
		StartTime:    time.Now(),
		Status:       trace.StatusOK,
		Sampled:      ctx.Sampled,
	}
	t.mu.Lock()
	t.open[ctx.SpanID] = s
	t.mu.Unlock()
}

func (t *Tracer) dropFromTrace(s *trace.Span) {
	list := t.byTrace[s.TraceID]
	for i, candidate := range list {
		if candidate == s {
			t.byTrace[s.TraceID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(t.byTrace[s.TraceID]) == 0 {
		delete(t.byTrace, s.TraceID)
	}
}

func sortNodes(nodes []*trace.Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j].Span.StartTime.Before(nodes[j-1].Span.StartTime); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
