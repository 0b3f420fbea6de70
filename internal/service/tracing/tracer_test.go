package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidleathers/botwatch/internal/domain/trace"
)

type captureExporter struct {
	name    string
	err     error
	batches [][]*trace.Span
}

func (e *captureExporter) Name() string { return e.name }

func (e *captureExporter) Export(_ context.Context, spans []*trace.Span) error {
	e.batches = append(e.batches, spans)
	return e.err
}

func alwaysSample() Config { return Config{SampleRate: 1} }

func TestStartTraceGeneratesFreshContext(t *testing.T) {
	tr := New(alwaysSample(), zap.NewNop())

	a := tr.StartTrace("handle_message")
	b := tr.StartTrace("handle_message")

	assert.NotEmpty(t, a.TraceID)
	assert.NotEmpty(t, a.SpanID)
	assert.Empty(t, a.ParentSpanID)
	assert.True(t, a.Sampled)
	assert.NotEqual(t, a.TraceID, b.TraceID)
	assert.NotEqual(t, a.SpanID, b.SpanID)
	assert.Equal(t, 2, tr.OpenSpans())
}

func TestChildInheritsTraceAndSampling(t *testing.T) {
	tr := New(Config{SampleRate: 0}, zap.NewNop())

	root := tr.StartTrace("handle_message")
	require.False(t, root.Sampled)

	child := tr.StartSpan("llm_call", root)
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentSpanID)
	assert.NotEqual(t, root.SpanID, child.SpanID)

	// The sampling decision is made at the root and never revisited.
	assert.False(t, child.Sampled)
}

func TestEndSpanComputesDuration(t *testing.T) {
	tr := New(alwaysSample(), zap.NewNop())

	ctx := tr.StartTrace("handle_message")
	time.Sleep(10 * time.Millisecond)
	tr.EndSpan(ctx.SpanID, trace.StatusOK, map[string]string{"provider": "discord"})

	tree := tr.GetTraceTree(ctx.TraceID)
	require.Len(t, tree.Roots, 1)

	s := tree.Roots[0].Span
	require.NotNil(t, s.Duration)
	assert.GreaterOrEqual(t, *s.Duration, 10*time.Millisecond)
	require.NotNil(t, s.EndTime)
	assert.Equal(t, trace.StatusOK, s.Status)
	assert.Equal(t, "discord", s.Tags["provider"])
	assert.Zero(t, tr.OpenSpans())
}

func TestEndSpanUnknownIDIsNoOp(t *testing.T) {
	tr := New(alwaysSample(), zap.NewNop())
	assert.NotPanics(t, func() {
		tr.EndSpan("no-such-span", trace.StatusOK, nil)
	})
}

func TestUnsampledSpansDiscarded(t *testing.T) {
	tr := New(Config{SampleRate: 0}, zap.NewNop())

	ctx := tr.StartTrace("handle_message")
	tr.EndSpan(ctx.SpanID, trace.StatusOK, nil)

	assert.Empty(t, tr.GetTraceTree(ctx.TraceID).Roots)

	exp := &captureExporter{name: "capture"}
	tr.RegisterExporter(exp)
	tr.Export(context.Background())
	assert.Empty(t, exp.batches)
}

func TestSpanLogsAndAnnotations(t *testing.T) {
	tr := New(alwaysSample(), zap.NewNop())

	ctx := tr.StartTrace("handle_message")
	tr.AddSpanLog(ctx.SpanID, "prompt built", map[string]string{"tokens": "120"})
	tr.Annotate(ctx.SpanID, "bot", "support-bot")
	tr.EndSpan(ctx.SpanID, trace.StatusOK, nil)

	tree := tr.GetTraceTree(ctx.TraceID)
	require.Len(t, tree.Roots, 1)
	s := tree.Roots[0].Span
	require.Len(t, s.Logs, 1)
	assert.Equal(t, "prompt built", s.Logs[0].Message)
	assert.Equal(t, "120", s.Logs[0].Fields["tokens"])
	assert.Equal(t, "support-bot", s.Annotations["bot"])

	// Logging against an ended span is a no-op.
	tr.AddSpanLog(ctx.SpanID, "too late", nil)
	assert.Len(t, tr.GetTraceTree(ctx.TraceID).Roots[0].Span.Logs, 1)
}

func TestInjectExtractRoundTrip(t *testing.T) {
	ctx := trace.Context{
		TraceID:      "abc123",
		SpanID:       "def456",
		ParentSpanID: "parent789",
		Sampled:      true,
	}

	carrier := make(map[string]string)
	Inject(ctx, carrier)

	assert.Equal(t, "abc123", carrier[trace.HeaderTraceID])
	assert.Equal(t, "1", carrier[trace.HeaderSampled])

	got, ok := Extract(carrier)
	require.True(t, ok)
	assert.Equal(t, ctx, got)
}

func TestExtractEmptyCarrier(t *testing.T) {
	_, ok := Extract(map[string]string{})
	assert.False(t, ok)
}

func TestInjectUnsampledOmitsFlag(t *testing.T) {
	carrier := make(map[string]string)
	Inject(trace.Context{TraceID: "t", SpanID: "s"}, carrier)

	_, present := carrier[trace.HeaderSampled]
	assert.False(t, present)

	got, ok := Extract(carrier)
	require.True(t, ok)
	assert.False(t, got.Sampled)
}

func TestGetTraceTreeNesting(t *testing.T) {
	tr := New(alwaysSample(), zap.NewNop())

	root := tr.StartTrace("handle_message")
	llm := tr.StartSpan("llm_call", root)
	time.Sleep(time.Millisecond)
	db := tr.StartSpan("store_reply", root)
	retry := tr.StartSpan("llm_retry", llm)

	tr.EndSpan(retry.SpanID, trace.StatusError, nil)
	tr.EndSpan(llm.SpanID, trace.StatusOK, nil)
	tr.EndSpan(db.SpanID, trace.StatusOK, nil)
	tr.EndSpan(root.SpanID, trace.StatusOK, nil)

	tree := tr.GetTraceTree(root.TraceID)
	require.Len(t, tree.Roots, 1)

	rootNode := tree.Roots[0]
	assert.Equal(t, "handle_message", rootNode.Span.Operation)
	require.Len(t, rootNode.Children, 2)

	// Children ordered by start time.
	assert.Equal(t, "llm_call", rootNode.Children[0].Span.Operation)
	assert.Equal(t, "store_reply", rootNode.Children[1].Span.Operation)

	require.Len(t, rootNode.Children[0].Children, 1)
	assert.Equal(t, "llm_retry", rootNode.Children[0].Children[0].Span.Operation)
	assert.Equal(t, trace.StatusError, rootNode.Children[0].Children[0].Span.Status)
}

func TestTreeExcludesOpenSpans(t *testing.T) {
	tr := New(alwaysSample(), zap.NewNop())

	root := tr.StartTrace("handle_message")
	child := tr.StartSpan("llm_call", root)
	tr.EndSpan(child.SpanID, trace.StatusOK, nil)

	// Only the completed child appears; the still-open root is absent so the
	// child surfaces as a root of the partial tree.
	tree := tr.GetTraceTree(root.TraceID)
	require.Len(t, tree.Roots, 1)
	assert.Equal(t, "llm_call", tree.Roots[0].Span.Operation)
}

func TestExportDrainsBufferOnce(t *testing.T) {
	tr := New(alwaysSample(), zap.NewNop())
	exp := &captureExporter{name: "capture"}
	tr.RegisterExporter(exp)

	ctx := tr.StartTrace("handle_message")
	tr.EndSpan(ctx.SpanID, trace.StatusOK, nil)

	tr.Export(context.Background())
	require.Len(t, exp.batches, 1)
	assert.Len(t, exp.batches[0], 1)

	// The buffer is drained: a second export ships nothing.
	tr.Export(context.Background())
	assert.Len(t, exp.batches, 1)

	// Exported spans leave the tree index too.
	assert.Empty(t, tr.GetTraceTree(ctx.TraceID).Roots)
}

func TestFailingExporterDoesNotBlockOthers(t *testing.T) {
	tr := New(alwaysSample(), zap.NewNop())
	broken := &captureExporter{name: "broken", err: errors.New("collector unreachable")}
	working := &captureExporter{name: "working"}
	tr.RegisterExporter(broken)
	tr.RegisterExporter(working)

	ctx := tr.StartTrace("handle_message")
	tr.EndSpan(ctx.SpanID, trace.StatusOK, nil)
	tr.Export(context.Background())

	require.Len(t, broken.batches, 1)
	require.Len(t, working.batches, 1)
}

func TestCompletedBufferBounded(t *testing.T) {
	tr := New(Config{SampleRate: 1, MaxCompletedSpans: 3}, zap.NewNop())
	exp := &captureExporter{name: "capture"}
	tr.RegisterExporter(exp)

	for i := 0; i < 5; i++ {
		ctx := tr.StartTrace("op")
		tr.EndSpan(ctx.SpanID, trace.StatusOK, nil)
	}

	tr.Export(context.Background())
	require.Len(t, exp.batches, 1)
	assert.Len(t, exp.batches[0], 3)
}

func TestResetClearsAllState(t *testing.T) {
	tr := New(alwaysSample(), zap.NewNop())

	root := tr.StartTrace("handle_message")
	child := tr.StartSpan("llm_call", root)
	tr.EndSpan(child.SpanID, trace.StatusOK, nil)

	tr.Reset()
	assert.Zero(t, tr.OpenSpans())
	assert.Empty(t, tr.GetTraceTree(root.TraceID).Roots)
}
