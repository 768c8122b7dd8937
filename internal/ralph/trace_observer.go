package ralph

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"agentdesk/internal/session"
	"agentdesk/internal/task"
)

// TracerName is the instrumentation scope of loop spans.
const TracerName = "agentdesk/ralph"

// TracingObserver records one span per loop with a child span per attempt.
// Loops for different tasks may run concurrently.
type TracingObserver struct {
	NoopObserver
	tracer oteltrace.Tracer

	mu    sync.Mutex
	loops map[string]*loopSpans // task id -> open spans
}

type loopSpans struct {
	ctx     context.Context
	loop    oteltrace.Span
	attempt oteltrace.Span
}

// NewTracingObserver creates a TracingObserver on tracer.
func NewTracingObserver(tracer oteltrace.Tracer) *TracingObserver {
	return &TracingObserver{
		tracer: tracer,
		loops:  make(map[string]*loopSpans),
	}
}

// OnLoopStart opens the loop span.
func (o *TracingObserver) OnLoopStart(t *task.Task, maxAttempts int) {
	ctx, span := o.tracer.Start(context.Background(), "ralph.loop",
		oteltrace.WithAttributes(
			attribute.String("agentdesk.task.id", t.ID),
			attribute.String("agentdesk.task.type", t.Type.String()),
			attribute.String("agentdesk.agent", t.Agent),
			attribute.Int("agentdesk.max_attempts", maxAttempts),
		))
	o.mu.Lock()
	o.loops[t.ID] = &loopSpans{ctx: ctx, loop: span}
	o.mu.Unlock()
}

// OnAttemptStart opens an attempt span under the loop span.
func (o *TracingObserver) OnAttemptStart(t *task.Task, attempt int, s session.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ls, ok := o.loops[t.ID]
	if !ok {
		return
	}
	_, ls.attempt = o.tracer.Start(ls.ctx, "ralph.attempt",
		oteltrace.WithAttributes(
			attribute.Int("agentdesk.attempt", attempt),
			attribute.String("agentdesk.session.id", s.ID),
			attribute.String("agentdesk.branch", s.Branch),
		))
}

// OnAttemptEnd closes the attempt span.
func (o *TracingObserver) OnAttemptEnd(t *task.Task, rec AttemptRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ls, ok := o.loops[t.ID]
	if !ok || ls.attempt == nil {
		return
	}
	span := ls.attempt
	ls.attempt = nil
	span.SetAttributes(
		attribute.Bool("agentdesk.success", rec.Result.Success),
		attribute.Int64("agentdesk.duration_ms", rec.Duration.Milliseconds()),
	)
	if rec.Analysis != nil {
		span.SetAttributes(attribute.String("agentdesk.failure.category", rec.Analysis.Category.String()))
		span.SetStatus(codes.Error, rec.Analysis.Reason)
	}
	span.End()
}

// OnSuccess closes the loop span.
func (o *TracingObserver) OnSuccess(t *task.Task, r Result) {
	o.endLoop(t, r)
}

// OnFailure closes the loop span with an error status.
func (o *TracingObserver) OnFailure(t *task.Task, r Result) {
	o.endLoop(t, r)
}

func (o *TracingObserver) endLoop(t *task.Task, r Result) {
	o.mu.Lock()
	ls, ok := o.loops[t.ID]
	delete(o.loops, t.ID)
	o.mu.Unlock()
	if !ok {
		return
	}
	if ls.attempt != nil {
		ls.attempt.End()
	}
	ls.loop.SetAttributes(
		attribute.Bool("agentdesk.success", r.Success),
		attribute.Int("agentdesk.attempts", r.Attempts),
		attribute.String("agentdesk.stop", r.Stop.String()),
	)
	if r.ReviewID != "" {
		ls.loop.SetAttributes(attribute.String("agentdesk.review.id", r.ReviewID))
	}
	if !r.Success && r.Analysis != nil {
		ls.loop.SetStatus(codes.Error, r.Analysis.Reason)
	}
	ls.loop.End()
}
