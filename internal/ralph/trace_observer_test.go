package ralph

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"agentdesk/internal/session"
)

func TestTracingObserver_LoopAndAttemptSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	obs := NewTracingObserver(tp.Tracer(TracerName))
	f := &fakeLauncher{results: []session.Result{fail("error: tests failed"), {Success: true, ReviewID: "7"}}}
	l := NewLoop(f, nil, Config{}, WithObserver(obs))
	res := l.Run(context.Background(), Request{Task: newTask(3)})
	if !res.Success {
		t.Fatalf("Run() = %+v", res)
	}

	spans := sr.Ended()
	if len(spans) != 3 {
		t.Fatalf("got %d ended spans, want 3", len(spans))
	}
	var loop sdktrace.ReadOnlySpan
	var attempts []sdktrace.ReadOnlySpan
	for _, s := range spans {
		switch s.Name() {
		case "ralph.loop":
			loop = s
		case "ralph.attempt":
			attempts = append(attempts, s)
		}
	}
	if loop == nil || len(attempts) != 2 {
		t.Fatalf("spans = loop %v, attempts %d", loop != nil, len(attempts))
	}
	for _, a := range attempts {
		if a.Parent().SpanID() != loop.SpanContext().SpanID() {
			t.Error("attempt span is not a child of the loop span")
		}
	}
	if attempts[0].Status().Code != codes.Error {
		t.Errorf("failed attempt status = %v", attempts[0].Status().Code)
	}
	if attempts[1].Status().Code == codes.Error {
		t.Error("successful attempt marked as error")
	}
	if loop.Status().Code == codes.Error {
		t.Error("successful loop marked as error")
	}
	if len(obs.loops) != 0 {
		t.Errorf("observer still holds %d open loops", len(obs.loops))
	}
}

func TestTracingObserver_FailedLoop(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	obs := NewTracingObserver(tp.Tracer(TracerName))
	f := &fakeLauncher{results: []session.Result{fail("mismatch")}}
	NewLoop(f, nil, Config{}, WithObserver(obs)).Run(context.Background(), Request{Task: newTask(3)})

	for _, s := range sr.Ended() {
		if s.Name() == "ralph.loop" && s.Status().Code != codes.Error {
			t.Errorf("failed loop status = %v", s.Status().Code)
		}
	}
}
