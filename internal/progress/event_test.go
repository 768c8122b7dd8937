package progress

import (
	"testing"
	"time"

	"agentdesk/internal/ralph"
	"agentdesk/internal/session"
	"agentdesk/internal/task"
)

func TestStatus_Constants(t *testing.T) {
	if StatusRunning != "running" {
		t.Errorf("StatusRunning: expected 'running', got %q", StatusRunning)
	}
	if StatusDone != "done" {
		t.Errorf("StatusDone: expected 'done', got %q", StatusDone)
	}
	if StatusError != "error" {
		t.Errorf("StatusError: expected 'error', got %q", StatusError)
	}
}

func TestChanEmitter_Emit_SetsTimestampWhenZero(t *testing.T) {
	ch := make(chan Event, 1)
	emitter := &ChanEmitter{Ch: ch}

	ev := Event{Message: "test", Status: StatusRunning}
	emitter.Emit(ev)

	got := <-ch
	if got.Timestamp.IsZero() {
		t.Error("Emit: expected timestamp to be set when zero")
	}
	if got.Message != "test" || got.Status != StatusRunning {
		t.Errorf("Emit: got Message=%q Status=%q", got.Message, got.Status)
	}
}

func TestChanEmitter_Emit_PreservesTimestamp(t *testing.T) {
	ch := make(chan Event, 1)
	emitter := &ChanEmitter{Ch: ch}

	ts := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)
	ev := Event{Message: "test", Status: StatusDone, Timestamp: ts}
	emitter.Emit(ev)

	got := <-ch
	if !got.Timestamp.Equal(ts) {
		t.Errorf("Emit: expected preserved timestamp %v, got %v", ts, got.Timestamp)
	}
}

func TestChanEmitter_Emit_DropsWhenFull(t *testing.T) {
	ch := make(chan Event, 1)
	emitter := &ChanEmitter{Ch: ch}

	// Fill channel
	emitter.Emit(Event{Message: "first"})
	// Second emit should drop (non-blocking)
	emitter.Emit(Event{Message: "dropped"})

	got := <-ch
	if got.Message != "first" {
		t.Errorf("Emit full: expected 'first', got %q", got.Message)
	}
	select {
	case <-ch:
		t.Error("Emit full: expected dropped event not to be sent")
	default:
		// ok
	}
}

func TestChanEmitter_Emit_Metadata(t *testing.T) {
	ch := make(chan Event, 1)
	emitter := &ChanEmitter{Ch: ch}

	ev := Event{
		Message:  "step",
		Status:   StatusRunning,
		Metadata: map[string]string{"step": "2", "percent": "50"},
	}
	emitter.Emit(ev)

	got := <-ch
	if got.Metadata["step"] != "2" || got.Metadata["percent"] != "50" {
		t.Errorf("Emit: expected metadata, got %v", got.Metadata)
	}
}

type recorder struct{ events []Event }

func (r *recorder) Emit(ev Event) { r.events = append(r.events, ev) }

func TestObserver_AttemptLifecycle(t *testing.T) {
	rec := &recorder{}
	obs := NewObserver(rec)
	tk := &task.Task{ID: "t1"}

	obs.OnAttemptStart(tk, 1, session.Session{ID: "s1", TmuxSession: "agentdesk-t1"})
	obs.OnProgress(tk, 1, "compiling\nrunning tests\n\n")
	obs.OnProgress(tk, 1, "  \n")
	obs.OnAttemptEnd(tk, ralph.AttemptRecord{
		Attempt:  1,
		Duration: 1500 * time.Millisecond,
		Analysis: &task.FailureAnalysis{Reason: "build failed", Category: task.CategoryTechnical},
	})
	obs.OnFailure(tk, ralph.Result{Attempts: 1, Stop: ralph.StopNotRetryable})

	want := []Kind{KindAttemptStart, KindOutput, KindAttemptEnd, KindFinished}
	if len(rec.events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(rec.events), len(want), rec.events)
	}
	for i, k := range want {
		if rec.events[i].Kind != k || rec.events[i].TaskID != "t1" {
			t.Errorf("event %d = %s/%s, want %s/t1", i, rec.events[i].Kind, rec.events[i].TaskID, k)
		}
	}
	if got := rec.events[0].Metadata["tmux"]; got != "agentdesk-t1" {
		t.Errorf("tmux metadata = %q", got)
	}
	if got := rec.events[1].Message; got != "running tests" {
		t.Errorf("output message = %q", got)
	}
	end := rec.events[2]
	if end.Status != StatusError || end.Metadata["category"] != "technical" || end.Metadata["duration"] != "1s" {
		t.Errorf("attempt end = %+v", end)
	}
	if rec.events[3].Status != StatusError {
		t.Errorf("finished status = %s, want error", rec.events[3].Status)
	}
}

func TestObserver_SuccessAndCancel(t *testing.T) {
	rec := &recorder{}
	obs := NewObserver(rec)
	tk := &task.Task{ID: "t2"}

	obs.OnSuccess(tk, ralph.Result{Success: true, Attempts: 2, ReviewID: "17"})
	obs.OnFailure(tk, ralph.Result{Attempts: 1, Stop: ralph.StopCancelled})

	if ev := rec.events[0]; ev.Status != StatusDone || ev.Metadata["review"] != "17" || ev.Metadata["attempts"] != "2" {
		t.Errorf("success event = %+v", ev)
	}
	if ev := rec.events[1]; ev.Status != StatusAborted {
		t.Errorf("cancelled status = %s, want aborted", ev.Status)
	}
}

func TestObserver_ThroughMultiObserver(t *testing.T) {
	ch := make(chan Event, 4)
	multi := ralph.NewMultiObserver(NewObserver(&ChanEmitter{Ch: ch}))
	multi.OnAttemptEnd(&task.Task{ID: "t3"}, ralph.AttemptRecord{Attempt: 1})

	select {
	case ev := <-ch:
		if ev.Status != StatusDone || ev.Timestamp.IsZero() {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("no event emitted")
	}
}

func TestLastLine(t *testing.T) {
	tests := map[string]string{
		"":                 "",
		"one":              "one",
		"one\ntwo\n":       "two",
		"one\n  two  \r\n": "two",
		"\n\n\n":           "",
	}
	for in, want := range tests {
		if got := LastLine(in); got != want {
			t.Errorf("LastLine(%q) = %q, want %q", in, got, want)
		}
	}
}
