package ralph

import (
	"context"
	"testing"

	"agentdesk/internal/session"
	"agentdesk/internal/task"
)

// recordingObserver tracks method calls for testing.
type recordingObserver struct {
	calls []string
}

func (r *recordingObserver) OnLoopStart(t *task.Task, maxAttempts int) {
	r.calls = append(r.calls, "loop-start")
}

func (r *recordingObserver) OnAttemptStart(t *task.Task, attempt int, s session.Session) {
	r.calls = append(r.calls, "attempt-start:"+s.ID)
}

func (r *recordingObserver) OnProgress(t *task.Task, attempt int, tail string) {
	r.calls = append(r.calls, "progress:"+tail)
}

func (r *recordingObserver) OnAttemptEnd(t *task.Task, rec AttemptRecord) {
	r.calls = append(r.calls, "attempt-end")
}

func (r *recordingObserver) OnSuccess(t *task.Task, res Result) {
	r.calls = append(r.calls, "success")
}

func (r *recordingObserver) OnFailure(t *task.Task, res Result) {
	r.calls = append(r.calls, "failure")
}

// panicObserver panics on every call.
type panicObserver struct{ NoopObserver }

func (panicObserver) OnLoopStart(*task.Task, int)  { panic("observer panic") }
func (panicObserver) OnSuccess(*task.Task, Result) { panic("observer panic") }

func TestNewMultiObserver_FiltersNilObservers(t *testing.T) {
	obs1 := &recordingObserver{}
	obs2 := &recordingObserver{}

	multi := NewMultiObserver(obs1, nil, obs2, nil)

	if len(multi.observers) != 2 {
		t.Errorf("expected 2 observers, got %d", len(multi.observers))
	}
}

func TestMultiObserver_PanicDoesNotBlockOthers(t *testing.T) {
	rec := &recordingObserver{}
	multi := NewMultiObserver(panicObserver{}, rec)

	f := &fakeLauncher{results: []session.Result{okResult("")}}
	l := NewLoop(f, nil, Config{}, WithObserver(multi))
	res := l.Run(context.Background(), Request{Task: newTask(3)})
	if !res.Success {
		t.Fatalf("Run() = %+v", res)
	}
	want := []string{"loop-start", "attempt-start:s1", "progress:working", "attempt-end", "success"}
	if len(rec.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", rec.calls, want)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, rec.calls[i], want[i])
		}
	}
}
