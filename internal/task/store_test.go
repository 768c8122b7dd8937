package task

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("file", func(t *testing.T) {
		fn(t, NewFileStore(t.TempDir()))
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "tasks.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
}

func TestCreate_Defaults(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		created, err := s.Create(Task{
			Title:    "fix login",
			Type:     TypeBugfix,
			Status:   StatusCompleted,
			Attempts: 7,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, StatusPending, created.Status)
		assert.Equal(t, 0, created.Attempts)
		assert.Equal(t, DefaultMaxAttempts, created.MaxAttempts)
		assert.False(t, created.CreatedAt.IsZero())
	})
}

func TestLifecycleRoundTrip(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		created, err := s.Create(Task{Title: "ship it"})
		require.NoError(t, err)

		steps := []struct {
			event Event
			want  Status
		}{
			{EventStart, StatusAnalyzing},
			{EventComplete, StatusRunning},
			{EventComplete, StatusReviewing},
			{EventApprove, StatusCompleted},
		}
		for _, step := range steps {
			got, err := s.Transition(created.ID, step.event)
			require.NoError(t, err, "event %s", step.event)
			assert.Equal(t, step.want, got.Status)
		}
	})
}

func TestTransition_InvalidLeavesStatus(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		created, err := s.Create(Task{Title: "review me"})
		require.NoError(t, err)
		for _, e := range []Event{EventStart, EventComplete, EventComplete} {
			_, err := s.Transition(created.ID, e)
			require.NoError(t, err)
		}

		// reviewing -> running has no edge; "complete" from reviewing is illegal.
		_, err = s.Transition(created.ID, EventComplete)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
		var te *TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, StatusReviewing, te.From)

		got, err := s.Get(created.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusReviewing, got.Status)
	})
}

func TestTransitionTable(t *testing.T) {
	legal := map[Status][]Event{
		StatusPending:   {EventStart},
		StatusAnalyzing: {EventComplete, EventFail},
		StatusRunning:   {EventComplete, EventFail, EventBlock},
		StatusBlocked:   {EventUnblock},
		StatusReviewing: {EventApprove, EventReject},
		StatusFailed:    {EventRetry},
	}
	all := []Event{EventStart, EventComplete, EventFail, EventBlock, EventUnblock, EventApprove, EventReject, EventRetry}
	for _, from := range AllStatuses() {
		for _, e := range all {
			_, ok := Next(from, e)
			want := false
			for _, l := range legal[from] {
				if l == e {
					want = true
				}
			}
			if ok != want {
				t.Errorf("Next(%s, %s) ok = %v, want %v", from, e, ok, want)
			}
		}
	}
	if to, _ := Next(StatusFailed, EventRetry); to != StatusPending {
		t.Errorf("failed -retry-> %s, want pending", to)
	}
	if to, _ := Next(StatusBlocked, EventUnblock); to != StatusRunning {
		t.Errorf("blocked -unblock-> %s, want running", to)
	}
}

func TestGet_Idempotent(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		created, err := s.Create(Task{
			Title:   "docs",
			Context: Context{Requirements: []string{"a", "b"}},
		})
		require.NoError(t, err)

		first, err := s.Get(created.ID)
		require.NoError(t, err)
		second, err := s.Get(created.ID)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		// Mutating a returned copy must not leak into the store.
		first.Context.Requirements[0] = "changed"
		third, err := s.Get(created.ID)
		require.NoError(t, err)
		assert.Equal(t, "a", third.Context.Requirements[0])
	})
}

func TestUpdate_MergesAndStamps(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		created, err := s.Create(Task{Title: "old", Description: "keep"})
		require.NoError(t, err)

		updated, err := s.Update(created.ID, Patch{
			Title:    Ptr("new"),
			Agent:    Ptr("claude"),
			Attempts: Ptr(2),
			Analysis: &FailureAnalysis{Reason: "boom", Category: CategoryTechnical},
		})
		require.NoError(t, err)
		assert.Equal(t, "new", updated.Title)
		assert.Equal(t, "keep", updated.Description)
		assert.Equal(t, "claude", updated.Agent)
		assert.Equal(t, 2, updated.Attempts)
		require.NotNil(t, updated.Analysis)
		assert.Equal(t, CategoryTechnical, updated.Analysis.Category)
		assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))
	})
}

func TestNotFound(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		_, err := s.Get("missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Update("missing", Patch{})
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Transition("missing", EventStart)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Delete("missing"), ErrNotFound)
	})
}

func TestListAndDelete(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		a, err := s.Create(Task{Title: "a"})
		require.NoError(t, err)
		b, err := s.Create(Task{Title: "b", Source: "sentry", ExternalRef: "ISSUE-1"})
		require.NoError(t, err)
		_, err = s.Transition(b.ID, EventStart)
		require.NoError(t, err)

		all, err := s.List(Filter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, a.ID, all[0].ID)

		pending, err := s.List(Filter{Statuses: []Status{StatusPending}})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, a.ID, pending[0].ID)

		bySource, err := s.List(Filter{Source: "sentry", ExternalRef: "ISSUE-1"})
		require.NoError(t, err)
		require.Len(t, bySource, 1)
		assert.Equal(t, b.ID, bySource[0].ID)

		require.NoError(t, s.Delete(a.ID))
		all, err = s.List(Filter{})
		require.NoError(t, err)
		require.Len(t, all, 1)
	})
}

func TestFileStore_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	created, err := s.Create(Task{Title: "persist", Type: TypeRefactor, Priority: PriorityHigh})
	require.NoError(t, err)
	_, err = s.Transition(created.ID, EventStart)
	require.NoError(t, err)

	reloaded := NewFileStore(dir)
	got, err := reloaded.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "persist", got.Title)
	assert.Equal(t, TypeRefactor, got.Type)
	assert.Equal(t, PriorityHigh, got.Priority)
	assert.Equal(t, StatusAnalyzing, got.Status)
}

func TestConcurrentUpdates(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		var ids []string
		for i := 0; i < 5; i++ {
			created, err := s.Create(Task{Title: "parallel"})
			require.NoError(t, err)
			ids = append(ids, created.ID)
		}
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := 1; n <= 3; n++ {
					if _, err := s.Update(id, Patch{Attempts: Ptr(n)}); err != nil {
						t.Errorf("update %s: %v", id, err)
					}
				}
			}()
		}
		wg.Wait()
		for _, id := range ids {
			got, err := s.Get(id)
			require.NoError(t, err)
			assert.Equal(t, 3, got.Attempts)
		}
	})
}
