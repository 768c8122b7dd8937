package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentdesk/internal/task"
)

func rel(v float64) *float64 { return &v }

func TestStore_DefaultRelevance(t *testing.T) {
	s := NewFileStore(t.TempDir(), 0)
	e, err := s.Store("pref:editor", map[string]string{"editor": "vim"}, Options{Type: TypePreference})
	require.NoError(t, err)
	assert.Equal(t, DefaultRelevance, e.Meta.Relevance)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Meta.Timestamp.IsZero())

	var v map[string]string
	require.NoError(t, e.Decode(&v))
	assert.Equal(t, "vim", v["editor"])
}

func TestQuery_SortedAndLimited(t *testing.T) {
	s := NewFileStore(t.TempDir(), 0)
	for i, r := range []float64{0.2, 0.9, 0.5, 0.9, 0.1} {
		_, err := s.Store("k", i, Options{Type: TypeContext, Relevance: rel(r)})
		require.NoError(t, err)
	}

	got, err := s.Query(Query{Limit: 3})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Meta.Relevance, got[i].Meta.Relevance)
	}
	// Ties keep insertion order.
	assert.JSONEq(t, "1", string(got[0].Value))
	assert.JSONEq(t, "3", string(got[1].Value))

	all, err := s.Query(Query{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestQuery_FiltersAreANDed(t *testing.T) {
	s := NewFileStore(t.TempDir(), 0)
	_, err := s.Store("a", 1, Options{Type: TypeSuccess, Tags: []string{"bugfix", "backend"}, Agent: "claude", TaskID: "t1"})
	require.NoError(t, err)
	_, err = s.Store("b", 2, Options{Type: TypeSuccess, Tags: []string{"bugfix"}, Agent: "codex", TaskID: "t2"})
	require.NoError(t, err)
	_, err = s.Store("c", 3, Options{Type: TypeFailure, Tags: []string{"bugfix", "backend"}, Agent: "claude", TaskID: "t3", Relevance: rel(0.3)})
	require.NoError(t, err)

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"by type", Query{Type: TypeSuccess}, []string{"a", "b"}},
		{"by tags", Query{Tags: []string{"bugfix", "backend"}}, []string{"a", "c"}},
		{"tags and type", Query{Tags: []string{"backend"}, Type: TypeFailure}, []string{"c"}},
		{"by agent", Query{Agent: "codex"}, []string{"b"}},
		{"by task", Query{TaskID: "t3"}, []string{"c"}},
		{"by key", Query{Key: "b"}, []string{"b"}},
		{"min relevance", Query{Agent: "claude", MinRelevance: 0.5}, []string{"a"}},
		{"no match", Query{Agent: "claude", Type: TypeDecision}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(tt.q)
			require.NoError(t, err)
			var keys []string
			for _, e := range got {
				keys = append(keys, e.Key)
			}
			assert.Equal(t, tt.want, keys)
		})
	}
}

func TestQuery_DoesNotMutate(t *testing.T) {
	s := NewFileStore(t.TempDir(), 0)
	_, err := s.Store("k", "v", Options{Tags: []string{"x"}})
	require.NoError(t, err)

	got, err := s.Query(Query{})
	require.NoError(t, err)
	got[0].Tags[0] = "changed"
	got[0].Value[1] = 'Z'

	again, err := s.Query(Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, again[0].Tags)
	assert.JSONEq(t, `"v"`, string(again[0].Value))
	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	_, err := NewFileStore(dir, 0).Store("k", "v", Options{Type: TypeDecision})
	require.NoError(t, err)

	got, err := NewFileStore(dir, 0).Query(Query{Type: TypeDecision})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "k", got[0].Key)
}

func TestMaxEntriesDropsOldest(t *testing.T) {
	s := NewFileStore(t.TempDir(), 2)
	for _, k := range []string{"first", "second", "third"} {
		_, err := s.Store(k, k, Options{})
		require.NoError(t, err)
	}
	got, err := s.Query(Query{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Key)
	assert.Equal(t, "third", got[1].Key)
}

func TestRecordOutcomes(t *testing.T) {
	s := NewFileStore(t.TempDir(), 0)
	tk := &task.Task{
		ID:      "t-42",
		Title:   "fix login",
		Type:    task.TypeBugfix,
		Agent:   "claude",
		Context: task.Context{Area: "backend"},
	}

	ok, err := s.RecordSuccess(tk, "do it", "done")
	require.NoError(t, err)
	assert.Equal(t, "success:bugfix:t-42", ok.Key)
	assert.Equal(t, TypeSuccess, ok.Type)
	assert.ElementsMatch(t, []string{"bugfix", "backend"}, ok.Tags)

	analysis := task.FailureAnalysis{Reason: "file not found", Category: task.CategoryContext, Suggestion: "list files"}
	bad, err := s.RecordFailure(tk, "open x: not found", analysis)
	require.NoError(t, err)
	assert.Equal(t, "failure:bugfix:t-42", bad.Key)
	assert.True(t, bad.HasTag("context"))
	assert.Less(t, bad.Meta.Relevance, ok.Meta.Relevance)

	var rec FailureRecord
	require.NoError(t, bad.Decode(&rec))
	assert.Equal(t, analysis, rec.Analysis)

	assert.Contains(t, Summary(bad), "failed (context)")
	assert.Contains(t, Summary(ok), "succeeded: fix login")
}

func TestSuccessRate(t *testing.T) {
	s := NewFileStore(t.TempDir(), 0)
	tk := &task.Task{ID: "1", Agent: "codex"}
	_, err := s.RecordSuccess(tk, "", "")
	require.NoError(t, err)
	_, err = s.RecordSuccess(tk, "", "")
	require.NoError(t, err)
	_, err = s.RecordFailure(tk, "", task.FailureAnalysis{})
	require.NoError(t, err)

	rate, ok := s.SuccessRate("codex")
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, rate, 1e-9)

	_, ok = s.SuccessRate("gemini")
	assert.False(t, ok)
}
