// Package memory keeps an append-only log of task outcomes that later
// prompts draw on.
package memory

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentdesk/internal/jsonutil"
)

// Type categorizes a memory entry.
type Type string

const (
	TypeSuccess    Type = "success"
	TypeFailure    Type = "failure"
	TypeContext    Type = "context"
	TypeDecision   Type = "decision"
	TypePreference Type = "preference"
)

// DefaultRelevance is used when Options leaves Relevance nil.
const DefaultRelevance = 1.0

// FileName is the memory log inside the memory directory.
const FileName = "memory.json"

// Meta describes where an entry came from.
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	Relevance float64   `json:"relevance"`
	Agent     string    `json:"agent,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
}

// Entry is one immutable fact.
type Entry struct {
	ID    string          `json:"id"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	Type  Type            `json:"type"`
	Tags  []string        `json:"tags,omitempty"`
	Meta  Meta            `json:"meta"`
}

// HasTag reports whether the entry carries tag.
func (e Entry) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// Decode unmarshals the entry's payload into v.
func (e Entry) Decode(v any) error {
	return jsonutil.UnmarshalWithContext(e.Value, v, "decode memory "+e.Key)
}

func (e Entry) clone() Entry {
	c := e
	c.Value = append(json.RawMessage(nil), e.Value...)
	c.Tags = slices.Clone(e.Tags)
	return c
}

// Options annotate a stored entry.
type Options struct {
	Type   Type
	Tags   []string
	Agent  string
	TaskID string
	// Relevance in [0,1]; nil means DefaultRelevance.
	Relevance *float64
}

// Query selects entries. Every non-zero field must match.
type Query struct {
	Key          string
	Type         Type
	Tags         []string // entry must carry all of them
	Agent        string
	TaskID       string
	MinRelevance float64
	Limit        int // zero means no limit
}

func (q Query) match(e Entry) bool {
	if q.Key != "" && e.Key != q.Key {
		return false
	}
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.Agent != "" && e.Meta.Agent != q.Agent {
		return false
	}
	if q.TaskID != "" && e.Meta.TaskID != q.TaskID {
		return false
	}
	if e.Meta.Relevance < q.MinRelevance {
		return false
	}
	for _, tag := range q.Tags {
		if !e.HasTag(tag) {
			return false
		}
	}
	return true
}

// FileStore persists the log as one JSON file. It is read on first use and
// rewritten in full on each append; a mutex serializes writers.
type FileStore struct {
	path       string
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	loaded  bool
	entries []Entry
}

// NewFileStore returns a store backed by dir/memory.json. When maxEntries
// is positive, appends beyond it drop the oldest entries.
func NewFileStore(dir string, maxEntries int) *FileStore {
	return &FileStore{
		path:       filepath.Join(dir, FileName),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (s *FileStore) load() error {
	if s.loaded {
		return nil
	}
	var entries []Entry
	if _, err := jsonutil.ReadFile(s.path, &entries); err != nil {
		return fmt.Errorf("load memory: %w", err)
	}
	s.entries = entries
	s.loaded = true
	return nil
}

// Store appends a new entry holding value.
func (s *FileStore) Store(key string, value any, opts Options) (Entry, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Entry{}, fmt.Errorf("encode memory %s: %w", key, err)
	}
	relevance := DefaultRelevance
	if opts.Relevance != nil {
		relevance = min(max(*opts.Relevance, 0), 1)
	}
	typ := opts.Type
	if typ == "" {
		typ = TypeContext
	}
	e := Entry{
		ID:    "mem_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Key:   key,
		Value: raw,
		Type:  typ,
		Tags:  slices.Clone(opts.Tags),
		Meta: Meta{
			Timestamp: s.now(),
			Relevance: relevance,
			Agent:     opts.Agent,
			TaskID:    opts.TaskID,
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return Entry{}, err
	}
	next := append(slices.Clone(s.entries), e)
	if s.maxEntries > 0 && len(next) > s.maxEntries {
		next = next[len(next)-s.maxEntries:]
	}
	if err := jsonutil.WriteFileAtomic(s.path, next); err != nil {
		return Entry{}, fmt.Errorf("save memory: %w", err)
	}
	s.entries = next
	return e.clone(), nil
}

// Query returns matching entries, most relevant first, at most q.Limit of
// them. Entries with equal relevance keep insertion order.
func (s *FileStore) Query(q Query) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range s.entries {
		if q.match(e) {
			out = append(out, e.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Meta.Relevance > out[j].Meta.Relevance
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Len returns the number of stored entries.
func (s *FileStore) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return 0, err
	}
	return len(s.entries), nil
}
