package task

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentdesk/internal/jsonutil"
)

// Store persists tasks. Implementations are safe for concurrent use and
// return copies, so callers never share a *Task with the store.
type Store interface {
	// Create assigns an id, sets status pending and zero attempts, and
	// persists the task.
	Create(t Task) (*Task, error)
	Get(id string) (*Task, error)
	List(f Filter) ([]*Task, error)
	// Update merges the patch and stamps UpdatedAt.
	Update(id string, p Patch) (*Task, error)
	Delete(id string) error
	// Transition applies a lifecycle event. Illegal events return a
	// *TransitionError and leave the task unchanged.
	Transition(id string, e Event) (*Task, error)
}

// FileName is the task file inside the tasks directory.
const FileName = "tasks.json"

// FileStore keeps every task in one JSON file. The file is read on first
// access and rewritten in full after each mutation.
type FileStore struct {
	path string
	now  func() time.Time

	mu     sync.Mutex
	loaded bool
	tasks  []*Task
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by dir/tasks.json.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, FileName), now: time.Now}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) load() error {
	if s.loaded {
		return nil
	}
	var tasks []*Task
	if _, err := jsonutil.ReadFile(s.path, &tasks); err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	s.tasks = tasks
	s.loaded = true
	return nil
}

func (s *FileStore) save() error {
	tasks := s.tasks
	if tasks == nil {
		tasks = []*Task{}
	}
	if err := jsonutil.WriteFileAtomic(s.path, tasks); err != nil {
		return fmt.Errorf("save tasks: %w", err)
	}
	return nil
}

func (s *FileStore) index(id string) int {
	for i, t := range s.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Create implements Store.
func (s *FileStore) Create(t Task) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	nt := prepareNew(t, s.now())
	s.tasks = append(s.tasks, nt)
	if err := s.save(); err != nil {
		s.tasks = s.tasks[:len(s.tasks)-1]
		return nil, err
	}
	return nt.Clone(), nil
}

// Get implements Store.
func (s *FileStore) Get(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	i := s.index(id)
	if i < 0 {
		return nil, notFound(id)
	}
	return s.tasks[i].Clone(), nil
}

// List implements Store. Tasks come back in creation order.
func (s *FileStore) List(f Filter) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	var out []*Task
	for _, t := range s.tasks {
		if f.Match(t) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// Update implements Store.
func (s *FileStore) Update(id string, p Patch) (*Task, error) {
	return s.mutate(id, func(t *Task) error {
		p.Apply(t)
		return nil
	})
}

// Transition implements Store.
func (s *FileStore) Transition(id string, e Event) (*Task, error) {
	return s.mutate(id, func(t *Task) error { return transition(t, e) })
}

// mutate applies fn to a copy of the task and commits it only if the
// rewrite succeeds.
func (s *FileStore) mutate(id string, fn func(*Task) error) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	i := s.index(id)
	if i < 0 {
		return nil, notFound(id)
	}
	old := s.tasks[i]
	nt := old.Clone()
	if err := fn(nt); err != nil {
		return nil, err
	}
	nt.UpdatedAt = s.now()
	s.tasks[i] = nt
	if err := s.save(); err != nil {
		s.tasks[i] = old
		return nil, err
	}
	return nt.Clone(), nil
}

// Delete implements Store.
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	i := s.index(id)
	if i < 0 {
		return notFound(id)
	}
	prev := s.tasks
	s.tasks = append(append([]*Task(nil), prev[:i]...), prev[i+1:]...)
	if err := s.save(); err != nil {
		s.tasks = prev
		return err
	}
	return nil
}

func prepareNew(t Task, now time.Time) *Task {
	nt := t.Clone()
	nt.ID = uuid.NewString()
	nt.Status = StatusPending
	nt.Attempts = 0
	if nt.MaxAttempts <= 0 {
		nt.MaxAttempts = DefaultMaxAttempts
	}
	nt.CreatedAt = now
	nt.UpdatedAt = now
	return nt
}
