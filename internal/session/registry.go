package session

import (
	"slices"
	"sync"
	"time"
)

// Registry maps session ids to sessions and task ids to their current
// session. Safe for concurrent use; all reads return copies.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byTask   map[string]string // task id -> latest session id
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byTask:   make(map[string]string),
	}
}

// Add registers s. It fails with ErrTaskBusy if the task's current session
// is not terminal, so a task never has two active sessions.
func (r *Registry) Add(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byTask[s.TaskID]; ok {
		if cur := r.sessions[id]; cur != nil && !cur.Status.IsTerminal() {
			return ErrTaskBusy
		}
	}
	stored := s.clone()
	r.sessions[s.ID] = &stored
	r.byTask[s.TaskID] = s.ID
	return nil
}

// Get returns the session with id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// ForTask returns the latest session launched for taskID.
func (r *Registry) ForTask(taskID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byTask[taskID]
	if !ok {
		return Session{}, false
	}
	return r.sessions[id].clone(), true
}

// List returns every session, oldest first.
func (r *Registry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	r.mu.RUnlock()
	sortByStart(out)
	return out
}

// Active returns the sessions that are not terminal, oldest first.
func (r *Registry) Active() []Session {
	r.mu.RLock()
	var out []Session
	for _, s := range r.sessions {
		if !s.Status.IsTerminal() {
			out = append(out, s.clone())
		}
	}
	r.mu.RUnlock()
	sortByStart(out)
	return out
}

// Count returns (active, total).
func (r *Registry) Count() (active, total int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if !s.Status.IsTerminal() {
			active++
		}
	}
	return active, len(r.sessions)
}

// update applies fn to session id while it is not terminal.
func (r *Registry) update(id string, fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && !s.Status.IsTerminal() {
		fn(s)
	}
}

// markRunning flips a starting session to running.
func (r *Registry) markRunning(id string) {
	r.update(id, func(s *Session) {
		if s.Status == StatusStarting {
			s.Status = StatusRunning
		}
	})
}

// finish sets the terminal status of session id. Only the first call for a
// session has any effect; it reports whether this call was that one.
func (r *Registry) finish(id string, status Status, exitCode *int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Status.IsTerminal() {
		return false
	}
	now := time.Now()
	s.Status = status
	s.EndedAt = &now
	if exitCode != nil {
		code := *exitCode
		s.ExitCode = &code
	}
	return true
}

func sortByStart(s []Session) {
	slices.SortStableFunc(s, func(a, b Session) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
