package memory

import (
	"fmt"

	"agentdesk/internal/task"
)

const failureRelevance = 0.8

// SuccessRecord is the payload of a success entry.
type SuccessRecord struct {
	Title    string `json:"title"`
	Goal     string `json:"goal"`
	Prompt   string `json:"prompt"`
	Result   string `json:"result"`
	Attempts int    `json:"attempts"`
}

// FailureRecord is the payload of a failure entry.
type FailureRecord struct {
	Title    string               `json:"title"`
	Goal     string               `json:"goal"`
	Error    string               `json:"error"`
	Analysis task.FailureAnalysis `json:"analysis"`
}

// SuccessKey is the key RecordSuccess stores under.
func SuccessKey(t *task.Task) string {
	return fmt.Sprintf("success:%s:%s", t.Type, t.ID)
}

// FailureKey is the key RecordFailure stores under.
func FailureKey(t *task.Task) string {
	return fmt.Sprintf("failure:%s:%s", t.Type, t.ID)
}

// OutcomeTags are the tags outcome entries carry, so later goals of the same
// type or area can find them.
func OutcomeTags(t *task.Task) []string {
	tags := []string{t.Type.String()}
	if t.Context.Area != "" {
		tags = append(tags, t.Context.Area)
	}
	return tags
}

// RecordSuccess stores the prompt and result of a successful run.
func (s *FileStore) RecordSuccess(t *task.Task, prompt, result string) (Entry, error) {
	return s.Store(SuccessKey(t), SuccessRecord{
		Title:    t.Title,
		Goal:     t.Goal,
		Prompt:   prompt,
		Result:   result,
		Attempts: t.Attempts,
	}, Options{
		Type:   TypeSuccess,
		Tags:   OutcomeTags(t),
		Agent:  t.Agent,
		TaskID: t.ID,
	})
}

// RecordFailure stores the error and analysis of a failed attempt.
func (s *FileStore) RecordFailure(t *task.Task, errText string, a task.FailureAnalysis) (Entry, error) {
	rel := failureRelevance
	return s.Store(FailureKey(t), FailureRecord{
		Title:    t.Title,
		Goal:     t.Goal,
		Error:    errText,
		Analysis: a,
	}, Options{
		Type:      TypeFailure,
		Tags:      append(OutcomeTags(t), a.Category.String()),
		Agent:     t.Agent,
		TaskID:    t.ID,
		Relevance: &rel,
	})
}

// Stats counts outcomes for one agent.
type Stats struct {
	Successes int
	Failures  int
}

// Rate returns successes over all outcomes.
func (st Stats) Rate() float64 {
	total := st.Successes + st.Failures
	if total == 0 {
		return 0
	}
	return float64(st.Successes) / float64(total)
}

// AgentStats tallies success and failure entries per agent.
func (s *FileStore) AgentStats() (map[string]Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	out := make(map[string]Stats)
	for _, e := range s.entries {
		if e.Meta.Agent == "" {
			continue
		}
		st := out[e.Meta.Agent]
		switch e.Type {
		case TypeSuccess:
			st.Successes++
		case TypeFailure:
			st.Failures++
		default:
			continue
		}
		out[e.Meta.Agent] = st
	}
	return out, nil
}

// SuccessRate returns the historical success rate for agent and whether any
// outcomes were recorded for it. Read errors count as no history.
func (s *FileStore) SuccessRate(agent string) (float64, bool) {
	stats, err := s.AgentStats()
	if err != nil {
		return 0, false
	}
	st, ok := stats[agent]
	if !ok {
		return 0, false
	}
	return st.Rate(), true
}

// Summary renders an entry as one line for prompt context.
func Summary(e Entry) string {
	switch e.Type {
	case TypeSuccess:
		var r SuccessRecord
		if err := e.Decode(&r); err == nil {
			return fmt.Sprintf("succeeded: %s (%d attempts)", r.Title, r.Attempts)
		}
	case TypeFailure:
		var r FailureRecord
		if err := e.Decode(&r); err == nil {
			line := fmt.Sprintf("failed (%s): %s: %s", r.Analysis.Category, r.Title, r.Analysis.Reason)
			if r.Analysis.Suggestion != "" {
				line += "; " + r.Analysis.Suggestion
			}
			return line
		}
	}
	return fmt.Sprintf("%s: %s", e.Key, string(e.Value))
}
