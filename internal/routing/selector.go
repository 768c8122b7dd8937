package routing

import (
	"fmt"

	"agentdesk/internal/goal"
	"agentdesk/internal/task"
)

// Score weights.
const (
	capabilityWeight = 50
	historyWeight    = 30
	domainBonus      = 15
	complexBonus     = 10
	fastBonus        = 5

	// neutralRate stands in for agents with no recorded outcomes.
	neutralRate = 0.5
)

// History supplies historical success rates. ok is false when nothing has
// been recorded for the agent.
type History interface {
	SuccessRate(agent string) (rate float64, ok bool)
}

// Candidate is one scored row of the capability table.
type Candidate struct {
	Agent string
	Score float64
}

// Selection is the chosen agent plus every score, for logging.
type Selection struct {
	Agent      Profile
	Score      float64
	Candidates []Candidate
}

// Reason summarizes the selection in one line.
func (s Selection) Reason() string {
	return fmt.Sprintf("%s scored %.1f of %d candidates", s.Agent.ID, s.Score, len(s.Candidates))
}

// Selector scores the capability table against a classification.
type Selector struct {
	// History is optional.
	History History
}

// Select returns the highest-scoring profile. Ties keep the earlier table
// row. An empty table yields a zero Selection.
func (s Selector) Select(c goal.Classification, table []Profile) Selection {
	var sel Selection
	for i, p := range table {
		score := s.score(c, p)
		sel.Candidates = append(sel.Candidates, Candidate{Agent: p.ID, Score: score})
		if i == 0 || score > sel.Score {
			sel.Agent = p
			sel.Score = score
		}
	}
	return sel
}

func (s Selector) score(c goal.Classification, p Profile) float64 {
	var score float64
	if p.Can(c.Type) {
		score += capabilityWeight
	}
	rate := neutralRate
	if s.History != nil {
		if r, ok := s.History.SuccessRate(p.ID); ok {
			rate = r
		}
	}
	score += historyWeight * rate
	if p.HasDomain(c.Area) {
		score += domainBonus
	}
	switch {
	case c.Complexity == task.ComplexityHigh && p.Has(StrengthComplex):
		score += complexBonus
	case c.Complexity == task.ComplexityLow && p.Has(StrengthFast):
		score += fastBonus
	}
	return score
}
