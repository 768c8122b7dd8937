package ralph

import (
	"strings"

	"agentdesk/internal/task"
)

// Categorizer turns the error text of a failed attempt into a
// FailureAnalysis. KeywordCategorizer is the default; a learned classifier
// can replace it without touching the loop.
type Categorizer interface {
	Categorize(errText string) task.FailureAnalysis
}

type keywordRule struct {
	category task.Category
	keywords []string
}

// Checked in order; the first rule with a matching keyword wins.
var keywordRules = []keywordRule{
	{task.CategoryContext, []string{"not found", "context", "no such file", "cannot find"}},
	{task.CategoryDirection, []string{"mismatch", "misunderstood", "wrong approach"}},
	{task.CategoryTechnical, []string{"error", "failed", "exception"}},
}

var suggestions = map[task.Category]string{
	task.CategoryContext:   "Gather more context: locate the files and symbols involved before editing.",
	task.CategoryDirection: "Re-read the goal and requirements and realign the approach with them.",
	task.CategoryTechnical: "Fix the reported error, then run the build and tests before finishing.",
	task.CategoryUnknown:   "Retry in smaller steps and report progress; escalate if it fails again.",
}

const maxReasonLen = 200

// KeywordCategorizer classifies by case-insensitive substring matches.
type KeywordCategorizer struct{}

var _ Categorizer = KeywordCategorizer{}

// Categorize implements Categorizer.
func (KeywordCategorizer) Categorize(errText string) task.FailureAnalysis {
	lower := strings.ToLower(errText)
	category := task.CategoryUnknown
	for _, r := range keywordRules {
		if containsAny(lower, r.keywords) {
			category = r.category
			break
		}
	}
	return newAnalysis(errText, category)
}

func newAnalysis(errText string, c task.Category) task.FailureAnalysis {
	return task.FailureAnalysis{
		Reason:     reason(errText),
		Category:   c,
		Suggestion: suggestions[c],
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// reason collapses whitespace and bounds the length of errText.
func reason(errText string) string {
	r := strings.Join(strings.Fields(errText), " ")
	if r == "" {
		return "no error output"
	}
	if len([]rune(r)) > maxReasonLen {
		r = string([]rune(r)[:maxReasonLen]) + "…"
	}
	return r
}

// Unlimited marks a category that may be retried until attempts run out.
const Unlimited = -1

// RetryPolicy maps a failure category to how many of its occurrences in
// one loop may be retried. Categories missing from the map are never
// retried.
type RetryPolicy map[task.Category]int

// DefaultRetryPolicy retries context failures until attempts run out and
// every other category once.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		task.CategoryContext:   Unlimited,
		task.CategoryDirection: 1,
		task.CategoryTechnical: 1,
		task.CategoryUnknown:   1,
	}
}

// Allows reports whether a failure of category c may be retried, where
// occurrences counts failures of c in this loop including the current one.
func (p RetryPolicy) Allows(c task.Category, occurrences int) bool {
	budget, ok := p[c]
	if !ok {
		return false
	}
	return budget == Unlimited || occurrences <= budget
}
