package ralph

import (
	"strings"
	"testing"

	"agentdesk/internal/task"
)

func TestKeywordCategorizer(t *testing.T) {
	tests := []struct {
		errText string
		want    task.Category
	}{
		{"module not found: ./auth", task.CategoryContext},
		{"Not enough CONTEXT about the schema", task.CategoryContext},
		{"open config.yaml: no such file or directory", task.CategoryContext},
		{"output mismatch: expected JSON", task.CategoryDirection},
		{"compile error in main.go", task.CategoryTechnical},
		{"3 tests FAILED", task.CategoryTechnical},
		{"unhandled exception", task.CategoryTechnical},
		// Context rules are checked before technical ones.
		{"error: file not found", task.CategoryContext},
		{"Timeout", task.CategoryUnknown},
		{"", task.CategoryUnknown},
	}
	for _, tt := range tests {
		got := KeywordCategorizer{}.Categorize(tt.errText)
		if got.Category != tt.want {
			t.Errorf("Categorize(%q) = %s, want %s", tt.errText, got.Category, tt.want)
		}
		if got.Suggestion == "" {
			t.Errorf("Categorize(%q) has no suggestion", tt.errText)
		}
	}
}

func TestKeywordCategorizer_Reason(t *testing.T) {
	a := KeywordCategorizer{}.Categorize("  worker exited\n\twith code 1  ")
	if a.Reason != "worker exited with code 1" {
		t.Errorf("Reason = %q", a.Reason)
	}
	long := KeywordCategorizer{}.Categorize(strings.Repeat("é", 500))
	if n := len([]rune(long.Reason)); n != maxReasonLen+1 {
		t.Errorf("long reason has %d runes, want %d", n, maxReasonLen+1)
	}
	if empty := (KeywordCategorizer{}).Categorize(""); empty.Reason != "no error output" {
		t.Errorf("empty Reason = %q", empty.Reason)
	}
}

func TestRetryPolicy_Allows(t *testing.T) {
	p := DefaultRetryPolicy()
	tests := []struct {
		category    task.Category
		occurrences int
		want        bool
	}{
		{task.CategoryContext, 1, true},
		{task.CategoryContext, 10, true},
		{task.CategoryDirection, 1, true},
		{task.CategoryDirection, 2, false},
		{task.CategoryTechnical, 1, true},
		{task.CategoryTechnical, 2, false},
		{task.CategoryUnknown, 1, true},
		{task.CategoryUnknown, 2, false},
	}
	for _, tt := range tests {
		if got := p.Allows(tt.category, tt.occurrences); got != tt.want {
			t.Errorf("Allows(%s, %d) = %v, want %v", tt.category, tt.occurrences, got, tt.want)
		}
	}

	if (RetryPolicy{}).Allows(task.CategoryContext, 1) {
		t.Error("empty policy should never retry")
	}
	none := RetryPolicy{task.CategoryTechnical: 0}
	if none.Allows(task.CategoryTechnical, 1) {
		t.Error("zero budget should never retry")
	}
}
