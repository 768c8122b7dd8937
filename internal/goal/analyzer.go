// Package goal turns free-text goals into structured classifications.
package goal

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"agentdesk/internal/task"
)

// Area names the part of a system a goal touches.
const (
	AreaBackend  = "backend"
	AreaFrontend = "frontend"
	AreaInfra    = "infra"
	AreaGeneral  = "general"
)

const maxTitleRunes = 80

// Classification is the structured reading of a goal.
type Classification struct {
	Title        string          `json:"title"`
	Type         task.Type       `json:"type"`
	Priority     task.Priority   `json:"priority"`
	Area         string          `json:"area"`
	Requirements []string        `json:"requirements,omitempty"`
	Constraints  []string        `json:"constraints,omitempty"`
	Complexity   task.Complexity `json:"complexity"`
}

// Analyzer classifies goals. Implementations never fail; unclear input gets
// a best-effort answer.
type Analyzer interface {
	Analyze(text string) Classification
}

// rule maps a keyword set onto a value. English keywords match on word
// boundaries; CJK keywords match as substrings.
type rule[T any] struct {
	value T
	re    *regexp.Regexp
}

func newRule[T any](value T, english []string, cjk []string) rule[T] {
	var alts []string
	if len(english) > 0 {
		quoted := make([]string, len(english))
		for i, w := range english {
			quoted[i] = regexp.QuoteMeta(w)
		}
		alts = append(alts, `\b(?:`+strings.Join(quoted, "|")+`)\b`)
	}
	for _, w := range cjk {
		alts = append(alts, regexp.QuoteMeta(w))
	}
	return rule[T]{value: value, re: regexp.MustCompile(`(?i)` + strings.Join(alts, "|"))}
}

func firstMatch[T any](rules []rule[T], text string, fallback T) T {
	for _, r := range rules {
		if r.re.MatchString(text) {
			return r.value
		}
	}
	return fallback
}

// Checked in order; the first hit wins.
var typeRules = []rule[task.Type]{
	newRule(task.TypeBugfix,
		[]string{"bug", "bugs", "fix", "fixes", "broken", "crash", "crashes", "regression", "error", "errors", "issue"},
		[]string{"修复", "错误", "故障", "崩溃", "缺陷"}),
	newRule(task.TypeRefactor,
		[]string{"refactor", "refactoring", "cleanup", "clean up", "restructure", "simplify", "rename"},
		[]string{"重构", "整理", "优化代码"}),
	newRule(task.TypeTest,
		[]string{"test", "tests", "testing", "coverage", "unit test", "e2e"},
		[]string{"测试", "单测", "覆盖率"}),
	newRule(task.TypeDocs,
		[]string{"doc", "docs", "documentation", "readme", "changelog", "comment", "comments"},
		[]string{"文档", "说明", "注释"}),
	newRule(task.TypeDesign,
		[]string{"design", "mockup", "wireframe", "layout", "ux", "architecture"},
		[]string{"设计", "原型", "架构"}),
	newRule(task.TypeAnalysis,
		[]string{"analyze", "analyse", "analysis", "investigate", "research", "evaluate", "audit", "why"},
		[]string{"分析", "调研", "调查", "评估"}),
}

var priorityRules = []rule[task.Priority]{
	newRule(task.PriorityCritical,
		[]string{"urgent", "critical", "asap", "emergency", "outage", "production down", "p0"},
		[]string{"紧急", "严重", "立刻", "马上"}),
	newRule(task.PriorityHigh,
		[]string{"important", "high priority", "soon", "blocker", "p1"},
		[]string{"重要", "尽快", "优先"}),
	newRule(task.PriorityLow,
		[]string{"low priority", "minor", "eventually", "someday", "nice to have", "when possible", "p3"},
		[]string{"不急", "低优先级", "有空"}),
}

var areaRules = []rule[string]{
	newRule(AreaBackend,
		[]string{"api", "server", "backend", "database", "db", "sql", "endpoint", "service", "queue", "cache"},
		[]string{"后端", "接口", "数据库", "服务端"}),
	newRule(AreaFrontend,
		[]string{"ui", "frontend", "css", "html", "react", "vue", "page", "button", "component", "style"},
		[]string{"前端", "页面", "界面", "按钮", "样式"}),
	newRule(AreaInfra,
		[]string{"deploy", "deployment", "docker", "kubernetes", "k8s", "ci", "pipeline", "terraform", "infra"},
		[]string{"部署", "运维", "流水线", "容器"}),
}

var highComplexity = newRule(true,
	[]string{"refactor", "migrate", "migration", "integrate", "integration", "architecture", "redesign", "rewrite"},
	[]string{"重构", "迁移", "集成", "架构"})

var (
	bulletRe     = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)
	requireRe    = regexp.MustCompile(`(?i)\b(?:must|should|needs? to|required?)\b|需要|必须|应该`)
	constraintRe = regexp.MustCompile(`(?i)\b(?:don't|do not|must not|mustn't|never|without|avoid|no more than)\b|不要|不能|禁止|避免`)
	clauseSplit  = regexp.MustCompile(`[\n.;。；!?！？]+`)
)

// Thresholds in runes.
const (
	highComplexityLen   = 300
	mediumComplexityLen = 100
)

// KeywordAnalyzer classifies goals with fixed English and Chinese keyword sets.
type KeywordAnalyzer struct{}

var _ Analyzer = KeywordAnalyzer{}

// Analyze implements Analyzer.
func (KeywordAnalyzer) Analyze(text string) Classification {
	text = strings.TrimSpace(text)
	c := Classification{
		Title:    title(text),
		Type:     firstMatch(typeRules, text, task.TypeFeature),
		Priority: firstMatch(priorityRules, text, task.PriorityMedium),
		Area:     firstMatch(areaRules, text, AreaGeneral),
	}
	c.Requirements, c.Constraints = clauses(text)
	c.Complexity = complexity(text, len(c.Requirements))
	return c
}

func title(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= maxTitleRunes {
		return line
	}
	r := []rune(line)
	return strings.TrimSpace(string(r[:maxTitleRunes-1])) + "…"
}

// clauses pulls requirement and constraint sentences out of the goal.
// Bullet lines count as requirements unless they read as constraints.
func clauses(text string) (reqs, cons []string) {
	seen := make(map[string]bool)
	add := func(dst *[]string, s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		*dst = append(*dst, s)
	}
	for _, line := range strings.Split(text, "\n") {
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			if constraintRe.MatchString(m[1]) {
				add(&cons, m[1])
			} else {
				add(&reqs, m[1])
			}
			continue
		}
		for _, part := range clauseSplit.Split(line, -1) {
			switch {
			case constraintRe.MatchString(part):
				add(&cons, part)
			case requireRe.MatchString(part):
				add(&reqs, part)
			}
		}
	}
	return reqs, cons
}

func complexity(text string, requirements int) task.Complexity {
	n := utf8.RuneCountInString(text)
	switch {
	case n > highComplexityLen || highComplexity.re.MatchString(text):
		return task.ComplexityHigh
	case n > mediumComplexityLen || requirements >= 3:
		return task.ComplexityMedium
	default:
		return task.ComplexityLow
	}
}
