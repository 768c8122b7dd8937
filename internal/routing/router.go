package routing

import (
	"fmt"
	"regexp"

	"agentdesk/internal/jsonutil"
	"agentdesk/internal/task"
)

// Tier is a model cost/capability bucket.
type Tier int

const (
	TierCheap Tier = iota
	TierBalanced
	TierSmart
)

var tierNames = jsonutil.EnumNames[Tier]{"cheap", "balanced", "smart"}

func (t Tier) String() string { return tierNames.Label(t) }

// ParseTier parses a tier label.
func ParseTier(s string) (Tier, error) { return tierNames.Parse("Tier", s) }

// MarshalJSON implements json.Marshaler.
func (t Tier) MarshalJSON() ([]byte, error) { return jsonutil.MarshalEnumJSON(t) }

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tier) UnmarshalJSON(data []byte) error {
	v, err := jsonutil.UnmarshalEnumJSON(data, ParseTier)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Route is the router's decision with its justification.
type Route struct {
	Tier       Tier    `json:"tier"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

var (
	cheapRe = regexp.MustCompile(`(?i)^\s*(?:hi|hello|hey|thanks|thank you|ping)\b|\b(?:routine|background|periodic|daily|heartbeat|status check|typo|rename|bump)\b|你好|谢谢|例行|日常|后台`)
	smartRe = regexp.MustCompile(`(?i)\b(?:architecture|architect|design|refactor|migrate|migration|security|concurrency|race condition|performance|optimi[sz]e|debug|complex|distributed)\b|架构|重构|迁移|安全|并发|性能|复杂`)
)

var defaultTiers = map[task.Type]Tier{
	task.TypeFeature:  TierBalanced,
	task.TypeBugfix:   TierBalanced,
	task.TypeRefactor: TierSmart,
	task.TypeDocs:     TierCheap,
	task.TypeTest:     TierBalanced,
	task.TypeDesign:   TierSmart,
	task.TypeAnalysis: TierSmart,
}

// Router chooses a model tier independently of the agent.
type Router struct{}

// Route classifies text. Keyword rules short-circuit; otherwise the task
// type decides.
func (Router) Route(text string, typ task.Type) Route {
	if m := cheapRe.FindString(text); m != "" {
		return Route{Tier: TierCheap, Confidence: 0.9, Reason: fmt.Sprintf("routine phrasing %q", m)}
	}
	if m := smartRe.FindString(text); m != "" {
		return Route{Tier: TierSmart, Confidence: 0.85, Reason: fmt.Sprintf("complexity keyword %q", m)}
	}
	tier, ok := defaultTiers[typ]
	if !ok {
		tier = TierBalanced
	}
	return Route{Tier: tier, Confidence: 0.6, Reason: fmt.Sprintf("default tier for %s tasks", typ)}
}

// Model returns the model name p uses for tier, or "" to let the CLI pick.
func (Router) Model(tier Tier, p Profile) string {
	return p.Models[tier.String()]
}
