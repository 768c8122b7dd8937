package beads

// SourceName is the Source of tasks imported from bd.
const SourceName = "beads"

// Status constants for bead status field.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusClosed     = "closed"
)

// Label constants for common labels.
const (
	LabelNeedsHuman = "needs-human"
	LabelPRPrefix   = "pr:"
)

// DependencyType constants.
const (
	DepTypeParentChild = "parent-child"
	DepTypeBlocks      = "blocks"
)

// IssueTypeEpic marks container beads; they never become tasks themselves.
const IssueTypeEpic = "epic"
