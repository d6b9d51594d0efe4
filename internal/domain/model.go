package domain

import "time"

// Core domain models. API response shapes live in the HTTP adapter; these
// stay decoupled from any transport or storage concern.

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// MaxSeverity returns the higher of two severities. Unknown values rank
// below low.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// BackendRun tracks one analysis backend's progress within a scan,
// independent of the sibling backend.
type BackendRun struct {
	Backend     string
	Status      Status
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Scan is one end-to-end compliance analysis run against one repository.
// GitToken is used only to acquire the workspace and must never be surfaced
// to readers of the scan.
type Scan struct {
	ID          string
	GitURL      string
	GitToken    string `json:"-"`
	Status      Status
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Backends    map[string]*BackendRun
	Risk        *RiskAssessment
}

// OverallStatus derives the scan-level status from the backend runs. It is
// never stored independently: failed only when every backend failed,
// completed once all runs are terminal (partial results from a single
// succeeding backend count as completed), in progress while any run is
// active or already terminal, pending otherwise.
func OverallStatus(runs map[string]*BackendRun) Status {
	if len(runs) == 0 {
		return StatusPending
	}
	terminal, failed, idle := 0, 0, 0
	for _, r := range runs {
		switch r.Status {
		case StatusFailed:
			terminal++
			failed++
		case StatusCompleted:
			terminal++
		case StatusPending:
			idle++
		}
	}
	switch {
	case failed == len(runs):
		return StatusFailed
	case terminal == len(runs):
		return StatusCompleted
	case idle == len(runs):
		return StatusPending
	default:
		return StatusInProgress
	}
}

type FindingKind string

const (
	KindLicense       FindingKind = "license"
	KindCopyright     FindingKind = "copyright"
	KindExportControl FindingKind = "export_control"
)

// Finding is a single detected item, attributed to one file and one backend.
// Exactly one of the detail structs is set, matching Kind. Findings are
// immutable once written.
type Finding struct {
	ID       string
	ScanID   string
	Kind     FindingKind
	FilePath string
	Source   string
	Severity Severity

	License   *LicenseDetail
	Copyright *CopyrightDetail
	Export    *ExportDetail
}

type LicenseDetail struct {
	Name       string
	SPDXID     string
	Confidence float64
}

type CopyrightDetail struct {
	Statement string
	Holders   []string
	Years     []string
}

type ExportDetail struct {
	Content string
	Line    int
	CheckID string
}

type RuleCategory string

const (
	CategoryCopyleft    RuleCategory = "copyleft"
	CategoryPermissive  RuleCategory = "permissive"
	CategoryProprietary RuleCategory = "proprietary"
	CategoryUnknown     RuleCategory = "unknown"
	CategoryOther       RuleCategory = "other"
)

// RiskRule maps a license-name pattern to a weight. Patterns use '%' as an
// any-sequence wildcard; everything else matches literally and
// case-sensitively. Patterns are unique within a rule set.
type RiskRule struct {
	Pattern  string
	Weight   int
	Category RuleCategory
}

// RiskAssessment is the scoring engine's verdict, persisted on the scan once
// it reaches a terminal state with at least one backend completed.
type RiskAssessment struct {
	Score   int          `json:"score"`
	Level   Severity     `json:"level"`
	Factors []RiskFactor `json:"factors"`
}

// RiskFactor is a category-level summary of the findings that contributed
// to the score.
type RiskFactor struct {
	Category      string   `json:"category"`
	Severity      Severity `json:"severity"`
	Description   string   `json:"description"`
	AffectedCount int      `json:"affected_count"`
	Details       []string `json:"details"`
}
