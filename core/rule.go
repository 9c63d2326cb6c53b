package core

import (
	"time"
)

// Severity levels for rules and incidents, ordered from least to most severe.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric ordering of the severity. Unknown severities rank
// below LOW so they can never displace a known one.
func (s Severity) Rank() int {
	return severityRank[s]
}

// IsValid checks if the severity is a known level.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is at or above the given threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.Rank() >= threshold.Rank()
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Rule types select the matcher strategy used by the evaluator.
const (
	// RuleTypeThreshold evaluates the predicate tree against the single
	// record in isolation (e.g. "risk_score >= 8").
	RuleTypeThreshold = "threshold"
	// RuleTypePattern is stateless like threshold; the tag exists so text
	// match heavy rules can be reported separately.
	RuleTypePattern = "pattern"
	// RuleTypeSequence evaluates over a sliding time window of records
	// sharing a grouping key (e.g. "5 failed logins from one IP in 10m").
	RuleTypeSequence = "sequence"
)

// DetectionRule is a user-configured detection. The engine only reads rules;
// the management interface owns creation and mutation. Rules are versionless,
// an update replaces the condition document and bumps UpdatedAt.
type DetectionRule struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Condition   map[string]interface{} `json:"condition"`
	Severity    Severity               `json:"severity"`
	Enabled     bool                   `json:"enabled"`

	// Windowed evaluation parameters, meaningful for sequence rules only.
	Window    time.Duration `json:"window,omitempty"`
	GroupBy   []string      `json:"group_by,omitempty"`
	Threshold int           `json:"threshold,omitempty"`

	// BaseConfidence seeds incident confidence on first match, in [0,1].
	BaseConfidence float64 `json:"base_confidence,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsWindowed reports whether the rule requires sliding-window state.
func (r *DetectionRule) IsWindowed() bool {
	return r.Type == RuleTypeSequence
}

// EffectiveConfidence returns the rule's base confidence, defaulting to 0.5
// when unset so incidents never start at zero confidence.
func (r *DetectionRule) EffectiveConfidence() float64 {
	if r.BaseConfidence <= 0 || r.BaseConfidence > 1 {
		return 0.5
	}
	return r.BaseConfidence
}
