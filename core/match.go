package core

import (
	"strings"
	"time"
)

// CorrelationKey groups related rule matches into one incident. Absent
// components are empty strings and act as wildcards for grouping, not as
// null mismatches.
type CorrelationKey struct {
	EventType       string `json:"event_type"`
	UserName        string `json:"user_name"`
	IPAddress       string `json:"ip_address"`
	DetectionMethod string `json:"detection_method"`
}

// String renders the key in a stable form suitable for lock striping and
// storage indexing.
func (k CorrelationKey) String() string {
	return strings.Join([]string{k.EventType, k.UserName, k.IPAddress, k.DetectionMethod}, "|")
}

// RuleMatchEvent is produced by the evaluator when a record satisfies a
// rule. Ephemeral; consumed by the correlator.
type RuleMatchEvent struct {
	Rule      *DetectionRule
	Record    *LogRecord
	Key       CorrelationKey
	MatchedAt time.Time
}

// NewRuleMatchEvent derives the correlation key from the rule and the
// triggering record. The detection method is the rule name so distinct
// rules open distinct incidents for the same actor.
func NewRuleMatchEvent(rule *DetectionRule, record *LogRecord) *RuleMatchEvent {
	return &RuleMatchEvent{
		Rule:   rule,
		Record: record,
		Key: CorrelationKey{
			EventType:       record.EventType,
			UserName:        record.UserName,
			IPAddress:       record.IPAddress,
			DetectionMethod: rule.Name,
		},
		MatchedAt: time.Now().UTC(),
	}
}
