package score

import "strings"

// Event types recognized by the heuristic scorer, matching what the auth
// log collectors emit.
const (
	EventAuthFailure  = "AUTH_FAILURE"
	EventAuthSuccess  = "AUTH_SUCCESS"
	EventInvalidUser  = "INVALID_USER"
	EventSudoCommand  = "SUDO_COMMAND"
	EventSessionOpen  = "SESSION_OPEN"
	EventSessionClose = "SESSION_CLOSE"
	EventCronJob      = "CRON_JOB"
	EventOther        = "OTHER"
)

var baseScores = map[string]int{
	EventAuthFailure:  7,
	EventInvalidUser:  8,
	EventSudoCommand:  5,
	EventAuthSuccess:  2,
	EventSessionOpen:  3,
	EventSessionClose: 1,
	EventCronJob:      1,
	EventOther:        2,
}

// HeuristicScorer is the rule-based production scorer: a base score per
// event type, bumped for failure and root mentions, capped at 10.
type HeuristicScorer struct{}

// NewHeuristicScorer creates the default scorer.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{}
}

// Score implements Scorer. Unknown event types score 0 with low confidence
// rather than failing.
func (s *HeuristicScorer) Score(eventType, message string) (int, bool) {
	base, known := baseScores[eventType]
	if !known {
		return 0, true
	}

	lower := strings.ToLower(message)
	if strings.Contains(lower, "failed") {
		base += 2
	}
	if strings.Contains(lower, "root") {
		base++
	}
	if base > 10 {
		base = 10
	}
	return base, false
}
