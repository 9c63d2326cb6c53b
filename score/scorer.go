// Package score computes per-record risk scores. The engine depends only on
// the Scorer interface so the heuristic can be swapped for a trained model.
package score

// Scorer assigns a risk score in [0, 10] to a log record's fields. Score is
// total: it never fails. Inputs it cannot score get 0 with lowConfidence
// true so downstream matchers can discount them.
type Scorer interface {
	Score(eventType, message string) (score int, lowConfidence bool)
}
