package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's error taxonomy.
var (
	// ErrCorrelationConflict signals a lost race on incident append-or-create.
	// The correlator retries it transparently; it is never surfaced.
	ErrCorrelationConflict = errors.New("correlation conflict")
)

// MalformedRecordError rejects a log payload missing required fields. The
// record is never stored.
type MalformedRecordError struct {
	Missing []string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record: missing required fields %v", e.Missing)
}

// IsMalformedRecord reports whether err is a MalformedRecordError.
func IsMalformedRecord(err error) bool {
	var target *MalformedRecordError
	return errors.As(err, &target)
}

// RuleConfigError marks a rule whose condition document could not be parsed
// or validated. The evaluator logs it and skips the rule for the cycle;
// other rules keep evaluating.
type RuleConfigError struct {
	RuleID string
	Reason string
	Err    error
}

func (e *RuleConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rule %s: invalid condition: %s: %v", e.RuleID, e.Reason, e.Err)
	}
	return fmt.Sprintf("rule %s: invalid condition: %s", e.RuleID, e.Reason)
}

func (e *RuleConfigError) Unwrap() error {
	return e.Err
}

// DeliveryError records a failed alert delivery attempt. Retried with
// backoff; after the retry budget is exhausted the alert stays terminally
// FAILED and is surfaced for manual attention.
type DeliveryError struct {
	AlertID     string
	Destination string
	Attempt     int
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("alert %s: delivery to %s failed (attempt %d): %v", e.AlertID, e.Destination, e.Attempt, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
