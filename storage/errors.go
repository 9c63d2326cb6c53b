package storage

import "errors"

// Storage error constants
var (
	// ErrNotFound is a generic "not found" error
	ErrNotFound = errors.New("not found")

	// ErrLogNotFound is returned when a log record is not found
	ErrLogNotFound = errors.New("log record not found")

	// ErrRuleNotFound is returned when a detection rule is not found
	ErrRuleNotFound = errors.New("detection rule not found")

	// ErrIncidentNotFound is returned when an incident is not found
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrAlertNotFound is returned when an alert is not found
	ErrAlertNotFound = errors.New("alert not found")

	// ErrDuplicateLog is returned when inserting a log whose fingerprint
	// already exists. The normalizer treats this as the idempotent
	// "already exists" path, not a failure.
	ErrDuplicateLog = errors.New("log record already exists")

	// ErrOpenIncidentExists is returned when a conditional incident insert
	// loses the race against a concurrent create for the same correlation
	// key. The correlator retries by appending to the winner.
	ErrOpenIncidentExists = errors.New("open incident already exists for correlation key")

	// ErrLogAlreadyLinked is returned when an incident-log link already
	// exists; appends treat it as a no-op so counts stay consistent.
	ErrLogAlreadyLinked = errors.New("log already linked to incident")

	// ErrDuplicateRule is returned when creating a rule with an existing ID
	ErrDuplicateRule = errors.New("detection rule already exists")
)
