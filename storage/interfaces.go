package storage

import (
	"context"
	"time"

	"securiwatch/core"
)

// LogStore defines the interface for log record storage. Insertions are
// keyed by fingerprint so the existence-check-then-insert at the ingress is
// atomic under concurrent submissions of the same event.
type LogStore interface {
	// InsertLog persists a new record. Returns ErrDuplicateLog when a
	// record with the same fingerprint already exists.
	InsertLog(ctx context.Context, record *core.LogRecord) error
	// GetLogByFingerprint fetches the stored record for a dedup key.
	GetLogByFingerprint(ctx context.Context, fingerprint string) (*core.LogRecord, error)
	GetLog(ctx context.Context, id string) (*core.LogRecord, error)
	GetLogs(ctx context.Context, limit, offset int) ([]core.LogRecord, error)
	GetLogCount(ctx context.Context) (int64, error)
}

// RuleStore defines the interface for detection rule storage. The engine
// only reads; writes come from the external management interface and the
// CLI importer.
type RuleStore interface {
	GetEnabledRules(ctx context.Context) ([]core.DetectionRule, error)
	GetAllRules(ctx context.Context) ([]core.DetectionRule, error)
	GetRule(ctx context.Context, id string) (*core.DetectionRule, error)
	CreateRule(ctx context.Context, rule *core.DetectionRule) error
	UpdateRule(ctx context.Context, id string, rule *core.DetectionRule) error
	SetRuleEnabled(ctx context.Context, id string, enabled bool) error
}

// IncidentStore defines the interface for incident storage. The append-or-
// create decision is enforced at this boundary by a conditional insert that
// only succeeds when no open incident exists for the correlation key within
// the window.
type IncidentStore interface {
	// CreateIncident inserts a new incident together with its first log
	// link in one transaction, conditional on no OPEN or INVESTIGATING
	// incident existing for the same correlation key detected at or after
	// `since`. Returns ErrOpenIncidentExists when the condition fails.
	CreateIncident(ctx context.Context, incident *core.Incident, logID string, since time.Time) error
	// FindOpenIncident returns the OPEN or INVESTIGATING incident for the
	// key detected at or after `since`, or ErrIncidentNotFound.
	FindOpenIncident(ctx context.Context, key core.CorrelationKey, since time.Time) (*core.Incident, error)
	// AppendLog links a log to an incident and updates only the engine-
	// owned columns (count, severity, confidence) so concurrent operator
	// writes to status, notes and assignment are preserved.
	AppendLog(ctx context.Context, incidentID, logID string, severity core.Severity, confidence float64) error
	GetIncident(ctx context.Context, id string) (*core.Incident, error)
	GetIncidents(ctx context.Context, limit, offset int) ([]core.Incident, error)
	// UpdateOperatorFields writes the operator-owned columns only.
	UpdateOperatorFields(ctx context.Context, id string, status core.IncidentStatus, assignedTo, notes string) error
	// GetStaleOpenIncidents returns open incidents whose last update is
	// older than `cutoff`, for the auto-resolve sweep.
	GetStaleOpenIncidents(ctx context.Context, cutoff time.Time) ([]core.Incident, error)
	// CloseIncident transitions an incident to a terminal status.
	CloseIncident(ctx context.Context, id string, status core.IncidentStatus) error
	// CountLinks returns the number of incident-log links for an incident.
	CountLinks(ctx context.Context, incidentID string) (int64, error)
	// GetLinkedLogIDs returns the IDs of logs linked to an incident.
	GetLinkedLogIDs(ctx context.Context, incidentID string) ([]string, error)
}

// AlertStore defines the interface for alert storage.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *core.Alert) error
	UpdateAlert(ctx context.Context, alert *core.Alert) error
	GetAlert(ctx context.Context, id string) (*core.Alert, error)
	GetAlertsByIncident(ctx context.Context, incidentID string) ([]core.Alert, error)
	// GetFailedAlerts surfaces terminally failed alerts for manual attention.
	GetFailedAlerts(ctx context.Context, limit, offset int) ([]core.Alert, error)
}
