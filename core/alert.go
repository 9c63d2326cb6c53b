package core

import (
	"time"

	"github.com/google/uuid"
)

// AlertStatus represents the delivery state of an alert.
type AlertStatus string

const (
	// AlertStatusPending indicates an alert queued for delivery or retry.
	AlertStatusPending AlertStatus = "PENDING"
	// AlertStatusSent indicates a successfully delivered alert.
	AlertStatusSent AlertStatus = "SENT"
	// AlertStatusFailed indicates a failed delivery; terminal once the
	// retry budget is exhausted.
	AlertStatusFailed AlertStatus = "FAILED"
)

// String returns the string representation.
func (s AlertStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid.
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusPending, AlertStatusSent, AlertStatusFailed:
		return true
	default:
		return false
	}
}

// Alert is one delivery obligation for one incident notification. Severity
// escalations create new alerts; an alert is never re-used for a different
// incident.
type Alert struct {
	ID           string      `json:"id"`
	IncidentID   string      `json:"incident_id"`
	AlertType    string      `json:"alert_type"`
	Destination  string      `json:"destination"`
	Status       AlertStatus `json:"status"`
	Attempts     int         `json:"attempts"`
	SentAt       *time.Time  `json:"sent_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// NewAlert creates a PENDING alert for an incident and destination.
func NewAlert(incidentID, alertType, destination string) *Alert {
	return &Alert{
		ID:          uuid.New().String(),
		IncidentID:  incidentID,
		AlertType:   alertType,
		Destination: destination,
		Status:      AlertStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// MarkSent records a successful delivery.
func (a *Alert) MarkSent() {
	now := time.Now().UTC()
	a.Status = AlertStatusSent
	a.SentAt = &now
	a.ErrorMessage = ""
}

// MarkFailed records a failed attempt. The alert returns to PENDING while
// retries remain, otherwise it stays terminally FAILED with the last error.
func (a *Alert) MarkFailed(errMsg string, maxAttempts int) {
	a.Attempts++
	a.ErrorMessage = errMsg
	if a.Attempts >= maxAttempts {
		a.Status = AlertStatusFailed
	} else {
		a.Status = AlertStatusPending
	}
}

// Exhausted reports whether the alert has used its full retry budget.
func (a *Alert) Exhausted(maxAttempts int) bool {
	return a.Attempts >= maxAttempts
}
