package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IncidentStatus represents the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentStatusOpen          IncidentStatus = "OPEN"
	IncidentStatusInvestigating IncidentStatus = "INVESTIGATING"
	IncidentStatusResolved      IncidentStatus = "RESOLVED"
	IncidentStatusClosed        IncidentStatus = "CLOSED"
)

// String returns the string representation.
func (s IncidentStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a known state.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusInvestigating, IncidentStatusResolved, IncidentStatusClosed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether automated logic treats the status as final.
// Operators may reopen externally; the engine never appends to a terminal
// incident.
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentStatusResolved || s == IncidentStatusClosed
}

// validIncidentTransitions defines allowed state transitions.
var validIncidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentStatusOpen:          {IncidentStatusInvestigating, IncidentStatusResolved, IncidentStatusClosed},
	IncidentStatusInvestigating: {IncidentStatusResolved, IncidentStatusClosed},
	IncidentStatusResolved:      {IncidentStatusClosed},
	IncidentStatusClosed:        {},
}

// Incident is the mutable aggregate produced by correlation. The correlator
// owns count, severity and confidence; operators own status, assignment and
// notes. Updates to the two field groups must not clobber each other.
type Incident struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	Description       string         `json:"description,omitempty"`
	Severity          Severity       `json:"severity"`
	Status            IncidentStatus `json:"status"`
	EventType         string         `json:"event_type,omitempty"`
	AffectedUser      string         `json:"affected_user,omitempty"`
	SourceIP          string         `json:"source_ip,omitempty"`
	DetectionMethod   string         `json:"detection_method,omitempty"`
	ConfidenceScore   float64        `json:"confidence_score"`
	RelatedLogsCount  int            `json:"related_logs_count"`
	DetectedAt        time.Time      `json:"detected_at"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	AssignedTo        string         `json:"assigned_to,omitempty"`
	Notes             string         `json:"notes,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// NewIncident creates an OPEN incident for the first match on a correlation
// key. Count starts at 1; the caller links the triggering log separately.
func NewIncident(match *RuleMatchEvent) *Incident {
	now := time.Now().UTC()
	return &Incident{
		ID:               uuid.New().String(),
		Title:            match.Rule.Name,
		Description:      match.Rule.Description,
		Severity:         match.Rule.Severity,
		Status:           IncidentStatusOpen,
		EventType:        match.Key.EventType,
		AffectedUser:     match.Key.UserName,
		SourceIP:         match.Key.IPAddress,
		DetectionMethod:  match.Key.DetectionMethod,
		ConfidenceScore:  match.Rule.EffectiveConfidence(),
		RelatedLogsCount: 1,
		DetectedAt:       now,
		UpdatedAt:        now,
	}
}

// CorrelationKey reconstructs the incident's grouping key.
func (i *Incident) CorrelationKey() CorrelationKey {
	return CorrelationKey{
		EventType:       i.EventType,
		UserName:        i.AffectedUser,
		IPAddress:       i.SourceIP,
		DetectionMethod: i.DetectionMethod,
	}
}

// TransitionTo validates and executes an incident state transition.
func (i *Incident) TransitionTo(newStatus IncidentStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid incident status: %s", newStatus)
	}

	allowed, exists := validIncidentTransitions[i.Status]
	if !exists {
		return fmt.Errorf("unknown current status: %s", i.Status)
	}

	for _, status := range allowed {
		if status == newStatus {
			i.Status = newStatus
			if newStatus == IncidentStatusResolved || newStatus == IncidentStatusClosed {
				now := time.Now().UTC()
				i.ResolvedAt = &now
			}
			return nil
		}
	}
	return fmt.Errorf("invalid transition: %s -> %s (allowed: %v)", i.Status, newStatus, allowed)
}

// CanTransitionTo checks if a transition is allowed without executing it.
func (i *Incident) CanTransitionTo(newStatus IncidentStatus) bool {
	allowed, exists := validIncidentTransitions[i.Status]
	if !exists || !newStatus.IsValid() {
		return false
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// ConfidenceForCount computes incident confidence as a function of the
// related-log count and the rule's base confidence. Monotonically
// non-decreasing in count and bounded by 0.99: each additional corroborating
// log halves the remaining distance to the cap.
func ConfidenceForCount(base float64, count int) float64 {
	if base <= 0 {
		base = 0.5
	}
	if base > 0.99 {
		base = 0.99
	}
	confidence := base
	for n := 1; n < count; n++ {
		confidence += (0.99 - confidence) / 2
	}
	return confidence
}

// IncidentLogLink associates a log record with an incident. A log may belong
// to multiple incidents.
type IncidentLogLink struct {
	IncidentID string    `json:"incident_id"`
	LogID      string    `json:"log_id"`
	LinkedAt   time.Time `json:"linked_at"`
}
