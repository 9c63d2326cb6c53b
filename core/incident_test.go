package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMatch() *RuleMatchEvent {
	rule := &DetectionRule{
		ID:             "rule-1",
		Name:           "brute-force-ssh",
		Type:           RuleTypeSequence,
		Description:    "Repeated SSH failures",
		Severity:       SeverityHigh,
		BaseConfidence: 0.6,
	}
	record := &LogRecord{
		ID:        "log-1",
		Timestamp: time.Now().UTC(),
		EventType: "AUTH_FAILURE",
		UserName:  "alice",
		IPAddress: "203.0.113.7",
	}
	return NewRuleMatchEvent(rule, record)
}

func TestNewIncident(t *testing.T) {
	incident := NewIncident(testMatch())

	require.NotEmpty(t, incident.ID)
	assert.Equal(t, IncidentStatusOpen, incident.Status)
	assert.Equal(t, SeverityHigh, incident.Severity)
	assert.Equal(t, 1, incident.RelatedLogsCount)
	assert.Equal(t, "brute-force-ssh", incident.Title)
	assert.Equal(t, "brute-force-ssh", incident.DetectionMethod)
	assert.Equal(t, "alice", incident.AffectedUser)
	assert.Equal(t, "203.0.113.7", incident.SourceIP)
	assert.InDelta(t, 0.6, incident.ConfidenceScore, 1e-9)
	assert.Nil(t, incident.ResolvedAt)
}

func TestIncidentTransitions(t *testing.T) {
	tests := []struct {
		from    IncidentStatus
		to      IncidentStatus
		allowed bool
	}{
		{IncidentStatusOpen, IncidentStatusInvestigating, true},
		{IncidentStatusOpen, IncidentStatusResolved, true},
		{IncidentStatusOpen, IncidentStatusClosed, true},
		{IncidentStatusInvestigating, IncidentStatusResolved, true},
		{IncidentStatusInvestigating, IncidentStatusOpen, false},
		{IncidentStatusResolved, IncidentStatusClosed, true},
		{IncidentStatusResolved, IncidentStatusOpen, false},
		{IncidentStatusClosed, IncidentStatusOpen, false},
		{IncidentStatusClosed, IncidentStatusResolved, false},
	}
	for _, tt := range tests {
		incident := &Incident{Status: tt.from}
		err := incident.TransitionTo(tt.to)
		if tt.allowed {
			require.NoError(t, err, "%s -> %s", tt.from, tt.to)
			assert.Equal(t, tt.to, incident.Status)
		} else {
			require.Error(t, err, "%s -> %s", tt.from, tt.to)
			assert.Equal(t, tt.from, incident.Status)
		}
	}
}

func TestTransitionTo_SetsResolvedAt(t *testing.T) {
	incident := &Incident{Status: IncidentStatusOpen}
	require.NoError(t, incident.TransitionTo(IncidentStatusResolved))
	require.NotNil(t, incident.ResolvedAt)
	assert.True(t, incident.Status.IsTerminal())
}

func TestTransitionTo_RejectsUnknownStatus(t *testing.T) {
	incident := &Incident{Status: IncidentStatusOpen}
	assert.Error(t, incident.TransitionTo("ARCHIVED"))
}

func TestConfidenceForCount_Monotonic(t *testing.T) {
	prev := 0.0
	for count := 1; count <= 50; count++ {
		confidence := ConfidenceForCount(0.5, count)
		assert.GreaterOrEqual(t, confidence, prev, "count=%d", count)
		assert.LessOrEqual(t, confidence, 0.99, "count=%d", count)
		prev = confidence
	}
}

func TestConfidenceForCount_BaseHandling(t *testing.T) {
	// First match returns the base unchanged.
	assert.InDelta(t, 0.7, ConfidenceForCount(0.7, 1), 1e-9)
	// Out-of-range bases are normalized rather than rejected.
	assert.InDelta(t, 0.5, ConfidenceForCount(0, 1), 1e-9)
	assert.InDelta(t, 0.99, ConfidenceForCount(1.5, 1), 1e-9)
}

func TestCorrelationKeyString(t *testing.T) {
	key := CorrelationKey{
		EventType:       "AUTH_FAILURE",
		UserName:        "alice",
		IPAddress:       "203.0.113.7",
		DetectionMethod: "brute-force-ssh",
	}
	assert.Equal(t, "AUTH_FAILURE|alice|203.0.113.7|brute-force-ssh", key.String())

	// Absent components render as empty segments so the form stays stable.
	partial := CorrelationKey{EventType: "CRON_JOB", DetectionMethod: "odd-cron"}
	assert.Equal(t, "CRON_JOB|||odd-cron", partial.String())
}
