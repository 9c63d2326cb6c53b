package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"securiwatch/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func storedLog(t *testing.T, logs *SQLiteLogStore, ts time.Time, eventType, message string) *core.LogRecord {
	t.Helper()
	record := core.NewLogRecord()
	record.Timestamp = ts
	record.EventType = eventType
	record.UserName = "alice"
	record.IPAddress = "203.0.113.7"
	record.Message = message
	record.RiskScore = 8
	require.NoError(t, logs.InsertLog(context.Background(), record))
	return record
}

func TestLogStore_InsertAndFetch(t *testing.T) {
	db := newTestDB(t)
	logs := NewSQLiteLogStore(db)
	ctx := context.Background()

	record := core.NewLogRecord()
	record.Timestamp = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	record.Hostname = "web-01"
	record.Process = "sshd"
	record.PID = 4321
	record.EventType = "AUTH_FAILURE"
	record.UserName = "alice"
	record.IPAddress = "203.0.113.7"
	record.Message = "Failed password"
	record.RiskScore = 9
	record.LowConfidence = false
	record.RawLog = "raw line"
	require.NoError(t, logs.InsertLog(ctx, record))

	got, err := logs.GetLog(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, "web-01", got.Hostname)
	assert.Equal(t, 4321, got.PID)
	assert.Equal(t, 9, got.RiskScore)
	assert.True(t, record.Timestamp.Equal(got.Timestamp))

	byFP, err := logs.GetLogByFingerprint(ctx, record.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, record.ID, byFP.ID)

	count, err := logs.GetLogCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLogStore_DuplicateFingerprint(t *testing.T) {
	db := newTestDB(t)
	logs := NewSQLiteLogStore(db)
	ctx := context.Background()

	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	storedLog(t, logs, ts, "AUTH_FAILURE", "Failed password")

	duplicate := core.NewLogRecord()
	duplicate.Timestamp = ts
	duplicate.EventType = "AUTH_FAILURE"
	duplicate.Message = "Failed password"
	err := logs.InsertLog(ctx, duplicate)
	assert.ErrorIs(t, err, ErrDuplicateLog)

	count, _ := logs.GetLogCount(ctx)
	assert.Equal(t, int64(1), count)
}

func TestLogStore_NotFound(t *testing.T) {
	db := newTestDB(t)
	logs := NewSQLiteLogStore(db)
	_, err := logs.GetLog(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrLogNotFound)
}

func TestRuleStore_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	rules := NewSQLiteRuleStore(db)
	ctx := context.Background()

	rule := &core.DetectionRule{
		ID:   "rule-1",
		Name: "brute-force-ssh",
		Type: core.RuleTypeSequence,
		Condition: map[string]interface{}{
			"field": "event_type", "op": "eq", "value": "AUTH_FAILURE",
		},
		Severity:       core.SeverityHigh,
		Enabled:        true,
		Window:         10 * time.Minute,
		GroupBy:        []string{"ip_address", "user_name"},
		Threshold:      5,
		BaseConfidence: 0.6,
		CreatedBy:      "admin",
	}
	require.NoError(t, rules.CreateRule(ctx, rule))

	got, err := rules.GetRule(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, rule.Name, got.Name)
	assert.Equal(t, 10*time.Minute, got.Window)
	assert.Equal(t, []string{"ip_address", "user_name"}, got.GroupBy)
	assert.Equal(t, 5, got.Threshold)
	assert.InDelta(t, 0.6, got.BaseConfidence, 1e-9)
	assert.Equal(t, "AUTH_FAILURE", got.Condition["value"])

	assert.ErrorIs(t, rules.CreateRule(ctx, rule), ErrDuplicateRule)
}

func TestRuleStore_EnabledFilter(t *testing.T) {
	db := newTestDB(t)
	rules := NewSQLiteRuleStore(db)
	ctx := context.Background()

	for _, tc := range []struct {
		id      string
		enabled bool
	}{{"rule-on", true}, {"rule-off", false}} {
		require.NoError(t, rules.CreateRule(ctx, &core.DetectionRule{
			ID: tc.id, Name: tc.id, Type: core.RuleTypeThreshold,
			Condition: map[string]interface{}{"field": "risk_score", "op": "gte", "value": 8},
			Severity:  core.SeverityHigh, Enabled: tc.enabled,
		}))
	}

	enabled, err := rules.GetEnabledRules(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "rule-on", enabled[0].ID)

	all, err := rules.GetAllRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, rules.SetRuleEnabled(ctx, "rule-off", true))
	enabled, _ = rules.GetEnabledRules(ctx)
	assert.Len(t, enabled, 2)

	assert.ErrorIs(t, rules.SetRuleEnabled(ctx, "missing", true), ErrRuleNotFound)
}

func testIncident(logID string) *core.Incident {
	now := time.Now().UTC()
	return &core.Incident{
		ID:               "incident-" + logID,
		Title:            "brute-force-ssh",
		Severity:         core.SeverityHigh,
		Status:           core.IncidentStatusOpen,
		EventType:        "AUTH_FAILURE",
		AffectedUser:     "alice",
		SourceIP:         "203.0.113.7",
		DetectionMethod:  "brute-force-ssh",
		ConfidenceScore:  0.6,
		RelatedLogsCount: 1,
		DetectedAt:       now,
		UpdatedAt:        now,
	}
}

func TestIncidentStore_ConditionalCreate(t *testing.T) {
	db := newTestDB(t)
	logs := NewSQLiteLogStore(db)
	incidents := NewSQLiteIncidentStore(db)
	ctx := context.Background()
	now := time.Now().UTC()
	since := now.Add(-24 * time.Hour)

	log1 := storedLog(t, logs, now, "AUTH_FAILURE", "first")
	log2 := storedLog(t, logs, now.Add(time.Second), "AUTH_FAILURE", "second")

	first := testIncident(log1.ID)
	require.NoError(t, incidents.CreateIncident(ctx, first, log1.ID, since))

	// A second create for the same open key inside the window must fail.
	second := testIncident(log2.ID)
	err := incidents.CreateIncident(ctx, second, log2.ID, since)
	assert.ErrorIs(t, err, ErrOpenIncidentExists)

	found, err := incidents.FindOpenIncident(ctx, first.CorrelationKey(), since)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestIncidentStore_CreateAfterWindowElapsed(t *testing.T) {
	db := newTestDB(t)
	logs := NewSQLiteLogStore(db)
	incidents := NewSQLiteIncidentStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	log1 := storedLog(t, logs, now.Add(-30*time.Hour), "AUTH_FAILURE", "old")
	log2 := storedLog(t, logs, now, "AUTH_FAILURE", "new")

	old := testIncident(log1.ID)
	old.DetectedAt = now.Add(-30 * time.Hour)
	require.NoError(t, incidents.CreateIncident(ctx, old, log1.ID, now.Add(-54*time.Hour)))

	// The old incident is still OPEN but fell out of the window, so a fresh
	// one opens for the same key.
	fresh := testIncident(log2.ID)
	since := now.Add(-24 * time.Hour)
	require.NoError(t, incidents.CreateIncident(ctx, fresh, log2.ID, since))

	found, err := incidents.FindOpenIncident(ctx, fresh.CorrelationKey(), since)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, found.ID)
}

func TestIncidentStore_AppendLog(t *testing.T) {
	db := newTestDB(t)
	logs := NewSQLiteLogStore(db)
	incidents := NewSQLiteIncidentStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	log1 := storedLog(t, logs, now, "AUTH_FAILURE", "first")
	log2 := storedLog(t, logs, now.Add(time.Second), "AUTH_FAILURE", "second")

	incident := testIncident(log1.ID)
	incident.AssignedTo = ""
	require.NoError(t, incidents.CreateIncident(ctx, incident, log1.ID, now.Add(-time.Hour)))

	// Operator takes the incident while the engine appends.
	require.NoError(t, incidents.UpdateOperatorFields(ctx, incident.ID, core.IncidentStatusInvestigating, "bob", "looking"))

	require.NoError(t, incidents.AppendLog(ctx, incident.ID, log2.ID, core.SeverityCritical, 0.8))

	got, err := incidents.GetIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RelatedLogsCount)
	assert.Equal(t, core.SeverityCritical, got.Severity)
	assert.InDelta(t, 0.8, got.ConfidenceScore, 1e-9)
	// Operator-owned fields survive the engine update.
	assert.Equal(t, core.IncidentStatusInvestigating, got.Status)
	assert.Equal(t, "bob", got.AssignedTo)
	assert.Equal(t, "looking", got.Notes)

	// Linking the same log twice is rejected and leaves the count alone.
	assert.ErrorIs(t, incidents.AppendLog(ctx, incident.ID, log2.ID, core.SeverityCritical, 0.9), ErrLogAlreadyLinked)
	got, _ = incidents.GetIncident(ctx, incident.ID)
	assert.Equal(t, 2, got.RelatedLogsCount)

	links, err := incidents.CountLinks(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), links)

	ids, err := incidents.GetLinkedLogIDs(ctx, incident.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{log1.ID, log2.ID}, ids)
}

func TestIncidentStore_CloseAndStale(t *testing.T) {
	db := newTestDB(t)
	logs := NewSQLiteLogStore(db)
	incidents := NewSQLiteIncidentStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	log1 := storedLog(t, logs, now, "AUTH_FAILURE", "first")
	incident := testIncident(log1.ID)
	require.NoError(t, incidents.CreateIncident(ctx, incident, log1.ID, now.Add(-time.Hour)))

	stale, err := incidents.GetStaleOpenIncidents(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)

	assert.Error(t, incidents.CloseIncident(ctx, incident.ID, core.IncidentStatusOpen))
	require.NoError(t, incidents.CloseIncident(ctx, incident.ID, core.IncidentStatusResolved))

	got, err := incidents.GetIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, core.IncidentStatusResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)

	// A closed incident no longer blocks a new one for the key.
	log2 := storedLog(t, logs, now.Add(time.Second), "AUTH_FAILURE", "second")
	fresh := testIncident(log2.ID)
	assert.NoError(t, incidents.CreateIncident(ctx, fresh, log2.ID, now.Add(-time.Hour)))
}

func TestAlertStore_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	logs := NewSQLiteLogStore(db)
	incidents := NewSQLiteIncidentStore(db)
	alerts := NewSQLiteAlertStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	log1 := storedLog(t, logs, now, "AUTH_FAILURE", "first")
	incident := testIncident(log1.ID)
	require.NoError(t, incidents.CreateIncident(ctx, incident, log1.ID, now.Add(-time.Hour)))

	alert := core.NewAlert(incident.ID, "webhook", "ops-hook")
	require.NoError(t, alerts.InsertAlert(ctx, alert))

	got, err := alerts.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusPending, got.Status)
	assert.Nil(t, got.SentAt)

	alert.MarkFailed("connection refused", 1)
	require.NoError(t, alerts.UpdateAlert(ctx, alert))

	failed, err := alerts.GetFailedAlerts(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "connection refused", failed[0].ErrorMessage)

	alert.MarkSent()
	require.NoError(t, alerts.UpdateAlert(ctx, alert))
	got, _ = alerts.GetAlert(ctx, alert.ID)
	assert.Equal(t, core.AlertStatusSent, got.Status)
	require.NotNil(t, got.SentAt)

	byIncident, err := alerts.GetAlertsByIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Len(t, byIncident, 1)
}
