package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_SameLogicalEvent(t *testing.T) {
	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	a := &LogRecord{Timestamp: ts, EventType: "AUTH_FAILURE", Message: "failed login"}
	b := &LogRecord{Timestamp: ts, EventType: "AUTH_FAILURE", Message: "failed login"}

	// Different IDs, raw text and collection times do not change the identity.
	a.ID, b.ID = "id-a", "id-b"
	a.RawLog, b.RawLog = "raw variant one", "raw variant two"
	a.CollectedAt = ts
	b.CollectedAt = ts.Add(time.Hour)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprint_DistinguishesEvents(t *testing.T) {
	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	base := &LogRecord{Timestamp: ts, EventType: "AUTH_FAILURE", Message: "failed login"}

	differentTime := &LogRecord{Timestamp: ts.Add(time.Nanosecond), EventType: "AUTH_FAILURE", Message: "failed login"}
	differentType := &LogRecord{Timestamp: ts, EventType: "AUTH_SUCCESS", Message: "failed login"}
	differentMsg := &LogRecord{Timestamp: ts, EventType: "AUTH_FAILURE", Message: "failed login again"}

	assert.NotEqual(t, base.Fingerprint(), differentTime.Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), differentType.Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), differentMsg.Fingerprint())
}

func TestFingerprint_TimezoneInsensitive(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	utc := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	a := &LogRecord{Timestamp: utc, EventType: "CRON_JOB", Message: "job ran"}
	b := &LogRecord{Timestamp: utc.In(loc), EventType: "CRON_JOB", Message: "job ran"}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestNewLogRecord(t *testing.T) {
	r := NewLogRecord()
	require.NotEmpty(t, r.ID)
	assert.False(t, r.CollectedAt.IsZero())
}

func TestField_Presence(t *testing.T) {
	record := &LogRecord{
		Timestamp: time.Now().UTC(),
		EventType: "SUDO_COMMAND",
		Message:   "root ran something",
	}

	_, present := record.Field("user_name")
	assert.False(t, present)
	_, present = record.Field("ip_address")
	assert.False(t, present)
	_, present = record.Field("pid")
	assert.False(t, present)

	value, present := record.Field("event_type")
	assert.True(t, present)
	assert.Equal(t, "SUDO_COMMAND", value)

	// risk_score is always present, even at zero.
	value, present = record.Field("risk_score")
	assert.True(t, present)
	assert.Equal(t, 0, value)

	_, present = record.Field("no_such_field")
	assert.False(t, present)
}
