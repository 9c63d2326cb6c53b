package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogRecord represents a single normalized security log event. Records are
// immutable once stored; the collectors may re-send the same event and the
// normalizer collapses duplicates by fingerprint.
type LogRecord struct {
	ID            string    `json:"id" db:"id"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	Hostname      string    `json:"hostname,omitempty" db:"hostname"`
	Process       string    `json:"process,omitempty" db:"process"`
	PID           int       `json:"pid,omitempty" db:"pid"`
	EventType     string    `json:"event_type" db:"event_type"`
	UserName      string    `json:"user_name,omitempty" db:"user_name"`
	IPAddress     string    `json:"ip_address,omitempty" db:"ip_address"`
	Message       string    `json:"message" db:"message"`
	RiskScore     int       `json:"risk_score" db:"risk_score"`
	LowConfidence bool      `json:"low_confidence,omitempty" db:"low_confidence"`
	RawLog        string    `json:"raw_log,omitempty" db:"raw_log"`
	CollectedAt   time.Time `json:"collected_at" db:"collected_at"`
}

// NewLogRecord creates a LogRecord with a generated UUID and collection time.
func NewLogRecord() *LogRecord {
	return &LogRecord{
		ID:          uuid.New().String(),
		CollectedAt: time.Now().UTC(),
	}
}

// Fingerprint returns the dedup key for the record: the hex-encoded SHA-256
// of (timestamp, event type, message). Two records with the same fingerprint
// are the same logical event regardless of raw text or collection time.
func (r *LogRecord) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s", r.Timestamp.UTC().UnixNano(), r.EventType, r.Message)
	return hex.EncodeToString(h.Sum(nil))
}

// Field returns the value of a named log field for predicate evaluation.
// The second return value reports whether the field is present on this
// record; absent optional fields (user_name, ip_address, pid) never match
// equality or comparison predicates.
func (r *LogRecord) Field(name string) (interface{}, bool) {
	switch name {
	case "timestamp":
		return r.Timestamp, true
	case "hostname":
		return r.Hostname, r.Hostname != ""
	case "process":
		return r.Process, r.Process != ""
	case "pid":
		return r.PID, r.PID != 0
	case "event_type":
		return r.EventType, true
	case "user_name":
		return r.UserName, r.UserName != ""
	case "ip_address":
		return r.IPAddress, r.IPAddress != ""
	case "message":
		return r.Message, true
	case "risk_score":
		return r.RiskScore, true
	default:
		return nil, false
	}
}
