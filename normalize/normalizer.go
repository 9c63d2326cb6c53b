// Package normalize validates and deduplicates raw log submissions before
// they enter the pipeline. Collectors deliver at-least-once; the normalizer
// guarantees single logical processing per unique event.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"securiwatch/core"
	"securiwatch/metrics"
	"securiwatch/score"
	"securiwatch/storage"

	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// RawRecord is the LogRecord-shaped ingress payload. Validation tags reject
// structurally bad input before the required-field check.
type RawRecord struct {
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp" validate:"required"`
	Hostname  string    `json:"hostname" msgpack:"hostname" validate:"omitempty,max=255"`
	Process   string    `json:"process" msgpack:"process" validate:"omitempty,max=100"`
	PID       int       `json:"pid" msgpack:"pid" validate:"omitempty,gte=0"`
	EventType string    `json:"event_type" msgpack:"event_type" validate:"required,max=50"`
	UserName  string    `json:"user_name" msgpack:"user_name" validate:"omitempty,max=100"`
	IPAddress string    `json:"ip_address" msgpack:"ip_address" validate:"omitempty,ip"`
	Message   string    `json:"message" msgpack:"message"`
	RawLog    string    `json:"raw_log" msgpack:"raw_log"`
}

// Result reports the outcome of one ingestion: the stored record's identity
// and whether this submission created it or hit the dedup path.
type Result struct {
	Record  *core.LogRecord
	Created bool
}

// Normalizer validates incoming records, computes the dedup fingerprint and
// performs idempotent insertion. The LRU cache short-circuits storage reads
// for recently seen fingerprints; correctness never depends on it, only the
// unique index does.
type Normalizer struct {
	logs     storage.LogStore
	scorer   score.Scorer
	validate *validator.Validate
	seen     *lru.Cache[string, string] // fingerprint -> record ID
	logger   *zap.SugaredLogger
}

// NewNormalizer creates a Normalizer with a bounded fingerprint cache.
// Scoring runs between validation and persistence so the stored row
// carries the final risk score; records are immutable once stored.
func NewNormalizer(logs storage.LogStore, scorer score.Scorer, cacheSize int, logger *zap.SugaredLogger) (*Normalizer, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	seen, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create fingerprint cache: %w", err)
	}
	return &Normalizer{
		logs:     logs,
		scorer:   scorer,
		validate: validator.New(),
		seen:     seen,
		logger:   logger,
	}, nil
}

// Ingest validates, deduplicates and persists one raw record.
//
// Missing timestamp or event type yields a MalformedRecordError and nothing
// is stored. A duplicate submission returns the previously stored record
// with Created=false; the caller must not forward it downstream. The
// check-then-insert race is resolved by the storage layer's unique
// fingerprint index: the loser of a concurrent insert takes the idempotent
// "already exists" path.
func (n *Normalizer) Ingest(ctx context.Context, raw *RawRecord) (*Result, error) {
	if err := n.reject(raw); err != nil {
		metrics.LogsRejected.Inc()
		return nil, err
	}

	record := core.NewLogRecord()
	record.Timestamp = raw.Timestamp.UTC()
	record.Hostname = raw.Hostname
	record.Process = raw.Process
	record.PID = raw.PID
	record.EventType = raw.EventType
	record.UserName = raw.UserName
	record.IPAddress = raw.IPAddress
	record.Message = raw.Message
	record.RawLog = raw.RawLog
	if n.scorer != nil {
		record.RiskScore, record.LowConfidence = n.scorer.Score(record.EventType, record.Message)
	}

	fingerprint := record.Fingerprint()

	if id, ok := n.seen.Get(fingerprint); ok {
		existing, err := n.logs.GetLog(ctx, id)
		if err == nil {
			metrics.LogsDeduplicated.Inc()
			return &Result{Record: existing, Created: false}, nil
		}
		// Cache pointed at a record the store no longer has (e.g. retention
		// pruned it); fall through to the authoritative insert path.
		n.seen.Remove(fingerprint)
	}

	err := n.logs.InsertLog(ctx, record)
	if err == nil {
		n.seen.Add(fingerprint, record.ID)
		metrics.LogsProcessed.Inc()
		return &Result{Record: record, Created: true}, nil
	}
	if !errors.Is(err, storage.ErrDuplicateLog) {
		return nil, fmt.Errorf("failed to store log record: %w", err)
	}

	// Lost the insert race or a re-send: return the first-seen record.
	existing, err := n.logs.GetLogByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to load deduplicated record: %w", err)
	}
	n.seen.Add(fingerprint, existing.ID)
	metrics.LogsDeduplicated.Inc()
	return &Result{Record: existing, Created: false}, nil
}

// reject returns a MalformedRecordError naming the missing required fields,
// or a validation error for structurally bad optional fields.
func (n *Normalizer) reject(raw *RawRecord) error {
	var missing []string
	if raw.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if raw.EventType == "" {
		missing = append(missing, "event_type")
	}
	if len(missing) > 0 {
		return &core.MalformedRecordError{Missing: missing}
	}
	if err := n.validate.Struct(raw); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	return nil
}
