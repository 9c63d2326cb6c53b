package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"securiwatch/core"
)

// SQLiteLogStore implements LogStore on SQLite.
type SQLiteLogStore struct {
	db *SQLite
}

// NewSQLiteLogStore creates a log store backed by the given database.
func NewSQLiteLogStore(db *SQLite) *SQLiteLogStore {
	return &SQLiteLogStore{db: db}
}

// InsertLog persists a record. The UNIQUE index on fingerprint makes this a
// compare-and-insert: a concurrent submission of the same event loses the
// race here and gets ErrDuplicateLog instead of a second row.
func (s *SQLiteLogStore) InsertLog(ctx context.Context, record *core.LogRecord) error {
	_, err := s.db.WriteDB.ExecContext(ctx, `
		INSERT INTO logs (id, fingerprint, timestamp, hostname, process, pid, event_type,
			user_name, ip_address, message, risk_score, low_confidence, raw_log, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Fingerprint(), record.Timestamp.UTC(), record.Hostname, record.Process,
		record.PID, record.EventType, record.UserName, record.IPAddress, record.Message,
		record.RiskScore, boolToInt(record.LowConfidence), record.RawLog, record.CollectedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateLog
		}
		return fmt.Errorf("failed to insert log: %w", err)
	}
	return nil
}

// GetLogByFingerprint fetches the stored record for a dedup key.
func (s *SQLiteLogStore) GetLogByFingerprint(ctx context.Context, fingerprint string) (*core.LogRecord, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, selectLogColumns+` FROM logs WHERE fingerprint = ?`, fingerprint)
	return scanLog(row)
}

// GetLog fetches a record by ID.
func (s *SQLiteLogStore) GetLog(ctx context.Context, id string) (*core.LogRecord, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, selectLogColumns+` FROM logs WHERE id = ?`, id)
	return scanLog(row)
}

// GetLogs returns records ordered newest first.
func (s *SQLiteLogStore) GetLogs(ctx context.Context, limit, offset int) ([]core.LogRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.ReadDB.QueryContext(ctx,
		selectLogColumns+` FROM logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []core.LogRecord
	for rows.Next() {
		record, err := scanLogRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// GetLogCount returns the number of stored records.
func (s *SQLiteLogStore) GetLogCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return count, nil
}

const selectLogColumns = `SELECT id, timestamp, hostname, process, pid, event_type,
	user_name, ip_address, message, risk_score, low_confidence, raw_log, collected_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLog(row *sql.Row) (*core.LogRecord, error) {
	record, err := scanLogRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLogNotFound
	}
	return record, err
}

func scanLogRows(scanner rowScanner) (*core.LogRecord, error) {
	var record core.LogRecord
	var hostname, process, userName, ipAddress, message, rawLog sql.NullString
	var pid, lowConfidence sql.NullInt64

	err := scanner.Scan(&record.ID, &record.Timestamp, &hostname, &process, &pid,
		&record.EventType, &userName, &ipAddress, &message, &record.RiskScore,
		&lowConfidence, &rawLog, &record.CollectedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan log: %w", err)
	}

	record.Hostname = hostname.String
	record.Process = process.String
	record.PID = int(pid.Int64)
	record.UserName = userName.String
	record.IPAddress = ipAddress.String
	record.Message = message.String
	record.RawLog = rawLog.String
	record.LowConfidence = lowConfidence.Int64 != 0
	return &record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
