package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"securiwatch/core"
)

// SQLiteAlertStore implements AlertStore on SQLite.
type SQLiteAlertStore struct {
	db *SQLite
}

// NewSQLiteAlertStore creates an alert store backed by the given database.
func NewSQLiteAlertStore(db *SQLite) *SQLiteAlertStore {
	return &SQLiteAlertStore{db: db}
}

// InsertAlert persists a new alert.
func (s *SQLiteAlertStore) InsertAlert(ctx context.Context, alert *core.Alert) error {
	_, err := s.db.WriteDB.ExecContext(ctx, `
		INSERT INTO alerts (id, incident_id, alert_type, destination, status, attempts,
			sent_at, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.IncidentID, alert.AlertType, alert.Destination, string(alert.Status),
		alert.Attempts, nullableTime(alert.SentAt), alert.ErrorMessage, alert.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// UpdateAlert persists delivery bookkeeping after an attempt.
func (s *SQLiteAlertStore) UpdateAlert(ctx context.Context, alert *core.Alert) error {
	result, err := s.db.WriteDB.ExecContext(ctx, `
		UPDATE alerts SET status = ?, attempts = ?, sent_at = ?, error_message = ?
		WHERE id = ?`,
		string(alert.Status), alert.Attempts, nullableTime(alert.SentAt), alert.ErrorMessage, alert.ID)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	return requireRowAffected(result, ErrAlertNotFound)
}

// GetAlert fetches an alert by ID.
func (s *SQLiteAlertStore) GetAlert(ctx context.Context, id string) (*core.Alert, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, selectAlertColumns+` FROM alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	return alert, err
}

// GetAlertsByIncident returns all alerts for an incident.
func (s *SQLiteAlertStore) GetAlertsByIncident(ctx context.Context, incidentID string) ([]core.Alert, error) {
	return s.queryAlerts(ctx,
		selectAlertColumns+` FROM alerts WHERE incident_id = ? ORDER BY created_at`, incidentID)
}

// GetFailedAlerts surfaces terminally failed alerts for manual attention.
func (s *SQLiteAlertStore) GetFailedAlerts(ctx context.Context, limit, offset int) ([]core.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryAlerts(ctx,
		selectAlertColumns+` FROM alerts WHERE status = 'FAILED' ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
}

const selectAlertColumns = `SELECT id, incident_id, alert_type, destination, status,
	attempts, sent_at, error_message, created_at`

func (s *SQLiteAlertStore) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]core.Alert, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []core.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

func scanAlert(scanner rowScanner) (*core.Alert, error) {
	var alert core.Alert
	var sentAt sql.NullTime
	var errorMessage sql.NullString

	err := scanner.Scan(&alert.ID, &alert.IncidentID, &alert.AlertType, &alert.Destination,
		&alert.Status, &alert.Attempts, &sentAt, &errorMessage, &alert.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}

	alert.ErrorMessage = errorMessage.String
	if sentAt.Valid {
		t := sentAt.Time
		alert.SentAt = &t
	}
	return &alert, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
