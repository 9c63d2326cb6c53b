package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"securiwatch/core"
)

// SQLiteIncidentStore implements IncidentStore on SQLite.
type SQLiteIncidentStore struct {
	db *SQLite
}

// NewSQLiteIncidentStore creates an incident store backed by the given
// database.
func NewSQLiteIncidentStore(db *SQLite) *SQLiteIncidentStore {
	return &SQLiteIncidentStore{db: db}
}

// CreateIncident inserts the incident and its first log link in one
// transaction, conditional on no open incident existing for the correlation
// key within the window. The INSERT ... SELECT ... WHERE NOT EXISTS form
// makes the check-and-insert a single atomic statement under SQLite's
// single-writer model, so concurrent creates for one key cannot both
// succeed.
func (s *SQLiteIncidentStore) CreateIncident(ctx context.Context, incident *core.Incident, logID string, since time.Time) error {
	tx, err := s.db.WriteDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO incidents (id, title, description, severity, status, event_type,
			affected_user, source_ip, detection_method, confidence_score,
			related_logs_count, detected_at, assigned_to, notes, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?
		WHERE NOT EXISTS (
			SELECT 1 FROM incidents
			WHERE event_type = ? AND affected_user = ? AND source_ip = ? AND detection_method = ?
				AND status IN ('OPEN', 'INVESTIGATING')
				AND detected_at >= ?
		)`,
		incident.ID, incident.Title, incident.Description, string(incident.Severity),
		string(incident.Status), incident.EventType, incident.AffectedUser, incident.SourceIP,
		incident.DetectionMethod, incident.ConfidenceScore, incident.RelatedLogsCount,
		incident.DetectedAt.UTC(), incident.UpdatedAt.UTC(),
		incident.EventType, incident.AffectedUser, incident.SourceIP, incident.DetectionMethod,
		since.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert incident: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrOpenIncidentExists
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO incident_logs (incident_id, log_id, linked_at) VALUES (?, ?, ?)`,
		incident.ID, logID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert incident log link: %w", err)
	}

	return tx.Commit()
}

// FindOpenIncident returns the open incident for the key detected at or
// after `since`.
func (s *SQLiteIncidentStore) FindOpenIncident(ctx context.Context, key core.CorrelationKey, since time.Time) (*core.Incident, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, selectIncidentColumns+`
		FROM incidents
		WHERE event_type = ? AND affected_user = ? AND source_ip = ? AND detection_method = ?
			AND status IN ('OPEN', 'INVESTIGATING')
			AND detected_at >= ?
		ORDER BY detected_at DESC
		LIMIT 1`,
		key.EventType, key.UserName, key.IPAddress, key.DetectionMethod, since.UTC())
	incident, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIncidentNotFound
	}
	return incident, err
}

// AppendLog links the log and bumps the engine-owned columns in one
// transaction. Only count, severity, confidence and updated_at are written;
// operator-owned columns (status, assigned_to, notes) are untouched so a
// concurrent operator edit cannot be clobbered. A duplicate link is a no-op
// that leaves the count unchanged, preserving the count invariant.
func (s *SQLiteIncidentStore) AppendLog(ctx context.Context, incidentID, logID string, severity core.Severity, confidence float64) error {
	tx, err := s.db.WriteDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO incident_logs (incident_id, log_id, linked_at) VALUES (?, ?, ?)`,
		incidentID, logID, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrLogAlreadyLinked
		}
		return fmt.Errorf("failed to insert incident log link: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET related_logs_count = related_logs_count + 1,
			severity = ?,
			confidence_score = ?,
			updated_at = ?
		WHERE id = ?`,
		string(severity), confidence, time.Now().UTC(), incidentID)
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	if err := requireRowAffected(result, ErrIncidentNotFound); err != nil {
		return err
	}

	return tx.Commit()
}

// GetIncident fetches an incident by ID.
func (s *SQLiteIncidentStore) GetIncident(ctx context.Context, id string) (*core.Incident, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, selectIncidentColumns+` FROM incidents WHERE id = ?`, id)
	incident, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIncidentNotFound
	}
	return incident, err
}

// GetIncidents returns incidents ordered newest first.
func (s *SQLiteIncidentStore) GetIncidents(ctx context.Context, limit, offset int) ([]core.Incident, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.ReadDB.QueryContext(ctx,
		selectIncidentColumns+` FROM incidents ORDER BY detected_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var incidents []core.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, *incident)
	}
	return incidents, rows.Err()
}

// UpdateOperatorFields writes the operator-owned columns only.
func (s *SQLiteIncidentStore) UpdateOperatorFields(ctx context.Context, id string, status core.IncidentStatus, assignedTo, notes string) error {
	var resolvedAt interface{}
	if status.IsTerminal() {
		resolvedAt = time.Now().UTC()
	}
	result, err := s.db.WriteDB.ExecContext(ctx, `
		UPDATE incidents
		SET status = ?, assigned_to = ?, notes = ?,
			resolved_at = COALESCE(?, resolved_at),
			updated_at = ?
		WHERE id = ?`,
		string(status), assignedTo, notes, resolvedAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update incident operator fields: %w", err)
	}
	return requireRowAffected(result, ErrIncidentNotFound)
}

// GetStaleOpenIncidents returns open incidents not updated since `cutoff`.
func (s *SQLiteIncidentStore) GetStaleOpenIncidents(ctx context.Context, cutoff time.Time) ([]core.Incident, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx, selectIncidentColumns+`
		FROM incidents
		WHERE status IN ('OPEN', 'INVESTIGATING') AND updated_at < ?
		ORDER BY updated_at ASC`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var incidents []core.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, *incident)
	}
	return incidents, rows.Err()
}

// CloseIncident transitions an incident to a terminal status.
func (s *SQLiteIncidentStore) CloseIncident(ctx context.Context, id string, status core.IncidentStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("close requires a terminal status, got %s", status)
	}
	now := time.Now().UTC()
	result, err := s.db.WriteDB.ExecContext(ctx, `
		UPDATE incidents SET status = ?, resolved_at = ?, updated_at = ? WHERE id = ?`,
		string(status), now, now, id)
	if err != nil {
		return fmt.Errorf("failed to close incident: %w", err)
	}
	return requireRowAffected(result, ErrIncidentNotFound)
}

// CountLinks returns the number of incident-log links for an incident.
func (s *SQLiteIncidentStore) CountLinks(ctx context.Context, incidentID string) (int64, error) {
	var count int64
	err := s.db.ReadDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM incident_logs WHERE incident_id = ?`, incidentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count incident links: %w", err)
	}
	return count, nil
}

// GetLinkedLogIDs returns the IDs of logs linked to an incident.
func (s *SQLiteIncidentStore) GetLinkedLogIDs(ctx context.Context, incidentID string) ([]string, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx,
		`SELECT log_id FROM incident_logs WHERE incident_id = ? ORDER BY linked_at`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const selectIncidentColumns = `SELECT id, title, description, severity, status, event_type,
	affected_user, source_ip, detection_method, confidence_score, related_logs_count,
	detected_at, resolved_at, assigned_to, notes, updated_at`

func scanIncident(scanner rowScanner) (*core.Incident, error) {
	var incident core.Incident
	var description, assignedTo, notes sql.NullString
	var resolvedAt sql.NullTime

	err := scanner.Scan(&incident.ID, &incident.Title, &description, &incident.Severity,
		&incident.Status, &incident.EventType, &incident.AffectedUser, &incident.SourceIP,
		&incident.DetectionMethod, &incident.ConfidenceScore, &incident.RelatedLogsCount,
		&incident.DetectedAt, &resolvedAt, &assignedTo, &notes, &incident.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan incident: %w", err)
	}

	incident.Description = description.String
	incident.AssignedTo = assignedTo.String
	incident.Notes = notes.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		incident.ResolvedAt = &t
	}
	return &incident, nil
}
