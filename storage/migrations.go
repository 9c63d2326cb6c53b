package storage

import "fmt"

// migrate creates the schema. Statements are idempotent so startup is safe
// against an existing database.
func (s *SQLite) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS logs (
			id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL UNIQUE,
			timestamp TIMESTAMP NOT NULL,
			hostname TEXT,
			process TEXT,
			pid INTEGER,
			event_type TEXT NOT NULL,
			user_name TEXT,
			ip_address TEXT,
			message TEXT,
			risk_score INTEGER NOT NULL DEFAULT 0,
			low_confidence INTEGER NOT NULL DEFAULT 0,
			raw_log TEXT,
			collected_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_event_type ON logs(event_type)`,

		`CREATE TABLE IF NOT EXISTS detection_rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			description TEXT,
			condition TEXT NOT NULL,
			severity TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			window_seconds INTEGER NOT NULL DEFAULT 0,
			group_by TEXT,
			threshold INTEGER NOT NULL DEFAULT 0,
			base_confidence REAL NOT NULL DEFAULT 0,
			created_by TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			event_type TEXT NOT NULL DEFAULT '',
			affected_user TEXT NOT NULL DEFAULT '',
			source_ip TEXT NOT NULL DEFAULT '',
			detection_method TEXT NOT NULL DEFAULT '',
			confidence_score REAL NOT NULL DEFAULT 0,
			related_logs_count INTEGER NOT NULL DEFAULT 0,
			detected_at TIMESTAMP NOT NULL,
			resolved_at TIMESTAMP,
			assigned_to TEXT,
			notes TEXT,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_key
			ON incidents(event_type, affected_user, source_ip, detection_method)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_detected_at ON incidents(detected_at)`,

		`CREATE TABLE IF NOT EXISTS incident_logs (
			incident_id TEXT NOT NULL REFERENCES incidents(id),
			log_id TEXT NOT NULL REFERENCES logs(id),
			linked_at TIMESTAMP NOT NULL,
			PRIMARY KEY (incident_id, log_id)
		)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			incident_id TEXT NOT NULL REFERENCES incidents(id),
			alert_type TEXT NOT NULL,
			destination TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			sent_at TIMESTAMP,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_incident ON alerts(incident_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)`,
	}

	for _, stmt := range statements {
		if _, err := s.WriteDB.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
