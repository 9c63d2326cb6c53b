package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the database connections. Separate read and write pools
// leverage WAL mode's concurrency model: unlimited concurrent readers plus
// exactly one writer.
type SQLite struct {
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	Logger  *zap.SugaredLogger
}

// configureConnection sets up WAL mode, foreign keys and busy timeout for a
// connection pool.
func configureConnection(db *sql.DB, dbPath string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite disables foreign keys by default; the incident_logs table
	// relies on them.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Busy timeout prevents immediate SQLITE_BUSY under writer contention.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	// In-memory databases report "memory", not "wal".
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s)", journalMode)
	}

	return nil
}

// NewSQLite opens the database and configures the read and write pools.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if dbPath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// In-memory databases need shared cache so both pools see one database.
	actualPath := dbPath
	if dbPath == ":memory:" {
		actualPath = "file::memory:?cache=shared"
	}

	writeDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}
	if err := configureConnection(writeDB, dbPath); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}
	// WAL mode requires exactly one writer at a time.
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)
	writeDB.SetConnMaxIdleTime(10 * time.Minute)

	readDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}
	if err := configureConnection(readDB, dbPath); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(0)
	readDB.SetConnMaxIdleTime(10 * time.Minute)

	logger.Infow("SQLite storage opened", "path", dbPath)

	s := &SQLite{
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}

	if err := s.migrate(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes both connection pools.
func (s *SQLite) Close() error {
	var firstErr error
	if err := s.WriteDB.Close(); err != nil {
		firstErr = err
	}
	if err := s.ReadDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure. modernc.org/sqlite does not export a typed error for this.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
