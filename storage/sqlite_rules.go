package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"securiwatch/core"
)

// SQLiteRuleStore implements RuleStore on SQLite. Condition documents are
// stored as JSON text and parsed lazily by the evaluator so a bad document
// never breaks rule listing.
type SQLiteRuleStore struct {
	db *SQLite
}

// NewSQLiteRuleStore creates a rule store backed by the given database.
func NewSQLiteRuleStore(db *SQLite) *SQLiteRuleStore {
	return &SQLiteRuleStore{db: db}
}

// GetEnabledRules returns the active rule set for evaluation snapshots.
func (s *SQLiteRuleStore) GetEnabledRules(ctx context.Context) ([]core.DetectionRule, error) {
	return s.queryRules(ctx, selectRuleColumns+` FROM detection_rules WHERE enabled = 1 ORDER BY id`)
}

// GetAllRules returns every rule regardless of enabled state.
func (s *SQLiteRuleStore) GetAllRules(ctx context.Context) ([]core.DetectionRule, error) {
	return s.queryRules(ctx, selectRuleColumns+` FROM detection_rules ORDER BY id`)
}

// GetRule fetches a rule by ID.
func (s *SQLiteRuleStore) GetRule(ctx context.Context, id string) (*core.DetectionRule, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, selectRuleColumns+` FROM detection_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

// CreateRule inserts a rule.
func (s *SQLiteRuleStore) CreateRule(ctx context.Context, rule *core.DetectionRule) error {
	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	_, err = s.db.WriteDB.ExecContext(ctx, `
		INSERT INTO detection_rules (id, name, type, description, condition, severity, enabled,
			window_seconds, group_by, threshold, base_confidence, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Name, rule.Type, rule.Description, string(condition), string(rule.Severity),
		boolToInt(rule.Enabled), int64(rule.Window.Seconds()), strings.Join(rule.GroupBy, ","),
		rule.Threshold, rule.BaseConfidence, rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRule
		}
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// UpdateRule replaces the rule's condition document and metadata, bumping
// updated_at. Rules are versionless.
func (s *SQLiteRuleStore) UpdateRule(ctx context.Context, id string, rule *core.DetectionRule) error {
	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}
	result, err := s.db.WriteDB.ExecContext(ctx, `
		UPDATE detection_rules
		SET name = ?, type = ?, description = ?, condition = ?, severity = ?, enabled = ?,
			window_seconds = ?, group_by = ?, threshold = ?, base_confidence = ?, updated_at = ?
		WHERE id = ?`,
		rule.Name, rule.Type, rule.Description, string(condition), string(rule.Severity),
		boolToInt(rule.Enabled), int64(rule.Window.Seconds()), strings.Join(rule.GroupBy, ","),
		rule.Threshold, rule.BaseConfidence, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return requireRowAffected(result, ErrRuleNotFound)
}

// SetRuleEnabled toggles the active flag.
func (s *SQLiteRuleStore) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.WriteDB.ExecContext(ctx,
		`UPDATE detection_rules SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(enabled), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update rule enabled flag: %w", err)
	}
	return requireRowAffected(result, ErrRuleNotFound)
}

const selectRuleColumns = `SELECT id, name, type, description, condition, severity, enabled,
	window_seconds, group_by, threshold, base_confidence, created_by, created_at, updated_at`

func (s *SQLiteRuleStore) queryRules(ctx context.Context, query string, args ...interface{}) ([]core.DetectionRule, error) {
	rows, err := s.db.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []core.DetectionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func scanRule(scanner rowScanner) (*core.DetectionRule, error) {
	var rule core.DetectionRule
	var description, groupBy, createdBy sql.NullString
	var condition string
	var enabled, windowSeconds int64

	err := scanner.Scan(&rule.ID, &rule.Name, &rule.Type, &description, &condition,
		&rule.Severity, &enabled, &windowSeconds, &groupBy, &rule.Threshold,
		&rule.BaseConfidence, &createdBy, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	rule.Description = description.String
	rule.CreatedBy = createdBy.String
	rule.Enabled = enabled != 0
	rule.Window = time.Duration(windowSeconds) * time.Second
	if groupBy.String != "" {
		rule.GroupBy = strings.Split(groupBy.String, ",")
	}
	if err := json.Unmarshal([]byte(condition), &rule.Condition); err != nil {
		// Surface the raw text through an empty map; the evaluator reports
		// a RuleConfigError when it tries to compile the condition.
		rule.Condition = nil
	}
	return &rule, nil
}

func requireRowAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
