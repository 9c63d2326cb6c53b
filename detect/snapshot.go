// Package detect evaluates scored log records against the active detection
// rule set and emits rule-match events for correlation.
package detect

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"securiwatch/core"
	"securiwatch/metrics"
	"securiwatch/storage"

	"go.uber.org/zap"
)

// compiledRule pairs a rule with its parsed predicate tree.
type compiledRule struct {
	rule core.DetectionRule
	pred core.Predicate
}

// Snapshot is an immutable view of the active rule set. Evaluators read the
// current snapshot without locking; reloads swap in a fresh one atomically
// so every record sees a consistent rule set.
type Snapshot struct {
	rules   []compiledRule
	BuiltAt time.Time
}

// Len returns the number of usable rules in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.rules)
}

// Loader builds rule snapshots from storage on a cadence or on demand.
type Loader struct {
	store    storage.RuleStore
	current  atomic.Pointer[Snapshot]
	interval time.Duration
	logger   *zap.SugaredLogger
}

// NewLoader creates a Loader. Call Reload once before evaluating so the
// first snapshot exists; a zero interval disables the periodic reloader.
func NewLoader(store storage.RuleStore, interval time.Duration, logger *zap.SugaredLogger) *Loader {
	l := &Loader{
		store:    store,
		interval: interval,
		logger:   logger,
	}
	l.current.Store(&Snapshot{BuiltAt: time.Now().UTC()})
	return l
}

// Snapshot returns the current rule snapshot.
func (l *Loader) Snapshot() *Snapshot {
	return l.current.Load()
}

// Reload fetches enabled rules and swaps in a new snapshot. A rule whose
// condition document fails to parse is logged and skipped for this cycle;
// the remaining rules still load. Only a storage failure aborts the reload,
// leaving the previous snapshot in place.
func (l *Loader) Reload(ctx context.Context) error {
	rules, err := l.store.GetEnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled rules: %w", err)
	}

	snapshot := &Snapshot{
		rules:   make([]compiledRule, 0, len(rules)),
		BuiltAt: time.Now().UTC(),
	}
	for i := range rules {
		rule := rules[i]
		pred, err := core.ParseCondition(rule.ID, rule.Condition)
		if err != nil {
			var cfgErr *core.RuleConfigError
			if errors.As(err, &cfgErr) {
				metrics.RuleConfigErrors.Inc()
				l.logger.Errorw("Skipping rule with invalid condition document",
					"rule_id", rule.ID, "rule_name", rule.Name, "error", err)
				continue
			}
			return err
		}
		snapshot.rules = append(snapshot.rules, compiledRule{rule: rule, pred: pred})
	}

	l.current.Store(snapshot)
	l.logger.Infow("Rule snapshot reloaded", "rules", len(snapshot.rules), "skipped", len(rules)-len(snapshot.rules))
	return nil
}

// Run reloads the snapshot on the configured cadence until ctx is done.
func (l *Loader) Run(ctx context.Context) {
	if l.interval <= 0 {
		return
	}
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Reload(ctx); err != nil {
				l.logger.Errorw("Rule snapshot reload failed, keeping previous snapshot", "error", err)
			}
		}
	}
}
