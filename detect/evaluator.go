package detect

import (
	"fmt"
	"strings"
	"time"

	"securiwatch/core"
	"securiwatch/metrics"

	"go.uber.org/zap"
)

// Evaluator matches each scored, newly normalized record against the
// current rule snapshot. Evaluation of one record against one rule is
// deterministic and side-effect-free except for window bookkeeping.
type Evaluator struct {
	loader  *Loader
	windows *windowStore
	logger  *zap.SugaredLogger
}

// NewEvaluator creates an Evaluator reading snapshots from the loader.
func NewEvaluator(loader *Loader, logger *zap.SugaredLogger) *Evaluator {
	return &Evaluator{
		loader:  loader,
		windows: newWindowStore(),
		logger:  logger,
	}
}

// Evaluate runs the record through every rule in the active snapshot and
// returns the resulting match events. A fault in one rule is isolated: it
// is logged and the remaining rules still evaluate.
func (e *Evaluator) Evaluate(record *core.LogRecord) []*core.RuleMatchEvent {
	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	snapshot := e.loader.Snapshot()
	var matches []*core.RuleMatchEvent

	for i := range snapshot.rules {
		compiled := &snapshot.rules[i]
		matched := e.evaluateRule(compiled, record)
		if matched {
			metrics.RuleMatches.WithLabelValues(compiled.rule.Name).Inc()
			matches = append(matches, core.NewRuleMatchEvent(&compiled.rule, record))
		}
	}
	return matches
}

// evaluateRule applies one rule to one record, recovering from any panic so
// a single bad rule cannot take down evaluation of the rest.
func (e *Evaluator) evaluateRule(compiled *compiledRule, record *core.LogRecord) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("Rule evaluation panicked, skipping rule for this record",
				"rule_id", compiled.rule.ID, "record_id", record.ID, "panic", r)
			matched = false
		}
	}()

	if !compiled.pred.Eval(record) {
		return false
	}
	if !compiled.rule.IsWindowed() {
		return true
	}

	// Stateful rule: the predicate selects candidate records; the match
	// fires only when the window for this grouping key reaches the
	// threshold.
	key := windowKey(&compiled.rule, record)
	count := e.windows.Observe(key, record.Timestamp, compiled.rule.Window)
	threshold := compiled.rule.Threshold
	if threshold <= 0 {
		threshold = 1
	}
	return count >= threshold
}

// windowKey builds the grouping key for a stateful rule. Fields absent on
// the record contribute an empty component.
func windowKey(rule *core.DetectionRule, record *core.LogRecord) string {
	parts := make([]string, 0, len(rule.GroupBy)+1)
	parts = append(parts, rule.ID)
	for _, field := range rule.GroupBy {
		value, present := record.Field(field)
		if !present {
			parts = append(parts, "")
			continue
		}
		parts = append(parts, valueKey(value))
	}
	return strings.Join(parts, "|")
}

func valueKey(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// WindowSize reports the total tracked window entries, for diagnostics.
func (e *Evaluator) WindowSize() int {
	return e.windows.Size()
}
