// Package correlate consumes rule-match events and maintains incident
// state: each match either appends to the open incident for its correlation
// key or opens a new one.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"securiwatch/core"
	"securiwatch/metrics"
	"securiwatch/storage"

	"go.uber.org/zap"
)

// keyShardCount stripes the per-correlation-key locks. State transitions
// for one key are serialized; different keys proceed in parallel.
const keyShardCount = 64

// createRetryLimit bounds transparent retries when a conditional create
// races another worker. One retry suffices in practice: after losing the
// race an open incident necessarily exists.
const createRetryLimit = 3

// Outcome reports what one match did to incident state.
type Outcome struct {
	Incident *core.Incident
	Created  bool
	// Escalated is true when an append raised the incident's severity.
	Escalated bool
}

// Notification is delivered to the dispatcher when an incident is created
// or escalates.
type Notification struct {
	Incident  *core.Incident
	Created   bool
	Escalated bool
}

// Correlator owns incident lifecycle decisions. It is the only component
// with long-lived mutable state, all of it behind the storage boundary and
// the per-key locks.
type Correlator struct {
	incidents storage.IncidentStore
	window    time.Duration
	stats     *core.StatsTracker
	notifyCh  chan<- Notification
	locks     [keyShardCount]sync.Mutex
	logger    *zap.SugaredLogger
}

// NewCorrelator creates a Correlator. notifyCh may be nil when no
// dispatcher is wired (tests); window defaults to 24h when zero.
func NewCorrelator(incidents storage.IncidentStore, window time.Duration, stats *core.StatsTracker, notifyCh chan<- Notification, logger *zap.SugaredLogger) *Correlator {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Correlator{
		incidents: incidents,
		window:    window,
		stats:     stats,
		notifyCh:  notifyCh,
		logger:    logger,
	}
}

// Process applies one rule-match event to incident state. The append-or-
// create decision runs under the per-key lock and is additionally guarded
// by the storage layer's conditional insert, so concurrent matches for one
// key can never open two incidents.
func (c *Correlator) Process(ctx context.Context, match *core.RuleMatchEvent) (*Outcome, error) {
	lock := c.keyLock(match.Key)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 0; attempt < createRetryLimit; attempt++ {
		outcome, err := c.appendOrCreate(ctx, match)
		if err == nil {
			c.notify(outcome)
			return outcome, nil
		}
		if !errors.Is(err, core.ErrCorrelationConflict) {
			return nil, err
		}
		// Lost a create race; the next iteration finds the winner and
		// appends to it.
		lastErr = err
	}
	return nil, fmt.Errorf("append-or-create did not converge for key %s: %w", match.Key, lastErr)
}

func (c *Correlator) appendOrCreate(ctx context.Context, match *core.RuleMatchEvent) (*Outcome, error) {
	since := match.MatchedAt.Add(-c.window)

	incident, err := c.incidents.FindOpenIncident(ctx, match.Key, since)
	switch {
	case err == nil:
		return c.append(ctx, incident, match)
	case errors.Is(err, storage.ErrIncidentNotFound):
		return c.create(ctx, match, since)
	default:
		return nil, fmt.Errorf("failed to look up open incident: %w", err)
	}
}

// append links the log and raises severity and confidence. Severity never
// decreases; confidence is non-decreasing in the related-log count.
func (c *Correlator) append(ctx context.Context, incident *core.Incident, match *core.RuleMatchEvent) (*Outcome, error) {
	newSeverity := core.MaxSeverity(incident.Severity, match.Rule.Severity)
	escalated := newSeverity.Rank() > incident.Severity.Rank()
	newCount := incident.RelatedLogsCount + 1
	base := match.Rule.EffectiveConfidence()
	if incident.ConfidenceScore > base {
		base = incident.ConfidenceScore
	}
	confidence := core.ConfidenceForCount(base, newCount)
	if confidence < incident.ConfidenceScore {
		confidence = incident.ConfidenceScore
	}

	err := c.incidents.AppendLog(ctx, incident.ID, match.Record.ID, newSeverity, confidence)
	if errors.Is(err, storage.ErrLogAlreadyLinked) {
		// Same log matched the same incident twice (e.g. two rules sharing
		// a correlation key); idempotent, count unchanged.
		return &Outcome{Incident: incident}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append log to incident %s: %w", incident.ID, err)
	}

	incident.RelatedLogsCount = newCount
	incident.Severity = newSeverity
	incident.ConfidenceScore = confidence
	metrics.IncidentAppends.Inc()

	return &Outcome{Incident: incident, Escalated: escalated}, nil
}

func (c *Correlator) create(ctx context.Context, match *core.RuleMatchEvent, since time.Time) (*Outcome, error) {
	incident := core.NewIncident(match)

	err := c.incidents.CreateIncident(ctx, incident, match.Record.ID, since)
	if errors.Is(err, storage.ErrOpenIncidentExists) {
		return nil, core.ErrCorrelationConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}

	metrics.IncidentsOpened.WithLabelValues(string(incident.Severity)).Inc()
	if c.stats != nil {
		c.stats.RecordIncidentOpened()
	}
	c.logger.Infow("Incident opened",
		"incident_id", incident.ID, "rule", match.Rule.Name,
		"severity", incident.Severity, "key", match.Key.String())

	return &Outcome{Incident: incident, Created: true}, nil
}

func (c *Correlator) notify(outcome *Outcome) {
	if c.notifyCh == nil || (!outcome.Created && !outcome.Escalated) {
		return
	}
	select {
	case c.notifyCh <- Notification{Incident: outcome.Incident, Created: outcome.Created, Escalated: outcome.Escalated}:
	default:
		// Dispatcher backlog is full; alerting is best-effort beyond the
		// persisted incident, which remains the source of truth.
		c.logger.Warnw("Dropping dispatcher notification, channel full", "incident_id", outcome.Incident.ID)
	}
}

func (c *Correlator) keyLock(key core.CorrelationKey) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return &c.locks[h.Sum32()%keyShardCount]
}
