package core

import (
	"sync"
	"time"
)

// EngineStats is a point-in-time snapshot of the engine's counters, read
// once per day by the external rollup aggregator. The engine does not
// compute the rollup itself.
type EngineStats struct {
	LogsProcessed    int64     `json:"logs_processed"`
	LogsDeduplicated int64     `json:"logs_deduplicated"`
	IncidentsOpened  int64     `json:"incidents_opened"`
	HighRiskEvents   int64     `json:"high_risk_events"`
	DistinctUsers    int       `json:"distinct_users"`
	DistinctIPs      int       `json:"distinct_ips"`
	Since            time.Time `json:"since"`
}

// StatsTracker accumulates engine counters plus distinct user and IP sets.
// All methods are safe for concurrent use.
type StatsTracker struct {
	mu               sync.RWMutex
	logsProcessed    int64
	logsDeduplicated int64
	incidentsOpened  int64
	highRiskEvents   int64
	users            map[string]struct{}
	ips              map[string]struct{}
	since            time.Time
}

// HighRiskThreshold is the risk score at or above which a log counts as a
// high-risk event in the daily stats.
const HighRiskThreshold = 7

// NewStatsTracker creates an empty tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{
		users: make(map[string]struct{}),
		ips:   make(map[string]struct{}),
		since: time.Now().UTC(),
	}
}

// RecordLog accounts a newly processed (non-duplicate) record.
func (t *StatsTracker) RecordLog(r *LogRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logsProcessed++
	if r.RiskScore >= HighRiskThreshold {
		t.highRiskEvents++
	}
	if r.UserName != "" {
		t.users[r.UserName] = struct{}{}
	}
	if r.IPAddress != "" {
		t.ips[r.IPAddress] = struct{}{}
	}
}

// RecordDuplicate accounts a deduplicated submission.
func (t *StatsTracker) RecordDuplicate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logsDeduplicated++
}

// RecordIncidentOpened accounts a newly created incident.
func (t *StatsTracker) RecordIncidentOpened() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.incidentsOpened++
}

// Snapshot returns the current counters.
func (t *StatsTracker) Snapshot() EngineStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return EngineStats{
		LogsProcessed:    t.logsProcessed,
		LogsDeduplicated: t.logsDeduplicated,
		IncidentsOpened:  t.incidentsOpened,
		HighRiskEvents:   t.highRiskEvents,
		DistinctUsers:    len(t.users),
		DistinctIPs:      len(t.ips),
		Since:            t.since,
	}
}

// Reset clears the counters, typically after the daily aggregator has read
// them.
func (t *StatsTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logsProcessed = 0
	t.logsDeduplicated = 0
	t.incidentsOpened = 0
	t.highRiskEvents = 0
	t.users = make(map[string]struct{})
	t.ips = make(map[string]struct{})
	t.since = time.Now().UTC()
}
