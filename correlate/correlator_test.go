package correlate

import (
	"context"
	"sync"
	"testing"
	"time"

	"securiwatch/core"
	"securiwatch/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockIncidentStore is an in-memory IncidentStore with the same conditional
// create semantics as the SQLite layer.
type mockIncidentStore struct {
	mu        sync.Mutex
	incidents map[string]*core.Incident
	links     map[string]map[string]struct{}
}

func newMockIncidentStore() *mockIncidentStore {
	return &mockIncidentStore{
		incidents: make(map[string]*core.Incident),
		links:     make(map[string]map[string]struct{}),
	}
}

func (m *mockIncidentStore) findOpenLocked(key core.CorrelationKey, since time.Time) *core.Incident {
	for _, incident := range m.incidents {
		if incident.Status.IsTerminal() {
			continue
		}
		if incident.CorrelationKey() == key && !incident.DetectedAt.Before(since) {
			return incident
		}
	}
	return nil
}

func (m *mockIncidentStore) CreateIncident(ctx context.Context, incident *core.Incident, logID string, since time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findOpenLocked(incident.CorrelationKey(), since) != nil {
		return storage.ErrOpenIncidentExists
	}
	stored := *incident
	m.incidents[incident.ID] = &stored
	m.links[incident.ID] = map[string]struct{}{logID: {}}
	return nil
}

func (m *mockIncidentStore) FindOpenIncident(ctx context.Context, key core.CorrelationKey, since time.Time) (*core.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if incident := m.findOpenLocked(key, since); incident != nil {
		copied := *incident
		return &copied, nil
	}
	return nil, storage.ErrIncidentNotFound
}

func (m *mockIncidentStore) AppendLog(ctx context.Context, incidentID, logID string, severity core.Severity, confidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[incidentID]
	if !ok {
		return storage.ErrIncidentNotFound
	}
	if _, linked := m.links[incidentID][logID]; linked {
		return storage.ErrLogAlreadyLinked
	}
	m.links[incidentID][logID] = struct{}{}
	incident.RelatedLogsCount++
	incident.Severity = severity
	incident.ConfidenceScore = confidence
	incident.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockIncidentStore) GetIncident(ctx context.Context, id string) (*core.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[id]
	if !ok {
		return nil, storage.ErrIncidentNotFound
	}
	copied := *incident
	return &copied, nil
}

func (m *mockIncidentStore) GetIncidents(ctx context.Context, limit, offset int) ([]core.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Incident, 0, len(m.incidents))
	for _, incident := range m.incidents {
		out = append(out, *incident)
	}
	return out, nil
}

func (m *mockIncidentStore) UpdateOperatorFields(ctx context.Context, id string, status core.IncidentStatus, assignedTo, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[id]
	if !ok {
		return storage.ErrIncidentNotFound
	}
	incident.Status = status
	incident.AssignedTo = assignedTo
	incident.Notes = notes
	return nil
}

func (m *mockIncidentStore) GetStaleOpenIncidents(ctx context.Context, cutoff time.Time) ([]core.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []core.Incident
	for _, incident := range m.incidents {
		if !incident.Status.IsTerminal() && incident.UpdatedAt.Before(cutoff) {
			stale = append(stale, *incident)
		}
	}
	return stale, nil
}

func (m *mockIncidentStore) CloseIncident(ctx context.Context, id string, status core.IncidentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[id]
	if !ok {
		return storage.ErrIncidentNotFound
	}
	incident.Status = status
	now := time.Now().UTC()
	incident.ResolvedAt = &now
	return nil
}

func (m *mockIncidentStore) CountLinks(ctx context.Context, incidentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.links[incidentID])), nil
}

func (m *mockIncidentStore) GetLinkedLogIDs(ctx context.Context, incidentID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.links[incidentID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func matchFor(rule *core.DetectionRule, logID string, at time.Time) *core.RuleMatchEvent {
	record := &core.LogRecord{
		ID:        logID,
		Timestamp: at,
		EventType: "AUTH_FAILURE",
		UserName:  "alice",
		IPAddress: "203.0.113.7",
	}
	match := core.NewRuleMatchEvent(rule, record)
	match.MatchedAt = at
	return match
}

func bruteForceRule(severity core.Severity) *core.DetectionRule {
	return &core.DetectionRule{
		ID:             "rule-1",
		Name:           "brute-force-ssh",
		Type:           core.RuleTypeSequence,
		Severity:       severity,
		BaseConfidence: 0.6,
	}
}

func newTestCorrelator(store storage.IncidentStore, notifyCh chan<- Notification) *Correlator {
	return NewCorrelator(store, 24*time.Hour, core.NewStatsTracker(), notifyCh, zap.NewNop().Sugar())
}

func TestProcess_FirstMatchOpensIncident(t *testing.T) {
	store := newMockIncidentStore()
	c := newTestCorrelator(store, nil)

	outcome, err := c.Process(context.Background(), matchFor(bruteForceRule(core.SeverityHigh), "log-1", time.Now().UTC()))
	require.NoError(t, err)
	assert.True(t, outcome.Created)
	assert.Equal(t, core.IncidentStatusOpen, outcome.Incident.Status)
	assert.Equal(t, 1, outcome.Incident.RelatedLogsCount)

	links, _ := store.CountLinks(context.Background(), outcome.Incident.ID)
	assert.Equal(t, int64(1), links)
}

func TestProcess_SecondMatchAppendsToOpenIncident(t *testing.T) {
	store := newMockIncidentStore()
	c := newTestCorrelator(store, nil)
	rule := bruteForceRule(core.SeverityHigh)
	now := time.Now().UTC()

	first, err := c.Process(context.Background(), matchFor(rule, "log-1", now))
	require.NoError(t, err)
	second, err := c.Process(context.Background(), matchFor(rule, "log-2", now.Add(time.Minute)))
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Incident.ID, second.Incident.ID)
	assert.Equal(t, 2, second.Incident.RelatedLogsCount)

	incidents, _ := store.GetIncidents(context.Background(), 100, 0)
	assert.Len(t, incidents, 1)

	// Count always equals the number of linked logs.
	links, _ := store.CountLinks(context.Background(), first.Incident.ID)
	assert.Equal(t, int64(2), links)
}

func TestProcess_NewIncidentAfterWindowElapses(t *testing.T) {
	store := newMockIncidentStore()
	c := newTestCorrelator(store, nil)
	rule := bruteForceRule(core.SeverityHigh)
	now := time.Now().UTC()

	first, err := c.Process(context.Background(), matchFor(rule, "log-1", now.Add(-30*time.Hour)))
	require.NoError(t, err)
	// Make the old incident's detection time fall outside the window.
	store.mu.Lock()
	store.incidents[first.Incident.ID].DetectedAt = now.Add(-30 * time.Hour)
	store.mu.Unlock()

	second, err := c.Process(context.Background(), matchFor(rule, "log-2", now))
	require.NoError(t, err)
	assert.True(t, second.Created)
	assert.NotEqual(t, first.Incident.ID, second.Incident.ID)
}

func TestProcess_SeverityNeverDecreases(t *testing.T) {
	store := newMockIncidentStore()
	c := newTestCorrelator(store, nil)
	now := time.Now().UTC()

	critical := bruteForceRule(core.SeverityCritical)
	first, err := c.Process(context.Background(), matchFor(critical, "log-1", now))
	require.NoError(t, err)
	require.Equal(t, core.SeverityCritical, first.Incident.Severity)

	// A lower-severity rule sharing the correlation key must not demote.
	low := bruteForceRule(core.SeverityLow)
	low.ID = "rule-2"
	second, err := c.Process(context.Background(), matchFor(low, "log-2", now.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, core.SeverityCritical, second.Incident.Severity)
	assert.False(t, second.Escalated)
}

func TestProcess_SeverityEscalation(t *testing.T) {
	store := newMockIncidentStore()
	notifyCh := make(chan Notification, 4)
	c := newTestCorrelator(store, notifyCh)
	now := time.Now().UTC()

	medium := bruteForceRule(core.SeverityMedium)
	_, err := c.Process(context.Background(), matchFor(medium, "log-1", now))
	require.NoError(t, err)

	critical := bruteForceRule(core.SeverityCritical)
	critical.ID = "rule-2"
	outcome, err := c.Process(context.Background(), matchFor(critical, "log-2", now.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, outcome.Escalated)
	assert.Equal(t, core.SeverityCritical, outcome.Incident.Severity)

	// Both the creation and the escalation produce notifications.
	require.Len(t, notifyCh, 2)
	created := <-notifyCh
	assert.True(t, created.Created)
	escalated := <-notifyCh
	assert.True(t, escalated.Escalated)
}

func TestProcess_ConfidenceNonDecreasing(t *testing.T) {
	store := newMockIncidentStore()
	c := newTestCorrelator(store, nil)
	rule := bruteForceRule(core.SeverityHigh)
	now := time.Now().UTC()

	prev := 0.0
	for i := 0; i < 10; i++ {
		outcome, err := c.Process(context.Background(), matchFor(rule, fmtLogID(i), now.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, outcome.Incident.ConfidenceScore, prev)
		assert.LessOrEqual(t, outcome.Incident.ConfidenceScore, 0.99)
		prev = outcome.Incident.ConfidenceScore
	}
}

func fmtLogID(i int) string {
	return "log-" + string(rune('a'+i))
}

func TestProcess_SameLogTwiceIsIdempotent(t *testing.T) {
	store := newMockIncidentStore()
	c := newTestCorrelator(store, nil)
	rule := bruteForceRule(core.SeverityHigh)
	now := time.Now().UTC()

	_, err := c.Process(context.Background(), matchFor(rule, "log-1", now))
	require.NoError(t, err)
	outcome, err := c.Process(context.Background(), matchFor(rule, "log-1", now))
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Incident.RelatedLogsCount)
	links, _ := store.CountLinks(context.Background(), outcome.Incident.ID)
	assert.Equal(t, int64(1), links)
}

func TestProcess_ConcurrentMatchesOneIncident(t *testing.T) {
	store := newMockIncidentStore()
	c := newTestCorrelator(store, nil)
	rule := bruteForceRule(core.SeverityHigh)
	now := time.Now().UTC()

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Process(context.Background(), matchFor(rule, fmtLogID(i), now))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	incidents, _ := store.GetIncidents(context.Background(), 100, 0)
	require.Len(t, incidents, 1)
	assert.Equal(t, workers, incidents[0].RelatedLogsCount)

	links, _ := store.CountLinks(context.Background(), incidents[0].ID)
	assert.Equal(t, int64(workers), links)
}

func TestSweeper_ResolvesStaleIncidents(t *testing.T) {
	store := newMockIncidentStore()
	c := newTestCorrelator(store, nil)
	rule := bruteForceRule(core.SeverityHigh)

	outcome, err := c.Process(context.Background(), matchFor(rule, "log-1", time.Now().UTC()))
	require.NoError(t, err)

	// Age the incident past the idle threshold.
	store.mu.Lock()
	store.incidents[outcome.Incident.ID].UpdatedAt = time.Now().UTC().Add(-8 * 24 * time.Hour)
	store.mu.Unlock()

	sweeper := NewSweeper(c, 7*24*time.Hour)
	resolved, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	incident, err := store.GetIncident(context.Background(), outcome.Incident.ID)
	require.NoError(t, err)
	assert.Equal(t, core.IncidentStatusResolved, incident.Status)
	assert.NotNil(t, incident.ResolvedAt)
}

func TestSweeper_LeavesFreshIncidentsOpen(t *testing.T) {
	store := newMockIncidentStore()
	c := newTestCorrelator(store, nil)
	rule := bruteForceRule(core.SeverityHigh)

	outcome, err := c.Process(context.Background(), matchFor(rule, "log-1", time.Now().UTC()))
	require.NoError(t, err)

	sweeper := NewSweeper(c, 7*24*time.Hour)
	resolved, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)

	incident, err := store.GetIncident(context.Background(), outcome.Incident.ID)
	require.NoError(t, err)
	assert.Equal(t, core.IncidentStatusOpen, incident.Status)
}
