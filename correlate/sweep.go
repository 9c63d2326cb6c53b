package correlate

import (
	"context"
	"fmt"
	"time"

	"securiwatch/core"
)

// Sweeper implements the auto-resolve policy: incidents with no new
// matching logs for the idle duration are closed as RESOLVED. The sweep is
// explicit and separately triggered - never a side effect of ingestion.
type Sweeper struct {
	correlator *Correlator
	idleAfter  time.Duration
}

// NewSweeper creates a Sweeper. idleAfter is how long an open incident may
// go without updates before auto-resolution.
func NewSweeper(correlator *Correlator, idleAfter time.Duration) *Sweeper {
	return &Sweeper{correlator: correlator, idleAfter: idleAfter}
}

// Sweep closes stale open incidents and returns how many were resolved.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.idleAfter)
	stale, err := s.correlator.incidents.GetStaleOpenIncidents(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale incidents: %w", err)
	}

	resolved := 0
	for i := range stale {
		incident := &stale[i]
		// Serialize against live appends for the same key.
		lock := s.correlator.keyLock(incident.CorrelationKey())
		lock.Lock()
		err := s.correlator.incidents.CloseIncident(ctx, incident.ID, core.IncidentStatusResolved)
		lock.Unlock()
		if err != nil {
			s.correlator.logger.Errorw("Auto-resolve failed for incident",
				"incident_id", incident.ID, "error", err)
			continue
		}
		resolved++
		s.correlator.logger.Infow("Incident auto-resolved",
			"incident_id", incident.ID, "idle_since", incident.UpdatedAt)
	}
	return resolved, nil
}

// Run triggers the sweep on the given cadence until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.correlator.logger.Errorw("Auto-resolve sweep failed", "error", err)
			}
		}
	}
}
