package dispatch

import (
	"context"
	"sync"
	"time"

	"securiwatch/core"
	"securiwatch/correlate"
	"securiwatch/metrics"
	"securiwatch/storage"

	"go.uber.org/zap"
)

// backoffBase and backoffCap bound the exponential retry schedule:
// 1s, 2s, 4s, ... capped at 30s.
const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
)

// Dispatcher turns incident creations and severity escalations into alerts
// and drives their delivery state machine. Retries are timer-scheduled, not
// blocking, and cancellable per incident.
type Dispatcher struct {
	alerts       storage.AlertStore
	destinations []Destination
	threshold    core.Severity
	maxAttempts  int
	notifyCh     <-chan correlate.Notification
	logger       *zap.SugaredLogger

	mu      sync.Mutex
	cancels map[string][]context.CancelFunc // incident ID -> pending retry cancels

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates a Dispatcher. threshold defaults to HIGH and
// maxAttempts to 3 when unset.
func NewDispatcher(alerts storage.AlertStore, destinations []Destination, threshold core.Severity, maxAttempts int, notifyCh <-chan correlate.Notification, logger *zap.SugaredLogger) *Dispatcher {
	if !threshold.IsValid() {
		threshold = core.SeverityHigh
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	d := &Dispatcher{
		alerts:       alerts,
		destinations: destinations,
		threshold:    threshold,
		maxAttempts:  maxAttempts,
		notifyCh:     notifyCh,
		logger:       logger,
		cancels:      make(map[string][]context.CancelFunc),
	}
	// Usable before Start for direct Handle calls; Start re-derives from
	// the application context.
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start begins consuming notifications until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.run()
}

// Stop cancels pending retries and waits for in-flight attempts.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case notification, ok := <-d.notifyCh:
			if !ok {
				return
			}
			d.Handle(notification)
		}
	}
}

// Handle creates and delivers alerts for one incident notification.
// Escalations produce fresh alerts; an alert is never re-used for another
// notification.
func (d *Dispatcher) Handle(notification correlate.Notification) {
	incident := notification.Incident
	if !incident.Severity.AtLeast(d.threshold) {
		return
	}

	payload := NewPayload(incident, notification.Escalated)
	for _, destination := range d.destinations {
		if !incident.Severity.AtLeast(destination.MinSeverity()) {
			continue
		}

		alert := core.NewAlert(incident.ID, destination.Type(), destination.Name())
		if err := d.alerts.InsertAlert(d.ctx, alert); err != nil {
			d.logger.Errorw("Failed to persist alert",
				"incident_id", incident.ID, "destination", destination.Name(), "error", err)
			continue
		}
		d.attempt(alert, destination, payload)
	}
}

// attempt makes one delivery attempt and schedules a retry on failure.
func (d *Dispatcher) attempt(alert *core.Alert, destination Destination, payload *Payload) {
	err := destination.Deliver(d.ctx, payload)
	if err == nil {
		alert.MarkSent()
		metrics.AlertDeliveries.WithLabelValues("sent").Inc()
		if updateErr := d.alerts.UpdateAlert(d.ctx, alert); updateErr != nil {
			d.logger.Errorw("Failed to record alert delivery", "alert_id", alert.ID, "error", updateErr)
		}
		d.logger.Infow("Alert delivered", "alert_id", alert.ID, "destination", destination.Name())
		return
	}

	deliveryErr := &core.DeliveryError{
		AlertID:     alert.ID,
		Destination: destination.Name(),
		Attempt:     alert.Attempts + 1,
		Err:         err,
	}
	alert.MarkFailed(err.Error(), d.maxAttempts)

	if alert.Status == core.AlertStatusFailed {
		metrics.AlertDeliveries.WithLabelValues("failed").Inc()
		d.logger.Errorw("Alert delivery exhausted retries, surfacing for manual attention",
			"alert_id", alert.ID, "destination", destination.Name(), "error", deliveryErr)
	} else {
		metrics.AlertDeliveries.WithLabelValues("retry").Inc()
		d.logger.Warnw("Alert delivery failed, scheduling retry",
			"alert_id", alert.ID, "attempt", alert.Attempts, "error", deliveryErr)
	}

	if updateErr := d.alerts.UpdateAlert(d.ctx, alert); updateErr != nil {
		d.logger.Errorw("Failed to record alert failure", "alert_id", alert.ID, "error", updateErr)
	}

	if alert.Status == core.AlertStatusPending {
		d.scheduleRetry(alert, destination, payload)
	}
}

// scheduleRetry arranges the next attempt after an exponential backoff.
// The timer goroutine exits early if the incident's retries are cancelled
// or the dispatcher stops.
func (d *Dispatcher) scheduleRetry(alert *core.Alert, destination Destination, payload *Payload) {
	delay := backoffBase << uint(alert.Attempts-1)
	if delay > backoffCap {
		delay = backoffCap
	}

	retryCtx, cancel := context.WithCancel(d.ctx)
	d.registerCancel(alert.IncidentID, cancel)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-retryCtx.Done():
			return
		case <-timer.C:
			d.attempt(alert, destination, payload)
		}
	}()
}

// CancelIncident stops scheduling further attempts for an incident's
// alerts, e.g. when it is manually closed. Attempts already in flight are
// allowed to complete.
func (d *Dispatcher) CancelIncident(incidentID string) {
	d.mu.Lock()
	cancels := d.cancels[incidentID]
	delete(d.cancels, incidentID)
	d.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (d *Dispatcher) registerCancel(incidentID string, cancel context.CancelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancels[incidentID] = append(d.cancels[incidentID], cancel)
}
