// Package dispatch observes incident state changes and delivers alerts to
// configured destinations with retry semantics.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"securiwatch/core"
)

// Payload is the alert body handed to a destination.
type Payload struct {
	IncidentID      string        `json:"incident_id"`
	Title           string        `json:"title"`
	Severity        core.Severity `json:"severity"`
	Status          string        `json:"status"`
	EventType       string        `json:"event_type,omitempty"`
	AffectedUser    string        `json:"affected_user,omitempty"`
	SourceIP        string        `json:"source_ip,omitempty"`
	DetectionMethod string        `json:"detection_method,omitempty"`
	Confidence      float64       `json:"confidence"`
	RelatedLogs     int           `json:"related_logs"`
	DetectedAt      time.Time     `json:"detected_at"`
	Escalated       bool          `json:"escalated"`
}

// NewPayload builds the delivery payload for an incident.
func NewPayload(incident *core.Incident, escalated bool) *Payload {
	return &Payload{
		IncidentID:      incident.ID,
		Title:           incident.Title,
		Severity:        incident.Severity,
		Status:          incident.Status.String(),
		EventType:       incident.EventType,
		AffectedUser:    incident.AffectedUser,
		SourceIP:        incident.SourceIP,
		DetectionMethod: incident.DetectionMethod,
		Confidence:      incident.ConfidenceScore,
		RelatedLogs:     incident.RelatedLogsCount,
		DetectedAt:      incident.DetectedAt,
		Escalated:       escalated,
	}
}

// Destination is an abstract alert sink. The dispatcher depends only on
// this capability.
type Destination interface {
	// Name identifies the destination in alert rows and logs.
	Name() string
	// Type tags the alert (webhook, email, ...).
	Type() string
	// MinSeverity is the lowest severity this destination receives.
	MinSeverity() core.Severity
	// Deliver sends the payload. An error marks the attempt failed.
	Deliver(ctx context.Context, payload *Payload) error
}

// WebhookDestination POSTs the payload as JSON.
type WebhookDestination struct {
	name        string
	URL         string
	Headers     map[string]string
	minSeverity core.Severity
	client      *http.Client
}

// NewWebhookDestination creates a webhook sink.
func NewWebhookDestination(name, url string, headers map[string]string, minSeverity core.Severity, timeout time.Duration) *WebhookDestination {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookDestination{
		name:        name,
		URL:         url,
		Headers:     headers,
		minSeverity: minSeverity,
		client:      &http.Client{Timeout: timeout},
	}
}

func (d *WebhookDestination) Name() string               { return d.name }
func (d *WebhookDestination) Type() string               { return "webhook" }
func (d *WebhookDestination) MinSeverity() core.Severity { return d.minSeverity }

// Deliver implements Destination.
func (d *WebhookDestination) Deliver(ctx context.Context, payload *Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range d.Headers {
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailDestination sends the payload as a plain-text message over SMTP.
type EmailDestination struct {
	name        string
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	To          []string
	minSeverity core.Severity
}

// NewEmailDestination creates an SMTP sink.
func NewEmailDestination(name, host string, port int, username, password, from string, to []string, minSeverity core.Severity) *EmailDestination {
	return &EmailDestination{
		name:        name,
		Host:        host,
		Port:        port,
		Username:    username,
		Password:    password,
		From:        from,
		To:          to,
		minSeverity: minSeverity,
	}
}

func (d *EmailDestination) Name() string               { return d.name }
func (d *EmailDestination) Type() string               { return "email" }
func (d *EmailDestination) MinSeverity() core.Severity { return d.minSeverity }

// Deliver implements Destination.
func (d *EmailDestination) Deliver(ctx context.Context, payload *Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("[%s] Security incident: %s", payload.Severity, payload.Title)
	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", d.From)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(d.To, ", "))
	fmt.Fprintf(&body, "Subject: %s\r\n\r\n", subject)
	fmt.Fprintf(&body, "Incident %s (%s)\n", payload.IncidentID, payload.Status)
	fmt.Fprintf(&body, "Detection: %s\n", payload.DetectionMethod)
	if payload.AffectedUser != "" {
		fmt.Fprintf(&body, "User: %s\n", payload.AffectedUser)
	}
	if payload.SourceIP != "" {
		fmt.Fprintf(&body, "Source IP: %s\n", payload.SourceIP)
	}
	fmt.Fprintf(&body, "Related logs: %d, confidence %.2f\n", payload.RelatedLogs, payload.Confidence)
	fmt.Fprintf(&body, "Detected at: %s\n", payload.DetectedAt.Format(time.RFC3339))

	addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
	var auth smtp.Auth
	if d.Username != "" {
		auth = smtp.PlainAuth("", d.Username, d.Password, d.Host)
	}
	if err := smtp.SendMail(addr, auth, d.From, d.To, []byte(body.String())); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}
