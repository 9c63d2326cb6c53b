package bootstrap

import (
	"fmt"

	"securiwatch/config"
	"securiwatch/core"
	"securiwatch/dispatch"
	"securiwatch/storage"

	"go.uber.org/zap"
)

// InitSQLite opens the SQLite database and runs migrations.
func InitSQLite(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	db, err := storage.NewSQLite(cfg.DataPaths.SQLitePath, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sqlite: %w", err)
	}
	sugar.Infow("SQLite initialized", "path", cfg.DataPaths.SQLitePath)
	return db, nil
}

// InitDestinations builds the alert sinks from configuration.
func InitDestinations(cfg *config.Config, sugar *zap.SugaredLogger) []dispatch.Destination {
	destinations := make([]dispatch.Destination, 0, len(cfg.Alerting.Destinations))
	for _, dc := range cfg.Alerting.Destinations {
		minSeverity := core.Severity(dc.MinSeverity)
		if !minSeverity.IsValid() {
			minSeverity = core.SeverityLow
		}
		switch dc.Type {
		case "webhook":
			destinations = append(destinations, dispatch.NewWebhookDestination(dc.Name, dc.URL, dc.Headers, minSeverity, 0))
		case "email":
			destinations = append(destinations, dispatch.NewEmailDestination(dc.Name, dc.SMTPHost, dc.SMTPPort, dc.SMTPUsername, dc.SMTPPassword, dc.FromAddress, dc.ToAddresses, minSeverity))
		default:
			sugar.Warnw("Skipping destination with unknown type", "name", dc.Name, "type", dc.Type)
			continue
		}
		sugar.Infow("Alert destination configured", "name", dc.Name, "type", dc.Type, "min_severity", minSeverity)
	}
	return destinations
}
