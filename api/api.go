// Package api exposes the ingestion and incident endpoints over HTTP.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"securiwatch/config"
	"securiwatch/dispatch"
	"securiwatch/service"
	"securiwatch/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// API is the HTTP server for log ingestion and incident management.
type API struct {
	router     *mux.Router
	server     *http.Server
	pipeline   *service.Pipeline
	incidents  storage.IncidentStore
	logs       storage.LogStore
	alerts     storage.AlertStore
	dispatcher *dispatch.Dispatcher
	config     *config.Config
	logger     *zap.SugaredLogger

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
}

// NewAPI creates the HTTP server. dispatcher may be nil when alerting is not
// configured; incident closure then skips retry cancellation.
func NewAPI(pipeline *service.Pipeline, incidents storage.IncidentStore, logs storage.LogStore, alerts storage.AlertStore, dispatcher *dispatch.Dispatcher, cfg *config.Config, logger *zap.SugaredLogger) *API {
	a := &API{
		router:       mux.NewRouter(),
		pipeline:     pipeline,
		incidents:    incidents,
		logs:         logs,
		alerts:       alerts,
		dispatcher:   dispatcher,
		config:       cfg,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.setupRoutes()
	go a.cleanupRateLimiters()
	return a
}

func (a *API) setupRoutes() {
	a.router.Use(a.rateLimitMiddleware)
	a.router.Handle("/metrics", promhttp.Handler())

	a.router.HandleFunc("/api/v1/logs", a.ingestLog).Methods("POST")
	a.router.HandleFunc("/api/v1/logs", a.getLogs).Methods("GET")
	a.router.HandleFunc("/api/v1/incidents", a.getIncidents).Methods("GET")
	a.router.HandleFunc("/api/v1/incidents/{id}", a.getIncident).Methods("GET")
	a.router.HandleFunc("/api/v1/incidents/{id}", a.updateIncident).Methods("PATCH")
	a.router.HandleFunc("/api/v1/incidents/{id}/alerts", a.getIncidentAlerts).Methods("GET")
	a.router.HandleFunc("/api/v1/stats", a.getStats).Methods("GET")
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
}

// Router exposes the handler for tests.
func (a *API) Router() http.Handler {
	return a.router
}

// Start starts the HTTP server and blocks until it stops.
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return a.server.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (a *API) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}
