// Package bootstrap wires the engine components together and owns the
// application lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"securiwatch/api"
	"securiwatch/config"
	"securiwatch/core"
	"securiwatch/correlate"
	"securiwatch/detect"
	"securiwatch/dispatch"
	"securiwatch/normalize"
	"securiwatch/score"
	"securiwatch/service"
	"securiwatch/storage"

	"go.uber.org/zap"
)

// notifyBufferSize buffers incident notifications between the correlator
// and the dispatcher.
const notifyBufferSize = 256

// App holds all engine components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	SQLite *storage.SQLite
	Stats  *core.StatsTracker

	RuleLoader *detect.Loader
	Evaluator  *detect.Evaluator
	Correlator *correlate.Correlator
	Sweeper    *correlate.Sweeper
	Dispatcher *dispatch.Dispatcher
	Pipeline   *service.Pipeline
	Pool       *core.WorkerPool
	APIServer  *api.API

	notifyCh chan correlate.Notification
	cancel   context.CancelFunc
}

// NewApp creates the application and initializes all components.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	app := &App{}

	cfgForLevel, _ := config.Load(configPath)
	level := "info"
	if cfgForLevel != nil {
		level = cfgForLevel.Logging.Level
	}
	logger, sugar, err := InitLogger(level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("SecuriWatch engine starting...")

	cfg, err := InitConfig(configPath, sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	if err := EnsureDataDirectories(cfg, sugar); err != nil {
		return nil, err
	}

	db, err := InitSQLite(cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.SQLite = db
	app.Stats = core.NewStatsTracker()

	logStore := storage.NewSQLiteLogStore(db)
	ruleStore := storage.NewSQLiteRuleStore(db)
	incidentStore := storage.NewSQLiteIncidentStore(db)
	alertStore := storage.NewSQLiteAlertStore(db)

	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	app.RuleLoader = detect.NewLoader(ruleStore, cfg.RuleReloadInterval(), sugar)
	app.Evaluator = detect.NewEvaluator(app.RuleLoader, sugar)

	app.notifyCh = make(chan correlate.Notification, notifyBufferSize)
	app.Correlator = correlate.NewCorrelator(incidentStore, cfg.CorrelationWindow(), app.Stats, app.notifyCh, sugar)

	if cfg.Engine.AutoResolveDays > 0 {
		idleAfter := time.Duration(cfg.Engine.AutoResolveDays) * 24 * time.Hour
		app.Sweeper = correlate.NewSweeper(app.Correlator, idleAfter)
	}

	destinations := InitDestinations(cfg, sugar)
	app.Dispatcher = dispatch.NewDispatcher(alertStore, destinations,
		core.Severity(cfg.Alerting.SeverityThreshold), cfg.Alerting.MaxAttempts, app.notifyCh, sugar)

	normalizer, err := normalize.NewNormalizer(logStore, score.NewHeuristicScorer(), cfg.Engine.DedupCacheSize, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize normalizer: %w", err)
	}

	app.Pool = core.NewWorkerPool(runCtx, cfg.Engine.Workers, cfg.Engine.QueueSize, sugar)
	app.Pipeline = service.NewPipeline(normalizer, app.Evaluator, app.Correlator, app.Pool, app.Stats, sugar)

	app.APIServer = api.NewAPI(app.Pipeline, incidentStore, logStore, alertStore, app.Dispatcher, cfg, sugar)

	return app, nil
}

// Start loads the rule snapshot and starts all services.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	prevCancel := a.cancel
	a.cancel = func() {
		cancel()
		if prevCancel != nil {
			prevCancel()
		}
	}

	if err := a.RuleLoader.Reload(runCtx); err != nil {
		return fmt.Errorf("failed to load detection rules: %w", err)
	}
	go a.RuleLoader.Run(runCtx)

	a.Pool.Start()
	a.Dispatcher.Start(runCtx)

	if a.Sweeper != nil {
		interval := time.Duration(a.Config.Engine.SweepIntervalMinutes) * time.Minute
		go a.Sweeper.Run(runCtx, interval)
	}

	addr := fmt.Sprintf("%s:%d", a.Config.API.Host, a.Config.API.Port)
	go func() {
		a.Sugar.Infow("API server listening", "addr", addr)
		if err := a.APIServer.Start(addr); err != nil && err != http.ErrServerClosed {
			a.Sugar.Errorw("API server exited", "error", err)
		}
	}()

	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown stops components in dependency order: ingress first so no new
// work enters, then the pipeline workers, then the dispatcher, storage last.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if a.APIServer != nil {
		if err := a.APIServer.Stop(shutdownCtx); err != nil {
			a.Sugar.Errorw("API shutdown failed", "error", err)
		}
	}

	if a.Pool != nil {
		a.Pool.Stop()
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}

	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			a.Sugar.Errorw("Failed to close database", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
