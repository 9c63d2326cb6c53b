// Package service composes the engine stages into the ingestion pipeline:
// normalize, score, evaluate, correlate. Each stage stays independently
// testable; this package only does the wiring.
package service

import (
	"context"
	"errors"
	"time"

	"securiwatch/core"
	"securiwatch/correlate"
	"securiwatch/detect"
	"securiwatch/metrics"
	"securiwatch/normalize"

	"go.uber.org/zap"
)

// processTimeout bounds the asynchronous evaluate-and-correlate work for a
// single record once it has left the ingress request.
const processTimeout = 30 * time.Second

// Pipeline is the end-to-end ingestion path. Ingress callers hand it raw
// records; normalized records flow through detection and correlation on the
// worker pool.
type Pipeline struct {
	normalizer *normalize.Normalizer
	evaluator  *detect.Evaluator
	correlator *correlate.Correlator
	pool       *core.WorkerPool
	stats      *core.StatsTracker
	logger     *zap.SugaredLogger
}

// NewPipeline wires the stages together. pool may be nil, in which case all
// processing runs synchronously on the caller's goroutine.
func NewPipeline(normalizer *normalize.Normalizer, evaluator *detect.Evaluator, correlator *correlate.Correlator, pool *core.WorkerPool, stats *core.StatsTracker, logger *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		evaluator:  evaluator,
		correlator: correlator,
		pool:       pool,
		stats:      stats,
		logger:     logger,
	}
}

// Ingest runs one raw record through the pipeline. The record is validated,
// scored and persisted synchronously so the caller gets an authoritative
// dedup answer; rule evaluation and correlation are queued on the worker
// pool. When the pool is saturated the work runs inline, trading ingress
// latency for the guarantee that no persisted record skips evaluation.
func (p *Pipeline) Ingest(ctx context.Context, raw *normalize.RawRecord) (*normalize.Result, error) {
	result, err := p.normalizer.Ingest(ctx, raw)
	if err != nil {
		return nil, err
	}

	if !result.Created {
		if p.stats != nil {
			p.stats.RecordDuplicate()
		}
		return result, nil
	}

	if p.stats != nil {
		p.stats.RecordLog(result.Record)
	}
	if result.Record.RiskScore >= core.HighRiskThreshold {
		metrics.HighRiskEvents.Inc()
	}

	record := result.Record
	if p.pool == nil {
		p.process(record)
		return result, nil
	}

	submitErr := p.pool.Submit(func() { p.process(record) })
	if submitErr != nil {
		if errors.Is(submitErr, core.ErrWorkerPoolQueueFull) {
			p.process(record)
		} else {
			// Pool not running (shutdown in progress); finish the record
			// inline rather than dropping an already persisted event.
			p.logger.Warnw("Worker pool unavailable, processing inline", "error", submitErr)
			p.process(record)
		}
	}
	return result, nil
}

// process evaluates one record against the rule snapshot and feeds every
// match to the correlator. A failure for one match never suppresses the
// others.
func (p *Pipeline) process(record *core.LogRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	matches := p.evaluator.Evaluate(record)
	for _, match := range matches {
		if _, err := p.correlator.Process(ctx, match); err != nil {
			p.logger.Errorw("Failed to correlate rule match",
				"rule", match.Rule.Name, "log_id", record.ID, "error", err)
		}
	}
}

// Stats exposes the engine counters for the stats endpoint.
func (p *Pipeline) Stats() core.EngineStats {
	if p.stats == nil {
		return core.EngineStats{}
	}
	return p.stats.Snapshot()
}
