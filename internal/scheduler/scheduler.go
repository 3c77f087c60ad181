// Package scheduler sweeps predictions stuck in processing and reconciles
// them against the provider. A pod can die mid-poll and a webhook can be
// lost; this sweep is the path that eventually settles those records.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	artifactdomain "github.com/bluefx/bluefx-server/internal/artifact/domain"
	"github.com/bluefx/bluefx-server/internal/clock"
	creditdomain "github.com/bluefx/bluefx-server/internal/credit/domain"
	obsmetrics "github.com/bluefx/bluefx-server/internal/observability/metrics"
	predictiondomain "github.com/bluefx/bluefx-server/internal/prediction/domain"
	"github.com/bluefx/bluefx-server/internal/pricing"
	"github.com/bluefx/bluefx-server/internal/provider/adapters"
	providerdomain "github.com/bluefx/bluefx-server/internal/provider/domain"
	"github.com/bluefx/bluefx-server/internal/ratelimit"
	"github.com/bluefx/bluefx-server/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const reconcileLockKey = "scheduler:reconcile_stale"

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Config      Config `optional:"true"`
	Registry    *adapters.Registry
	Predictions predictiondomain.Service
	Artifacts   artifactdomain.Service
	Storage     storage.Relay
	Credits     creditdomain.Service
	Pricing     *pricing.Table
	Locker      *ratelimit.Locker   `optional:"true"`
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	clock       clock.Clock
	cfg         Config
	registry    *adapters.Registry
	predictions predictiondomain.Service
	artifacts   artifactdomain.Service
	storage     storage.Relay
	credits     creditdomain.Service
	pricing     *pricing.Table
	locker      *ratelimit.Locker
	metrics     *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Registry == nil || p.Predictions == nil ||
		p.Artifacts == nil || p.Storage == nil || p.Credits == nil || p.Pricing == nil {
		return nil, providerdomain.ErrInvalidConfig
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		clock:       p.Clock,
		cfg:         p.Config.withDefaults(),
		registry:    p.Registry,
		predictions: p.Predictions,
		artifacts:   p.Artifacts,
		storage:     p.Storage,
		credits:     p.Credits,
		pricing:     p.Pricing,
		locker:      p.Locker,
		metrics:     p.Metrics,
	}, nil
}

// RunOnce reconciles one batch of stale predictions. With a locker present
// the sweep is single-flight across replicas; without one it runs anyway.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, reconcileLockKey, s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("reconcile lock unavailable, running unlocked", zap.Error(err))
		} else if !ok {
			return nil
		} else {
			defer func() {
				if err := s.locker.Release(ctx, reconcileLockKey, token); err != nil {
					s.log.Warn("reconcile lock release failed", zap.Error(err))
				}
			}()
		}
	}

	cutoff := s.clock.Now().Add(-s.cfg.StaleAfter)
	records, err := s.predictions.ListStale(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	s.log.Info("reconciling stale predictions", zap.Int("count", len(records)))

	var jobErr error
	for i := range records {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if err := s.reconcile(ctx, &records[i]); err != nil {
			jobErr = errors.Join(jobErr, err)
			s.log.Warn("stale prediction reconcile failed",
				zap.String("prediction_id", records[i].ID.String()),
				zap.Error(err),
			)
		}
	}
	return jobErr
}

// RunForever runs the sweep on a fixed interval until the context ends.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) reconcile(ctx context.Context, record *predictiondomain.PredictionRecord) error {
	log := s.log.With(
		zap.String("prediction_id", record.ID.String()),
		zap.String("provider", record.Provider),
		zap.String("external_id", record.ExternalID),
	)

	if record.ExternalID == "" {
		// Processing without a provider job id means the submit path died
		// before it stored one. Nothing remote to reconcile against.
		s.metrics.RecordStalePrediction(ctx, "abandoned")
		return s.fail(ctx, record.ID, "abandoned before provider submission")
	}

	adapter, err := s.registry.Adapter(record.Provider)
	if err != nil {
		s.metrics.RecordStalePrediction(ctx, "orphaned")
		return s.fail(ctx, record.ID, "provider no longer configured")
	}

	job, err := adapter.GetJob(ctx, record.ExternalID)
	switch {
	case errors.Is(err, providerdomain.ErrJobNotFound):
		s.metrics.RecordStalePrediction(ctx, "orphaned")
		return s.fail(ctx, record.ID, "provider job not found")
	case errors.Is(err, providerdomain.ErrPollingUnsupported):
		s.metrics.RecordStalePrediction(ctx, "orphaned")
		return s.fail(ctx, record.ID, "provider does not report job status")
	case err != nil:
		// Transient provider trouble; the next sweep retries.
		s.metrics.RecordStalePrediction(ctx, "deferred")
		return err
	}

	s.metrics.RecordProviderPoll(ctx, record.Provider)

	switch {
	case job.Status == providerdomain.JobSucceeded:
		return s.finalizeSuccess(ctx, record, job)
	case job.Status.Terminal():
		reason := job.Error
		if reason == "" {
			reason = string(job.Status)
		}
		s.metrics.RecordStalePrediction(ctx, "failed")
		return s.fail(ctx, record.ID, reason)
	default:
		// Still running remotely. Leave the record for the next sweep.
		log.Debug("stale prediction still in flight")
		s.metrics.RecordStalePrediction(ctx, "in_flight")
		return nil
	}
}

func (s *Scheduler) fail(ctx context.Context, id snowflake.ID, reason string) error {
	err := s.predictions.Fail(ctx, id, reason)
	if errors.Is(err, predictiondomain.ErrInvalidTransition) {
		return nil
	}
	return err
}

func (s *Scheduler) finalizeSuccess(ctx context.Context, record *predictiondomain.PredictionRecord, job *providerdomain.Job) error {
	urls := make([]string, 0, len(job.Outputs))
	for _, output := range job.Outputs {
		obj, err := s.storage.Mirror(ctx, record.UserID, record.ToolID, output)
		if err != nil {
			s.log.Warn("storage relay failed, keeping provider url", zap.Error(err))
			urls = append(urls, output)
			continue
		}
		urls = append(urls, obj.URL)
	}

	err := s.predictions.Complete(ctx, record.ID, map[string]any{"urls": urls})
	if err != nil {
		if errors.Is(err, predictiondomain.ErrInvalidTransition) {
			// A late webhook got there first.
			s.metrics.RecordStalePrediction(ctx, "duplicate")
			return nil
		}
		return err
	}

	cost, err := s.pricing.Cost(record.ToolID)
	if err != nil {
		s.log.Warn("no price for reconciled tool", zap.String("tool_id", record.ToolID), zap.Error(err))
		cost = 0
	}
	if cost > 0 {
		_, err := s.credits.Deduct(ctx, creditdomain.DeductRequest{
			UserID:    record.UserID,
			Amount:    cost,
			Operation: "generation_reconciled",
			ToolID:    record.ToolID,
			BatchID:   record.BatchID,
			Metadata:  map[string]any{"external_id": record.ExternalID},
		})
		if err != nil {
			s.log.Warn("credit deduction failed on reconcile", zap.Error(err))
		}
	}

	if _, err := s.artifacts.Record(ctx, artifactdomain.RecordRequest{
		UserID:      record.UserID,
		ToolID:      record.ToolID,
		BatchID:     record.BatchID,
		ImageURLs:   urls,
		Metadata:    map[string]any{"source": "reconciliation"},
		CreditsUsed: cost,
		DurationMS:  s.clock.Now().Sub(record.CreatedAt).Milliseconds(),
	}); err != nil {
		s.log.Warn("artifact record failed on reconcile", zap.Error(err))
	}

	s.metrics.RecordStalePrediction(ctx, "completed")
	return nil
}
