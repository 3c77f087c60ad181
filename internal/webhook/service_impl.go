// Package webhook reconciles provider callbacks against local prediction
// records. It is the completion path for clients that stopped polling:
// delivery order and duplicates are the provider's business, finalization
// happens exactly once here.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	artifactdomain "github.com/bluefx/bluefx-server/internal/artifact/domain"
	"github.com/bluefx/bluefx-server/internal/clock"
	creditdomain "github.com/bluefx/bluefx-server/internal/credit/domain"
	"github.com/bluefx/bluefx-server/internal/observability/metrics"
	predictiondomain "github.com/bluefx/bluefx-server/internal/prediction/domain"
	"github.com/bluefx/bluefx-server/internal/pricing"
	"github.com/bluefx/bluefx-server/internal/provider/adapters/replicate"
	providerdomain "github.com/bluefx/bluefx-server/internal/provider/domain"
	"github.com/bluefx/bluefx-server/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service interface {
	// IngestReplicate verifies and applies one webhook delivery. A nil
	// return means the provider should stop retrying.
	IngestReplicate(ctx context.Context, payload []byte, headers http.Header) error
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Replicate   *replicate.Adapter `optional:"true"`
	Predictions predictiondomain.Service
	Artifacts   artifactdomain.Service
	Storage     storage.Relay
	Credits     creditdomain.Service
	Pricing     *pricing.Table
	Metrics     *metrics.Metrics `optional:"true"`
}

type service struct {
	log         *zap.Logger
	clock       clock.Clock
	replicate   *replicate.Adapter
	predictions predictiondomain.Service
	artifacts   artifactdomain.Service
	storage     storage.Relay
	credits     creditdomain.Service
	pricing     *pricing.Table
	metrics     *metrics.Metrics
}

func NewService(p Params) Service {
	return &service{
		log:         p.Log.Named("webhook.service"),
		clock:       p.Clock,
		replicate:   p.Replicate,
		predictions: p.Predictions,
		artifacts:   p.Artifacts,
		storage:     p.Storage,
		credits:     p.Credits,
		pricing:     p.Pricing,
		metrics:     p.Metrics,
	}
}

func (s *service) IngestReplicate(ctx context.Context, payload []byte, headers http.Header) error {
	if s.replicate == nil {
		return providerdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return providerdomain.ErrInvalidPayload
	}
	if err := s.replicate.VerifyWebhook(payload, headers); err != nil {
		s.metrics.RecordWebhookEvent(ctx, "replicate", "rejected")
		return err
	}

	job, err := s.replicate.ParseJob(payload)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, "replicate", "invalid")
		return err
	}

	record, err := s.predictions.GetByExternalID(ctx, "replicate", job.ExternalID)
	if err != nil {
		if errors.Is(err, predictiondomain.ErrNotFound) {
			// The provider retries deliveries; an id we never created is
			// not worth a retry storm.
			s.log.Warn("webhook for unknown prediction",
				zap.String("external_id", job.ExternalID))
			s.metrics.RecordWebhookEvent(ctx, "replicate", "unknown")
			return nil
		}
		return err
	}
	if record.Status.Terminal() {
		s.metrics.RecordWebhookEvent(ctx, "replicate", "duplicate")
		return nil
	}
	if !job.Status.Terminal() {
		s.metrics.RecordWebhookEvent(ctx, "replicate", "progress")
		return nil
	}

	switch job.Status {
	case providerdomain.JobSucceeded:
		return s.finalizeSuccess(ctx, record, job)
	default:
		reason := job.Error
		if reason == "" {
			reason = string(job.Status)
		}
		if err := s.predictions.Fail(ctx, record.ID, reason); err != nil {
			if errors.Is(err, predictiondomain.ErrInvalidTransition) {
				return nil
			}
			return err
		}
		s.metrics.RecordWebhookEvent(ctx, "replicate", "failed")
		return nil
	}
}

func (s *service) finalizeSuccess(ctx context.Context, record *predictiondomain.PredictionRecord, job *providerdomain.Job) error {
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
			// Lost the race against the polling path; that path charges
			// and records the artifact.
			s.metrics.RecordWebhookEvent(ctx, "replicate", "duplicate")
			return nil
		}
		return err
	}

	cost, err := s.pricing.Cost(record.ToolID)
	if err != nil {
		s.log.Warn("no price for finalized tool", zap.String("tool_id", record.ToolID), zap.Error(err))
		cost = 0
	}
	if cost > 0 {
		_, err := s.credits.Deduct(ctx, creditdomain.DeductRequest{
			UserID:    record.UserID,
			Amount:    cost,
			Operation: "generation_webhook",
			ToolID:    record.ToolID,
			BatchID:   record.BatchID,
			Metadata:  map[string]any{"external_id": record.ExternalID},
		})
		if err != nil {
			s.log.Warn("credit deduction failed on webhook finalize", zap.Error(err))
		}
	}

	if _, err := s.artifacts.Record(ctx, artifactdomain.RecordRequest{
		UserID:      record.UserID,
		ToolID:      record.ToolID,
		BatchID:     record.BatchID,
		ImageURLs:   urls,
		Metadata:    map[string]any{"source": "webhook"},
		CreditsUsed: cost,
		DurationMS:  s.clock.Now().Sub(record.CreatedAt).Milliseconds(),
	}); err != nil {
		s.log.Warn("artifact record failed on webhook finalize", zap.Error(err))
	}

	s.metrics.RecordWebhookEvent(ctx, "replicate", "completed")
	return nil
}
