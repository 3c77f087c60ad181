package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	artifactdomain "github.com/bluefx/bluefx-server/internal/artifact/domain"
	"github.com/bluefx/bluefx-server/internal/clock"
	"github.com/bluefx/bluefx-server/internal/config"
	creditdomain "github.com/bluefx/bluefx-server/internal/credit/domain"
	"github.com/bluefx/bluefx-server/internal/observability/metrics"
	predictiondomain "github.com/bluefx/bluefx-server/internal/prediction/domain"
	"github.com/bluefx/bluefx-server/internal/pricing"
	"github.com/bluefx/bluefx-server/internal/provider/adapters"
	providerdomain "github.com/bluefx/bluefx-server/internal/provider/domain"
	"github.com/bluefx/bluefx-server/internal/provider/poll"
	"github.com/bluefx/bluefx-server/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const batchConcurrency = 4

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Config      config.Config
	Pricing     *pricing.Table
	Credits     creditdomain.Service
	Predictions predictiondomain.Service
	Artifacts   artifactdomain.Service
	Storage     storage.Relay
	Registry    *adapters.Registry
	Metrics     *metrics.Metrics `optional:"true"`
}

type service struct {
	log         *zap.Logger
	clock       clock.Clock
	cfg         config.Config
	pricing     *pricing.Table
	credits     creditdomain.Service
	predictions predictiondomain.Service
	artifacts   artifactdomain.Service
	storage     storage.Relay
	registry    *adapters.Registry
	metrics     *metrics.Metrics
}

func NewService(p Params) Service {
	return &service{
		log:         p.Log.Named("workflow.service"),
		clock:       p.Clock,
		cfg:         p.Config,
		pricing:     p.Pricing,
		credits:     p.Credits,
		predictions: p.Predictions,
		artifacts:   p.Artifacts,
		storage:     p.Storage,
		registry:    p.Registry,
		metrics:     p.Metrics,
	}
}

// itemOutcome collects what one provider job produced. Failed items stay
// in the batch slice so the caller can count and report them.
type itemOutcome struct {
	urls     []string
	err      error
	warnings []string
	analysis string
	// finalizedElsewhere is set when the webhook path won the completion
	// transition; that path already charged and recorded the artifact.
	finalizedElsewhere bool
}

func (s *service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	start := s.clock.Now()

	if req.UserID == 0 {
		return nil, creditdomain.ErrInvalidUser
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrInvalidPrompt
	}
	route, ok := routeFor(req.ToolID)
	if !ok {
		return nil, pricing.ErrUnknownTool
	}
	cost, err := s.pricing.Cost(req.ToolID)
	if err != nil {
		return nil, err
	}

	count := req.Count
	if count <= 0 {
		count = 1
	}
	if count > route.maxBatch() {
		return nil, fmt.Errorf("%w: at most %d per batch for %s", ErrInvalidCount, route.maxBatch(), req.ToolID)
	}
	totalCost := cost * int64(count)

	// Credit validation happens before any external spend. The implicit
	// top-up covers anything up to the floor, so only requests that would
	// fail even after topping up abort here.
	balance, err := s.credits.GetBalance(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if balance < totalCost && totalCost > creditdomain.TopUpFloor {
		return nil, creditdomain.ErrInsufficientCredits
	}

	adapter, err := s.registry.Adapter(route.Provider)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.ToolID, err)
	}

	result := &GenerateResult{
		BatchID: uuid.NewString(),
		ToolID:  req.ToolID,
	}
	log := s.log.With(
		zap.String("tool_id", req.ToolID),
		zap.String("batch_id", result.BatchID),
		zap.Int64("user_id", int64(req.UserID)),
	)

	params := mergeParams(route.DefaultParams, req.Params)
	if strings.TrimSpace(req.ReferenceImage) != "" {
		obj, err := s.storage.UploadDataURL(ctx, req.UserID, req.ToolID, req.ReferenceImage)
		if err != nil {
			log.Warn("reference upload failed, continuing without it", zap.Error(err))
			result.Warnings = append(result.Warnings, "reference image upload failed, generated without it")
		} else {
			params["image"] = obj.URL
		}
	}

	input := providerdomain.GenerationInput{
		ToolID:     req.ToolID,
		Model:      route.Model,
		Prompt:     prompt,
		Parameters: params,
		WebhookURL: s.webhookURL(route.Provider),
	}

	outcomes := make([]*itemOutcome, count)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(batchConcurrency)
	for i := 0; i < count; i++ {
		i := i
		group.Go(func() error {
			outcomes[i] = s.runItem(groupCtx, req.UserID, result.BatchID, route, adapter, input)
			return nil
		})
	}
	_ = group.Wait()

	var firstErr error
	succeeded := 0
	var chargeable []*itemOutcome
	for _, outcome := range outcomes {
		if outcome == nil {
			continue
		}
		result.Warnings = append(result.Warnings, outcome.warnings...)
		if outcome.err != nil {
			if firstErr == nil {
				firstErr = outcome.err
			}
			continue
		}
		succeeded++
		if !outcome.finalizedElsewhere {
			chargeable = append(chargeable, outcome)
		}
		result.Outputs = append(result.Outputs, outcome.urls...)
		if outcome.analysis != "" && result.Analysis == "" {
			result.Analysis = outcome.analysis
		}
	}
	if succeeded < count {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d of %d generations failed and were dropped from the batch", count-succeeded, count))
	}
	if succeeded == 0 {
		s.metrics.RecordGeneration(ctx, req.ToolID, "failed", s.clock.Now().Sub(start))
		if firstErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, firstErr)
		}
		return nil, ErrGenerationFailed
	}

	// Charging happens after the provider succeeded. A deduction failure
	// at this point is reported as a warning, not a rollback: the user
	// already has their output.
	creditsUsed := cost * int64(len(chargeable))
	if creditsUsed > 0 {
		deduction, err := s.credits.Deduct(ctx, creditdomain.DeductRequest{
			UserID:    req.UserID,
			Amount:    creditsUsed,
			Operation: "generation",
			ToolID:    req.ToolID,
			BatchID:   result.BatchID,
			Metadata:  map[string]any{"count": len(chargeable)},
		})
		if err != nil {
			log.Warn("credit deduction failed after successful generation", zap.Error(err))
			result.Warnings = append(result.Warnings, "credit deduction failed, support has been notified")
		} else {
			result.Remaining = deduction.Remaining
		}
	}
	if result.Remaining == 0 {
		if remaining, berr := s.credits.GetBalance(ctx, req.UserID); berr == nil {
			result.Remaining = remaining
		}
	}
	result.CreditsUsed = creditsUsed

	duration := s.clock.Now().Sub(start)
	for _, outcome := range chargeable {
		metadata := map[string]any{"prompt": prompt}
		if outcome.analysis != "" {
			metadata["analysis"] = outcome.analysis
		}
		artifact, err := s.artifacts.Record(ctx, artifactdomain.RecordRequest{
			UserID:      req.UserID,
			ToolID:      req.ToolID,
			BatchID:     result.BatchID,
			ImageURLs:   outcome.urls,
			Metadata:    metadata,
			CreditsUsed: cost,
			DurationMS:  duration.Milliseconds(),
			Parameters:  params,
		})
		if err != nil {
			log.Warn("artifact record failed", zap.Error(err))
			result.Warnings = append(result.Warnings, "artifact history could not be saved")
			continue
		}
		result.Artifacts = append(result.Artifacts, *artifact)
	}

	s.metrics.RecordGeneration(ctx, req.ToolID, "completed", duration)
	log.Info("generation completed",
		zap.Int("succeeded", succeeded),
		zap.Int("requested", count),
		zap.Int64("credits_used", creditsUsed),
		zap.Duration("duration", duration),
	)
	return result, nil
}

func (s *service) runItem(
	ctx context.Context,
	userID snowflake.ID,
	batchID string,
	route toolRoute,
	adapter providerdomain.ModelAdapter,
	input providerdomain.GenerationInput,
) *itemOutcome {
	outcome := &itemOutcome{}

	record, err := s.predictions.Create(ctx, predictiondomain.CreateRequest{
		UserID:   userID,
		ToolID:   input.ToolID,
		BatchID:  batchID,
		Provider: route.Provider,
		InputData: map[string]any{
			"model":      input.Model,
			"prompt":     input.Prompt,
			"parameters": input.Parameters,
		},
	})
	if err != nil {
		outcome.err = err
		return outcome
	}

	job, err := adapter.Submit(ctx, input)
	if err != nil {
		if failErr := s.predictions.Fail(ctx, record.ID, err.Error()); failErr != nil {
			s.log.Warn("mark prediction failed", zap.Error(failErr))
		}
		outcome.err = err
		return outcome
	}

	if job.ExternalID != "" {
		if err := s.predictions.MarkProcessing(ctx, record.ID, job.ExternalID); err != nil {
			s.log.Warn("mark prediction processing", zap.Error(err))
		}
	}

	if !job.Status.Terminal() {
		err = poll.Until(ctx, route.pollConfig(), func(ctx context.Context) (bool, error) {
			s.metrics.RecordProviderPoll(ctx, route.Provider)
			next, err := adapter.GetJob(ctx, job.ExternalID)
			if err != nil {
				return false, err
			}
			job = next
			return job.Status.Terminal(), nil
		})
		if err != nil {
			// Local poll budget spent; the remote job keeps running and the
			// scheduler reconciles it later, so the record stays processing
			// unless the provider itself errored.
			if errors.Is(err, poll.ErrDeadlineExceeded) || errors.Is(err, poll.ErrAttemptsExceeded) {
				outcome.err = fmt.Errorf("%s: %w", input.ToolID, err)
				return outcome
			}
			if failErr := s.predictions.Fail(ctx, record.ID, err.Error()); failErr != nil {
				s.log.Warn("mark prediction failed", zap.Error(failErr))
			}
			outcome.err = err
			return outcome
		}
	}

	switch job.Status {
	case providerdomain.JobSucceeded:
		urls := make([]string, 0, len(job.Outputs))
		for _, output := range job.Outputs {
			obj, err := s.storage.Mirror(ctx, userID, input.ToolID, output)
			if err != nil {
				s.log.Warn("storage relay failed, falling back to provider url", zap.Error(err))
				outcome.warnings = append(outcome.warnings, "output could not be copied to storage, provider link may expire")
				urls = append(urls, output)
				continue
			}
			urls = append(urls, obj.URL)
		}
		outcome.urls = urls
		if route.TextResult {
			outcome.analysis = textFromJob(job)
		}

		outputData := map[string]any{"urls": urls}
		if outcome.analysis != "" {
			outputData["text"] = outcome.analysis
		}
		if err := s.predictions.Complete(ctx, record.ID, outputData); err != nil {
			if errors.Is(err, predictiondomain.ErrInvalidTransition) {
				outcome.finalizedElsewhere = true
			} else {
				s.log.Warn("complete prediction", zap.Error(err))
			}
		}
	case providerdomain.JobFailed, providerdomain.JobCanceled:
		reason := job.Error
		if reason == "" {
			reason = string(job.Status)
		}
		if err := s.predictions.Fail(ctx, record.ID, reason); err != nil {
			s.log.Warn("mark prediction failed", zap.Error(err))
		}
		outcome.err = fmt.Errorf("%s: provider job %s: %s", input.ToolID, job.Status, reason)
	}
	return outcome
}

func (s *service) webhookURL(provider string) string {
	if provider != "replicate" {
		return ""
	}
	base := strings.TrimSuffix(strings.TrimSpace(s.cfg.Providers.WebhookBaseURL), "/")
	if base == "" {
		return ""
	}
	return base + "/api/webhooks/replicate-ai"
}

func textFromJob(job *providerdomain.Job) string {
	if job.Raw == nil {
		return ""
	}
	if text, ok := job.Raw["text"].(string); ok {
		return strings.TrimSpace(text)
	}
	return ""
}
