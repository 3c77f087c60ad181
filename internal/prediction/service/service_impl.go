package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/bluefx/bluefx-server/internal/clock"
	predictiondomain "github.com/bluefx/bluefx-server/internal/prediction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) predictiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("prediction.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, req predictiondomain.CreateRequest) (*predictiondomain.PredictionRecord, error) {
	if req.UserID == 0 {
		return nil, predictiondomain.ErrInvalidUser
	}
	if strings.TrimSpace(req.ToolID) == "" {
		return nil, predictiondomain.ErrInvalidTool
	}
	if strings.TrimSpace(req.BatchID) == "" {
		return nil, predictiondomain.ErrInvalidBatch
	}

	now := s.clock.Now()
	record := predictiondomain.PredictionRecord{
		ID:        s.genID.Generate(),
		UserID:    req.UserID,
		ToolID:    strings.TrimSpace(req.ToolID),
		BatchID:   strings.TrimSpace(req.BatchID),
		Status:    predictiondomain.StatusStarting,
		Provider:  strings.TrimSpace(req.Provider),
		InputData: datatypes.JSONMap(req.InputData),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*predictiondomain.PredictionRecord, error) {
	var record predictiondomain.PredictionRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, predictiondomain.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (s *Service) GetByExternalID(ctx context.Context, provider, externalID string) (*predictiondomain.PredictionRecord, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, predictiondomain.ErrInvalidExternalID
	}

	var record predictiondomain.PredictionRecord
	err := s.db.WithContext(ctx).
		Where("provider = ? AND external_id = ?", strings.TrimSpace(provider), externalID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, predictiondomain.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (s *Service) MarkProcessing(ctx context.Context, id snowflake.ID, externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return predictiondomain.ErrInvalidExternalID
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE ai_predictions
		 SET status = ?, external_id = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		predictiondomain.StatusProcessing,
		externalID,
		s.clock.Now(),
		id,
		predictiondomain.StatusStarting,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *Service) Complete(ctx context.Context, id snowflake.ID, output map[string]any) error {
	record, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if record.Status.Terminal() {
		return predictiondomain.ErrInvalidTransition
	}

	now := s.clock.Now()
	// A success never skips processing; promote starting records first.
	if record.Status == predictiondomain.StatusStarting {
		err := s.db.WithContext(ctx).Exec(
			`UPDATE ai_predictions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			predictiondomain.StatusProcessing,
			now,
			id,
			predictiondomain.StatusStarting,
		).Error
		if err != nil {
			return err
		}
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE ai_predictions
		 SET status = ?, output_data = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		predictiondomain.StatusCompleted,
		datatypes.JSONMap(output),
		now,
		id,
		predictiondomain.StatusProcessing,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *Service) Fail(ctx context.Context, id snowflake.ID, reason string) error {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE ai_predictions
		 SET status = ?, error = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		predictiondomain.StatusFailed,
		strings.TrimSpace(reason),
		s.clock.Now(),
		id,
		predictiondomain.StatusStarting,
		predictiondomain.StatusProcessing,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *Service) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]predictiondomain.PredictionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []predictiondomain.PredictionRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", predictiondomain.StatusProcessing, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) transitionError(ctx context.Context, id snowflake.ID) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return predictiondomain.ErrInvalidTransition
}
