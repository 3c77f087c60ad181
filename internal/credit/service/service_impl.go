package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/bluefx/bluefx-server/internal/clock"
	creditdomain "github.com/bluefx/bluefx-server/internal/credit/domain"
	obsmetrics "github.com/bluefx/bluefx-server/internal/observability/metrics"
	"github.com/bluefx/bluefx-server/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) creditdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) GetBalance(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, creditdomain.ErrInvalidUser
	}
	balance, err := s.ensureBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return balance.AvailableCredits, nil
}

func (s *Service) Deduct(ctx context.Context, req creditdomain.DeductRequest) (creditdomain.DeductResult, error) {
	if req.UserID == 0 {
		return creditdomain.DeductResult{}, creditdomain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return creditdomain.DeductResult{}, creditdomain.ErrInvalidAmount
	}

	balance, err := s.ensureBalance(ctx, req.UserID)
	if err != nil {
		return creditdomain.DeductResult{}, err
	}

	now := s.clock.Now()
	if balance.AvailableCredits < req.Amount || now.After(balance.PeriodEnd) {
		if err := s.topUp(ctx, req.UserID, now); err != nil {
			// Top-up failure is a hard error, the generation never starts.
			return creditdomain.DeductResult{}, err
		}
		if req.Amount > creditdomain.TopUpFloor {
			return creditdomain.DeductResult{}, creditdomain.ErrInsufficientCredits
		}
	}

	// Conditional decrement. A second attempt covers the window where a
	// concurrent request drained the balance between the read above and the
	// update here.
	for attempt := 0; attempt < 2; attempt++ {
		result := s.db.WithContext(ctx).Exec(
			`UPDATE user_credits
			 SET available_credits = available_credits - ?, updated_at = ?
			 WHERE user_id = ? AND available_credits >= ?`,
			req.Amount,
			now,
			req.UserID,
			req.Amount,
		)
		if result.Error != nil {
			return creditdomain.DeductResult{}, result.Error
		}
		if result.RowsAffected > 0 {
			return s.finishDeduct(ctx, req, now)
		}

		current, err := s.ensureBalance(ctx, req.UserID)
		if err != nil {
			return creditdomain.DeductResult{}, err
		}
		if current.AvailableCredits >= req.Amount {
			continue
		}
		return creditdomain.DeductResult{}, creditdomain.ErrInsufficientCredits
	}

	return creditdomain.DeductResult{}, creditdomain.ErrConcurrentDeduction
}

func (s *Service) finishDeduct(ctx context.Context, req creditdomain.DeductRequest, now time.Time) (creditdomain.DeductResult, error) {
	tx := creditdomain.CreditTransaction{
		ID:        s.genID.Generate(),
		UserID:    req.UserID,
		Direction: creditdomain.TransactionDirectionDeduct,
		Amount:    req.Amount,
		Operation: req.Operation,
		ToolID:    req.ToolID,
		BatchID:   req.BatchID,
		Metadata:  datatypes.JSONMap(req.Metadata),
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&tx).Error; err != nil {
		s.log.Warn("failed to record credit transaction",
			zap.String("user_id", req.UserID.String()),
			zap.Error(err),
		)
	}

	var remaining int64
	err := s.db.WithContext(ctx).
		Model(&creditdomain.CreditBalance{}).
		Where("user_id = ?", req.UserID).
		Pluck("available_credits", &remaining).Error
	if err != nil {
		return creditdomain.DeductResult{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordCreditsDeducted(ctx, req.ToolID, req.Amount)
	}

	return creditdomain.DeductResult{Remaining: remaining}, nil
}

func (s *Service) topUp(ctx context.Context, userID snowflake.ID, now time.Time) error {
	periodEnd := now.AddDate(0, 0, creditdomain.PeriodLengthDays)
	err := s.db.WithContext(ctx).Exec(
		`UPDATE user_credits
		 SET available_credits = ?, period_end = ?, updated_at = ?
		 WHERE user_id = ?`,
		creditdomain.TopUpFloor,
		periodEnd,
		now,
		userID,
	).Error
	if err != nil {
		return err
	}

	grant := creditdomain.CreditTransaction{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Direction: creditdomain.TransactionDirectionGrant,
		Amount:    creditdomain.TopUpFloor,
		Operation: "auto_top_up",
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&grant).Error; err != nil {
		s.log.Warn("failed to record top-up transaction",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}

	s.log.Info("credit balance topped up",
		zap.String("user_id", userID.String()),
		zap.Int64("floor", creditdomain.TopUpFloor),
	)
	return nil
}

func (s *Service) ensureBalance(ctx context.Context, userID snowflake.ID) (*creditdomain.CreditBalance, error) {
	var balance creditdomain.CreditBalance
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err == nil {
		return &balance, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	balance = creditdomain.CreditBalance{
		ID:               s.genID.Generate(),
		UserID:           userID,
		AvailableCredits: 0,
		PeriodEnd:        now.AddDate(0, 0, creditdomain.PeriodLengthDays),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.db.WithContext(ctx).Create(&balance).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			var existing creditdomain.CreditBalance
			if ferr := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error; ferr != nil {
				return nil, ferr
			}
			return &existing, nil
		}
		return nil, err
	}
	return &balance, nil
}
