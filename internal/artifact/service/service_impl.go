package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	artifactdomain "github.com/bluefx/bluefx-server/internal/artifact/domain"
	"github.com/bluefx/bluefx-server/internal/clock"
	"github.com/bluefx/bluefx-server/pkg/db/pagination"
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

func NewService(p Params) artifactdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("artifact.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Record(ctx context.Context, req artifactdomain.RecordRequest) (*artifactdomain.GeneratedArtifact, error) {
	if req.UserID == 0 {
		return nil, artifactdomain.ErrInvalidUser
	}
	if strings.TrimSpace(req.ToolID) == "" {
		return nil, artifactdomain.ErrInvalidTool
	}
	if strings.TrimSpace(req.BatchID) == "" {
		return nil, artifactdomain.ErrInvalidBatch
	}

	urls, err := json.Marshal(req.ImageURLs)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	artifact := artifactdomain.GeneratedArtifact{
		ID:        s.genID.Generate(),
		UserID:    req.UserID,
		ToolID:    strings.TrimSpace(req.ToolID),
		BatchID:   strings.TrimSpace(req.BatchID),
		ImageURLs: datatypes.JSON(urls),
		Metadata:  datatypes.JSONMap(req.Metadata),
		CreatedAt: now,
	}
	metric := artifactdomain.GenerationMetric{
		ID:          s.genID.Generate(),
		UserID:      req.UserID,
		ToolID:      artifact.ToolID,
		BatchID:     artifact.BatchID,
		CreditsUsed: req.CreditsUsed,
		DurationMS:  req.DurationMS,
		Parameters:  datatypes.JSONMap(req.Parameters),
		CreatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&artifact).Error; err != nil {
			return err
		}
		return tx.Create(&metric).Error
	})
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (s *Service) List(ctx context.Context, req artifactdomain.ListRequest) (artifactdomain.ListResponse, error) {
	var resp artifactdomain.ListResponse
	if req.UserID == 0 {
		return resp, artifactdomain.ErrInvalidUser
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	query := s.db.WithContext(ctx).
		Model(&artifactdomain.GeneratedArtifact{}).
		Where("user_id = ?", req.UserID)
	if tool := strings.TrimSpace(req.ToolID); tool != "" {
		query = query.Where("tool_id = ?", tool)
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return resp, err
		}
		lastID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return resp, err
		}
		query = query.Where("id < ?", lastID)
	}

	var artifacts []artifactdomain.GeneratedArtifact
	err := query.
		Order("id DESC").
		Limit(req.PageSize + 1).
		Find(&artifacts).Error
	if err != nil {
		return resp, err
	}

	if len(artifacts) > req.PageSize {
		artifacts = artifacts[:req.PageSize]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID: artifacts[len(artifacts)-1].ID.String(),
		})
		if err != nil {
			return resp, err
		}
		resp.HasMore = true
		resp.NextPageToken = token
	}
	resp.Artifacts = artifacts
	return resp, nil
}

func (s *Service) Delete(ctx context.Context, userID, id snowflake.ID) error {
	if userID == 0 {
		return artifactdomain.ErrInvalidUser
	}

	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&artifactdomain.GeneratedArtifact{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return artifactdomain.ErrNotFound
	}
	return nil
}
