package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/bluefx/bluefx-server/pkg/db/pagination"
)

type RecordRequest struct {
	UserID      snowflake.ID
	ToolID      string
	BatchID     string
	ImageURLs   []string
	Metadata    map[string]any
	CreditsUsed int64
	DurationMS  int64
	Parameters  map[string]any
}

type ListRequest struct {
	UserID snowflake.ID
	ToolID string
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Artifacts []GeneratedArtifact `json:"artifacts"`
}

type Service interface {
	// Record persists the artifact and its metrics row in one transaction.
	Record(ctx context.Context, req RecordRequest) (*GeneratedArtifact, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	// Delete removes an artifact owned by the user; rows owned by anyone
	// else are invisible.
	Delete(ctx context.Context, userID, id snowflake.ID) error
}

var (
	ErrNotFound     = errors.New("artifact_not_found")
	ErrInvalidUser  = errors.New("invalid_user")
	ErrInvalidTool  = errors.New("invalid_tool")
	ErrInvalidBatch = errors.New("invalid_batch")
)
