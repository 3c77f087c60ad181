package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateRequest struct {
	UserID    snowflake.ID
	ToolID    string
	BatchID   string
	Provider  string
	InputData map[string]any
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*PredictionRecord, error)
	GetByID(ctx context.Context, id snowflake.ID) (*PredictionRecord, error)
	GetByExternalID(ctx context.Context, provider, externalID string) (*PredictionRecord, error)

	// MarkProcessing transitions starting -> processing and stores the
	// provider job id used for webhook reconciliation.
	MarkProcessing(ctx context.Context, id snowflake.ID, externalID string) error

	// Complete transitions to completed. A record still in starting is moved
	// through processing first so no successful prediction skips a state.
	Complete(ctx context.Context, id snowflake.ID, output map[string]any) error

	Fail(ctx context.Context, id snowflake.ID, reason string) error

	// ListStale returns processing records not updated since the cutoff, for
	// scheduler reconciliation against the provider.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]PredictionRecord, error)
}

var (
	ErrNotFound          = errors.New("prediction_not_found")
	ErrInvalidUser       = errors.New("invalid_user")
	ErrInvalidTool       = errors.New("invalid_tool")
	ErrInvalidBatch      = errors.New("invalid_batch")
	ErrInvalidExternalID = errors.New("invalid_external_id")
	ErrInvalidTransition = errors.New("invalid_status_transition")
)
