package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/bluefx/bluefx-server/internal/clock"
	predictiondomain "github.com/bluefx/bluefx-server/internal/prediction/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&predictiondomain.PredictionRecord{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: node,
		clock: fake,
	}, fake
}

func createRecord(t *testing.T, svc *Service) *predictiondomain.PredictionRecord {
	t.Helper()
	record, err := svc.Create(context.Background(), predictiondomain.CreateRequest{
		UserID:   svc.genID.Generate(),
		ToolID:   "logo-machine",
		BatchID:  "batch-1",
		Provider: "replicate",
		InputData: map[string]any{
			"prompt": "minimal fox logo",
		},
	})
	require.NoError(t, err)
	return record
}

func TestLifecycleStartingProcessingCompleted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	record := createRecord(t, svc)
	assert.Equal(t, predictiondomain.StatusStarting, record.Status)

	require.NoError(t, svc.MarkProcessing(ctx, record.ID, "ext-123"))

	got, err := svc.GetByExternalID(ctx, "replicate", "ext-123")
	require.NoError(t, err)
	assert.Equal(t, predictiondomain.StatusProcessing, got.Status)

	require.NoError(t, svc.Complete(ctx, record.ID, map[string]any{"urls": []string{"https://x/1.png"}}))

	got, err = svc.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, predictiondomain.StatusCompleted, got.Status)
}

func TestCompleteFromStartingPassesThroughProcessing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	record := createRecord(t, svc)
	require.NoError(t, svc.Complete(ctx, record.ID, nil))

	got, err := svc.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, predictiondomain.StatusCompleted, got.Status)
}

func TestTerminalRecordsRejectTransitions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	record := createRecord(t, svc)
	require.NoError(t, svc.MarkProcessing(ctx, record.ID, "ext-9"))
	require.NoError(t, svc.Fail(ctx, record.ID, "model exploded"))

	assert.ErrorIs(t, svc.Complete(ctx, record.ID, nil), predictiondomain.ErrInvalidTransition)
	assert.ErrorIs(t, svc.Fail(ctx, record.ID, "again"), predictiondomain.ErrInvalidTransition)
	assert.ErrorIs(t, svc.MarkProcessing(ctx, record.ID, "ext-10"), predictiondomain.ErrInvalidTransition)
}

func TestListStale(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	record := createRecord(t, svc)
	require.NoError(t, svc.MarkProcessing(ctx, record.ID, "ext-stale"))

	fake.Advance(20 * time.Minute)
	stale, err := svc.ListStale(ctx, fake.Now().Add(-10*time.Minute), 10)
	require.NoError(t, err)

	found := false
	for _, r := range stale {
		if r.ID == record.ID {
			found = true
		}
	}
	assert.True(t, found)

	// Terminal records are never reported stale.
	require.NoError(t, svc.Fail(ctx, record.ID, "timeout"))
	stale, err = svc.ListStale(ctx, fake.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	for _, r := range stale {
		assert.NotEqual(t, record.ID, r.ID)
	}
}

func TestGetByExternalIDUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetByExternalID(context.Background(), "replicate", "missing")
	assert.ErrorIs(t, err, predictiondomain.ErrNotFound)
}
