package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	artifactdomain "github.com/bluefx/bluefx-server/internal/artifact/domain"
	"github.com/bluefx/bluefx-server/internal/clock"
	"github.com/bluefx/bluefx-server/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&artifactdomain.GeneratedArtifact{},
		&artifactdomain.GenerationMetric{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	return &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: node,
		clock: clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func TestRecordWritesArtifactAndMetric(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	userID := svc.genID.Generate()

	artifact, err := svc.Record(ctx, artifactdomain.RecordRequest{
		UserID:      userID,
		ToolID:      "thumbnail-machine",
		BatchID:     "batch-7",
		ImageURLs:   []string{"https://cdn/x/1.png", "https://cdn/x/2.png"},
		CreditsUsed: 2,
		DurationMS:  4200,
		Parameters:  map[string]any{"prompt": "red thumbnail"},
	})
	require.NoError(t, err)
	assert.NotZero(t, artifact.ID)

	var metric artifactdomain.GenerationMetric
	require.NoError(t, svc.db.Where("batch_id = ?", "batch-7").First(&metric).Error)
	assert.Equal(t, int64(2), metric.CreditsUsed)
	assert.Equal(t, int64(4200), metric.DurationMS)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	userID := svc.genID.Generate()

	for i := 0; i < 5; i++ {
		_, err := svc.Record(ctx, artifactdomain.RecordRequest{
			UserID:    userID,
			ToolID:    "logo-machine",
			BatchID:   fmt.Sprintf("batch-%d", i),
			ImageURLs: []string{"https://cdn/x.png"},
		})
		require.NoError(t, err)
	}

	first, err := svc.List(ctx, artifactdomain.ListRequest{
		UserID:     userID,
		Pagination: pagination.Pagination{PageSize: 3},
	})
	require.NoError(t, err)
	require.Len(t, first.Artifacts, 3)
	assert.True(t, first.HasMore)
	assert.Equal(t, "batch-4", first.Artifacts[0].BatchID)

	second, err := svc.List(ctx, artifactdomain.ListRequest{
		UserID:     userID,
		Pagination: pagination.Pagination{PageSize: 3, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.Artifacts, 2)
	assert.False(t, second.HasMore)
	assert.Equal(t, "batch-0", second.Artifacts[1].BatchID)
}

func TestListFiltersByTool(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	userID := svc.genID.Generate()

	for _, tool := range []string{"logo-machine", "ebook-cover", "logo-machine"} {
		_, err := svc.Record(ctx, artifactdomain.RecordRequest{
			UserID:    userID,
			ToolID:    tool,
			BatchID:   "batch-" + tool,
			ImageURLs: []string{"https://cdn/x.png"},
		})
		require.NoError(t, err)
	}

	resp, err := svc.List(ctx, artifactdomain.ListRequest{
		UserID: userID,
		ToolID: "ebook-cover",
	})
	require.NoError(t, err)
	require.Len(t, resp.Artifacts, 1)
	assert.Equal(t, "ebook-cover", resp.Artifacts[0].ToolID)
}

func TestDeleteScopedToOwner(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := svc.genID.Generate()
	other := svc.genID.Generate()

	artifact, err := svc.Record(ctx, artifactdomain.RecordRequest{
		UserID:    owner,
		ToolID:    "storyboard",
		BatchID:   "batch-del",
		ImageURLs: []string{"https://cdn/x.png"},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, other, artifact.ID), artifactdomain.ErrNotFound)
	require.NoError(t, svc.Delete(ctx, owner, artifact.ID))
	assert.ErrorIs(t, svc.Delete(ctx, owner, artifact.ID), artifactdomain.ErrNotFound)
}
