package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	artifactdomain "github.com/bluefx/bluefx-server/internal/artifact/domain"
	artifactservice "github.com/bluefx/bluefx-server/internal/artifact/service"
	"github.com/bluefx/bluefx-server/internal/clock"
	creditdomain "github.com/bluefx/bluefx-server/internal/credit/domain"
	creditservice "github.com/bluefx/bluefx-server/internal/credit/service"
	predictiondomain "github.com/bluefx/bluefx-server/internal/prediction/domain"
	predictionservice "github.com/bluefx/bluefx-server/internal/prediction/service"
	"github.com/bluefx/bluefx-server/internal/pricing"
	"github.com/bluefx/bluefx-server/internal/provider/adapters/replicate"
	providerdomain "github.com/bluefx/bluefx-server/internal/provider/domain"
	"github.com/bluefx/bluefx-server/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "webhook-secret"

type stubRelay struct{}

func (stubRelay) Upload(ctx context.Context, req storage.UploadRequest) (*storage.Object, error) {
	return &storage.Object{URL: "https://cdn.bluefx.net/stored"}, nil
}

func (stubRelay) UploadDataURL(ctx context.Context, userID snowflake.ID, toolID, dataURL string) (*storage.Object, error) {
	return &storage.Object{URL: "https://cdn.bluefx.net/stored"}, nil
}

func (stubRelay) Mirror(ctx context.Context, userID snowflake.ID, toolID, sourceURL string) (*storage.Object, error) {
	return &storage.Object{URL: "https://cdn.bluefx.net/mirrored"}, nil
}

type testEnv struct {
	svc  *service
	db   *gorm.DB
	node *snowflake.Node
	fake *clock.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&creditdomain.CreditBalance{},
		&creditdomain.CreditTransaction{},
		&predictiondomain.PredictionRecord{},
		&artifactdomain.GeneratedArtifact{},
		&artifactdomain.GenerationMetric{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	adapter, err := replicate.New(replicate.Config{
		Token:         "r8_test",
		WebhookSecret: testSecret,
	})
	require.NoError(t, err)

	svc := &service{
		log:       log,
		clock:     fake,
		replicate: adapter,
		predictions: predictionservice.NewService(predictionservice.Params{
			DB: db, Log: log, GenID: node, Clock: fake,
		}),
		artifacts: artifactservice.NewService(artifactservice.Params{
			DB: db, Log: log, GenID: node, Clock: fake,
		}),
		storage: stubRelay{},
		credits: creditservice.NewService(creditservice.Params{
			DB: db, Log: log, GenID: node, Clock: fake,
		}),
		pricing: pricing.NewTable(nil),
	}
	return &testEnv{svc: svc, db: db, node: node, fake: fake}
}

func sign(payload []byte) http.Header {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte("msg-1.1700000000." + string(payload)))

	headers := http.Header{}
	headers.Set("Webhook-Id", "msg-1")
	headers.Set("Webhook-Timestamp", "1700000000")
	headers.Set("Webhook-Signature", "v1,"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return headers
}

func (e *testEnv) seedProcessing(t *testing.T, externalID string) (*predictiondomain.PredictionRecord, snowflake.ID) {
	t.Helper()
	userID := e.node.Generate()

	require.NoError(t, e.db.Create(&creditdomain.CreditBalance{
		ID:               e.node.Generate(),
		UserID:           userID,
		AvailableCredits: 50,
		PeriodEnd:        e.fake.Now().Add(15 * 24 * time.Hour),
		CreatedAt:        e.fake.Now(),
		UpdatedAt:        e.fake.Now(),
	}).Error)

	record, err := e.svc.predictions.Create(context.Background(), predictiondomain.CreateRequest{
		UserID:   userID,
		ToolID:   pricing.ToolLogoMachine,
		BatchID:  "batch-" + externalID,
		Provider: "replicate",
	})
	require.NoError(t, err)
	require.NoError(t, e.svc.predictions.MarkProcessing(context.Background(), record.ID, externalID))
	return record, userID
}

func TestIngestFinalizesSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record, userID := env.seedProcessing(t, "pred-hook-1")

	payload := []byte(`{"id":"pred-hook-1","status":"succeeded","output":["https://replicate.delivery/x.png"]}`)
	require.NoError(t, env.svc.IngestReplicate(ctx, payload, sign(payload)))

	got, err := env.svc.predictions.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, predictiondomain.StatusCompleted, got.Status)

	var artifact artifactdomain.GeneratedArtifact
	require.NoError(t, env.db.Where("batch_id = ?", record.BatchID).First(&artifact).Error)

	balance, err := env.svc.credits.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(47), balance)
}

func TestIngestIsIdempotentOnDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record, userID := env.seedProcessing(t, "pred-hook-2")

	payload := []byte(`{"id":"pred-hook-2","status":"succeeded","output":["https://replicate.delivery/x.png"]}`)
	require.NoError(t, env.svc.IngestReplicate(ctx, payload, sign(payload)))
	require.NoError(t, env.svc.IngestReplicate(ctx, payload, sign(payload)))

	var count int64
	require.NoError(t, env.db.Model(&artifactdomain.GeneratedArtifact{}).
		Where("batch_id = ?", record.BatchID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	balance, err := env.svc.credits.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(47), balance)
}

func TestIngestFailureMarksRecordFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record, userID := env.seedProcessing(t, "pred-hook-3")

	payload := []byte(`{"id":"pred-hook-3","status":"failed","error":"model exploded"}`)
	require.NoError(t, env.svc.IngestReplicate(ctx, payload, sign(payload)))

	got, err := env.svc.predictions.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, predictiondomain.StatusFailed, got.Status)
	assert.Equal(t, "model exploded", got.Error)

	// Failed jobs never charge.
	balance, err := env.svc.credits.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}

func TestIngestUnknownExternalIDAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{"id":"never-created","status":"succeeded","output":["https://x/y.png"]}`)
	assert.NoError(t, env.svc.IngestReplicate(context.Background(), payload, sign(payload)))
}

func TestIngestRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{"id":"pred-hook-4","status":"succeeded"}`)
	headers := sign([]byte("different payload"))
	err := env.svc.IngestReplicate(context.Background(), payload, headers)
	assert.ErrorIs(t, err, providerdomain.ErrInvalidSignature)
}

func TestIngestNonTerminalProgressAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	record, _ := env.seedProcessing(t, "pred-hook-5")

	payload := []byte(`{"id":"pred-hook-5","status":"processing"}`)
	require.NoError(t, env.svc.IngestReplicate(ctx, payload, sign(payload)))

	got, err := env.svc.predictions.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, predictiondomain.StatusProcessing, got.Status)
}
