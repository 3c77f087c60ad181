package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/bluefx/bluefx-server/internal/apikey/domain"
	artifactdomain "github.com/bluefx/bluefx-server/internal/artifact/domain"
	"github.com/bluefx/bluefx-server/internal/config"
	creditdomain "github.com/bluefx/bluefx-server/internal/credit/domain"
	predictiondomain "github.com/bluefx/bluefx-server/internal/prediction/domain"
	"github.com/bluefx/bluefx-server/internal/pricing"
	providerdomain "github.com/bluefx/bluefx-server/internal/provider/domain"
	"github.com/bluefx/bluefx-server/internal/workflow"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testUserID = snowflake.ID(7)
	testAPIKey = "bfx_live_key_c0ffee"
)

type fakeAPIKeyService struct{}

func (f *fakeAPIKeyService) List(ctx context.Context, userID snowflake.ID) ([]apikeydomain.Response, error) {
	return []apikeydomain.Response{{KeyID: "key_1", Name: "default", IsActive: true}}, nil
}

func (f *fakeAPIKeyService) Create(ctx context.Context, userID snowflake.ID, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	if req.Name == "" {
		return nil, apikeydomain.ErrInvalidName
	}
	return &apikeydomain.SecretResponse{KeyID: "key_2", APIKey: "bfx_live_key_new"}, nil
}

func (f *fakeAPIKeyService) Revoke(ctx context.Context, userID snowflake.ID, keyID string) error {
	if keyID != "key_1" {
		return apikeydomain.ErrNotFound
	}
	return nil
}

func (f *fakeAPIKeyService) Authenticate(ctx context.Context, rawKey string) (*apikeydomain.APIKey, error) {
	if rawKey != testAPIKey {
		return nil, apikeydomain.ErrInvalidKey
	}
	return &apikeydomain.APIKey{ID: 1, UserID: testUserID, KeyID: "key_1", IsActive: true}, nil
}

type fakeWorkflowService struct {
	lastReq workflow.GenerateRequest
	err     error
}

func (f *fakeWorkflowService) Generate(ctx context.Context, req workflow.GenerateRequest) (*workflow.GenerateResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &workflow.GenerateResult{
		BatchID:     "batch-1",
		ToolID:      req.ToolID,
		Outputs:     []string{"https://cdn.bluefx.net/logo.png"},
		CreditsUsed: 3,
		Remaining:   597,
	}, nil
}

type fakeCreditService struct{}

func (f *fakeCreditService) GetBalance(ctx context.Context, userID snowflake.ID) (int64, error) {
	return 42, nil
}

func (f *fakeCreditService) Deduct(ctx context.Context, req creditdomain.DeductRequest) (creditdomain.DeductResult, error) {
	return creditdomain.DeductResult{}, nil
}

type fakeArtifactService struct{}

func (f *fakeArtifactService) Record(ctx context.Context, req artifactdomain.RecordRequest) (*artifactdomain.GeneratedArtifact, error) {
	return nil, nil
}

func (f *fakeArtifactService) List(ctx context.Context, req artifactdomain.ListRequest) (artifactdomain.ListResponse, error) {
	return artifactdomain.ListResponse{
		Artifacts: []artifactdomain.GeneratedArtifact{{ID: 11, UserID: req.UserID, ToolID: pricing.ToolLogoMachine}},
	}, nil
}

func (f *fakeArtifactService) Delete(ctx context.Context, userID, id snowflake.ID) error {
	if id != 11 {
		return artifactdomain.ErrNotFound
	}
	return nil
}

type fakePredictionService struct{}

func (f *fakePredictionService) Create(ctx context.Context, req predictiondomain.CreateRequest) (*predictiondomain.PredictionRecord, error) {
	return nil, nil
}

func (f *fakePredictionService) GetByID(ctx context.Context, id snowflake.ID) (*predictiondomain.PredictionRecord, error) {
	switch id {
	case 21:
		return &predictiondomain.PredictionRecord{ID: 21, UserID: testUserID, Status: predictiondomain.StatusCompleted}, nil
	case 22:
		return &predictiondomain.PredictionRecord{ID: 22, UserID: testUserID + 1, Status: predictiondomain.StatusCompleted}, nil
	default:
		return nil, predictiondomain.ErrNotFound
	}
}

func (f *fakePredictionService) GetByExternalID(ctx context.Context, provider, externalID string) (*predictiondomain.PredictionRecord, error) {
	return nil, predictiondomain.ErrNotFound
}

func (f *fakePredictionService) MarkProcessing(ctx context.Context, id snowflake.ID, externalID string) error {
	return nil
}

func (f *fakePredictionService) Complete(ctx context.Context, id snowflake.ID, output map[string]any) error {
	return nil
}

func (f *fakePredictionService) Fail(ctx context.Context, id snowflake.ID, reason string) error {
	return nil
}

func (f *fakePredictionService) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]predictiondomain.PredictionRecord, error) {
	return nil, nil
}

type fakeWebhookService struct {
	err error
}

func (f *fakeWebhookService) IngestReplicate(ctx context.Context, payload []byte, headers http.Header) error {
	return f.err
}

type testServer struct {
	server   *Server
	workflow *fakeWorkflowService
	webhook  *fakeWebhookService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	wf := &fakeWorkflowService{}
	wh := &fakeWebhookService{}

	srv := NewServer(ServerParams{
		Gin:           engine,
		Cfg:           config.Config{HTTPAddr: ":0"},
		Log:           zap.NewNop(),
		GenID:         node,
		APIKeySvc:     &fakeAPIKeyService{},
		WorkflowSvc:   wf,
		CreditSvc:     &fakeCreditService{},
		ArtifactSvc:   &fakeArtifactService{},
		PredictionSvc: &fakePredictionService{},
		WebhookSvc:    wh,
	})

	return &testServer{server: srv, workflow: wf, webhook: wh}
}

func (ts *testServer) do(method, path string, body []byte, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set(HeaderAPIKey, testAPIKey)
	}
	rec := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/v1/credits", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
	req.Header.Set(HeaderAPIKey, "bfx_live_key_wrong")
	rec = httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerate(t *testing.T) {
	ts := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"prompt": "a fox logo", "count": 2})
	rec := ts.do(http.MethodPost, "/v1/generations/logo-machine", body, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var result workflow.GenerateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "batch-1", result.BatchID)
	assert.Equal(t, "logo-machine", result.ToolID)

	assert.Equal(t, testUserID, ts.workflow.lastReq.UserID)
	assert.Equal(t, "a fox logo", ts.workflow.lastReq.Prompt)
	assert.Equal(t, 2, ts.workflow.lastReq.Count)
}

func TestGenerateInsufficientCredits(t *testing.T) {
	ts := newTestServer(t)
	ts.workflow.err = creditdomain.ErrInsufficientCredits

	body, _ := json.Marshal(map[string]any{"prompt": "an epic film"})
	rec := ts.do(http.MethodPost, "/v1/generations/ai-cinematographer", body, true)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestGenerateUnknownTool(t *testing.T) {
	ts := newTestServer(t)
	ts.workflow.err = pricing.ErrUnknownTool

	body, _ := json.Marshal(map[string]any{"prompt": "anything"})
	rec := ts.do(http.MethodPost, "/v1/generations/face-swap", body, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCredits(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/v1/credits", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"credits":42}`, rec.Body.String())
}

func TestListArtifacts(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/v1/artifacts?tool_id=logo-machine", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp artifactdomain.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Artifacts, 1)
	assert.Equal(t, testUserID, resp.Artifacts[0].UserID)
}

func TestDeleteArtifact(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodDelete, "/v1/artifacts/11", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodDelete, "/v1/artifacts/999", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPredictionScopedToOwner(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/v1/predictions/21", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/predictions/22", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReplicateWebhook(t *testing.T) {
	ts := newTestServer(t)

	payload := []byte(`{"id":"pred-1","status":"succeeded"}`)
	rec := ts.do(http.MethodPost, "/api/webhooks/replicate-ai", payload, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.webhook.err = providerdomain.ErrInvalidSignature
	rec = ts.do(http.MethodPost, "/api/webhooks/replicate-ai", payload, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndRevokeAPIKey(t *testing.T) {
	ts := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"name": "ci"})
	rec := ts.do(http.MethodPost, "/v1/api-keys", body, true)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/api-keys/key_1/revoke", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/api-keys/key_9/revoke", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
