package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	apikeydomain "github.com/bluefx/bluefx-server/internal/apikey/domain"
	"github.com/bluefx/bluefx-server/internal/apikey/repository"
	"github.com/bluefx/bluefx-server/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&apikeydomain.APIKey{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return &Service{
		db:    db,
		log:   zap.NewNop(),
		repo:  repository.Provide(),
		genID: node,
		clock: fake,
	}, fake
}

func TestCreateAndAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := svc.genID.Generate()

	secret, err := svc.Create(ctx, userID, apikeydomain.CreateRequest{Name: "studio"})
	require.NoError(t, err)
	assert.Contains(t, secret.APIKey, "bfx_live_key_")

	key, err := svc.Authenticate(ctx, secret.APIKey)
	require.NoError(t, err)
	assert.Equal(t, userID, key.UserID)
	assert.NotNil(t, key)
}

func TestAuthenticateRejectsUnknownAndMalformed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)

	_, err = svc.Authenticate(ctx, "sk-wrong-prefix")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)

	_, err = svc.Authenticate(ctx, "bfx_live_key_UNKNOWN_deadbeef")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
}

func TestRevokedKeyStopsAuthenticating(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := svc.genID.Generate()

	secret, err := svc.Create(ctx, userID, apikeydomain.CreateRequest{Name: "studio"})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, userID, secret.KeyID))

	_, err = svc.Authenticate(ctx, secret.APIKey)
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
}

func TestRevokeRequiresOwnership(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := svc.genID.Generate()
	other := svc.genID.Generate()

	secret, err := svc.Create(ctx, owner, apikeydomain.CreateRequest{Name: "studio"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Revoke(ctx, other, secret.KeyID), apikeydomain.ErrNotFound)
}

func TestAuthenticateTouchesLastUsed(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()
	userID := svc.genID.Generate()

	secret, err := svc.Create(ctx, userID, apikeydomain.CreateRequest{Name: "studio"})
	require.NoError(t, err)

	fake.Advance(time.Hour)
	key, err := svc.Authenticate(ctx, secret.APIKey)
	require.NoError(t, err)

	stored, err := svc.repo.FindByKeyID(ctx, svc.db, userID, key.KeyID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastUsedAt)
	assert.Equal(t, fake.Now().UTC(), stored.LastUsedAt.UTC())
}
