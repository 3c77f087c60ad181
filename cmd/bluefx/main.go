package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/bluefx/bluefx-server/internal/apikey"
	"github.com/bluefx/bluefx-server/internal/artifact"
	"github.com/bluefx/bluefx-server/internal/cache"
	"github.com/bluefx/bluefx-server/internal/clock"
	"github.com/bluefx/bluefx-server/internal/config"
	"github.com/bluefx/bluefx-server/internal/credit"
	"github.com/bluefx/bluefx-server/internal/migration"
	"github.com/bluefx/bluefx-server/internal/observability"
	"github.com/bluefx/bluefx-server/internal/prediction"
	"github.com/bluefx/bluefx-server/internal/pricing"
	"github.com/bluefx/bluefx-server/internal/provider"
	"github.com/bluefx/bluefx-server/internal/ratelimit"
	"github.com/bluefx/bluefx-server/internal/scheduler"
	"github.com/bluefx/bluefx-server/internal/server"
	"github.com/bluefx/bluefx-server/internal/storage"
	"github.com/bluefx/bluefx-server/internal/webhook"
	"github.com/bluefx/bluefx-server/internal/workflow"
	"github.com/bluefx/bluefx-server/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		migration.Module,

		// Functional domains
		pricing.Module,
		ratelimit.Module,
		storage.Module,
		provider.Module,
		apikey.Module,
		credit.Module,
		prediction.Module,
		artifact.Module,
		workflow.Module,
		webhook.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
