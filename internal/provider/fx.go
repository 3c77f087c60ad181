package provider

import (
	"context"

	"github.com/bluefx/bluefx-server/internal/config"
	"github.com/bluefx/bluefx-server/internal/provider/adapters"
	"github.com/bluefx/bluefx-server/internal/provider/adapters/google"
	"github.com/bluefx/bluefx-server/internal/provider/adapters/openai"
	"github.com/bluefx/bluefx-server/internal/provider/adapters/replicate"
	"github.com/bluefx/bluefx-server/internal/provider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	LC     fx.Lifecycle
	Config config.Config
	Log    *zap.Logger
}

type Result struct {
	fx.Out

	Registry  *adapters.Registry
	Replicate *replicate.Adapter
}

// NewRegistry builds one adapter per configured provider. A missing key
// just leaves that provider out; tools routed to it fail with
// provider_not_found instead of breaking startup.
func NewRegistry(p Params) (Result, error) {
	log := p.Log.Named("provider.registry")
	var list []domain.ModelAdapter

	var replicateAdapter *replicate.Adapter
	if p.Config.Providers.ReplicateToken != "" {
		adapter, err := replicate.New(replicate.Config{
			Token:         p.Config.Providers.ReplicateToken,
			WebhookSecret: p.Config.Providers.ReplicateWebhookSecret,
			BaseURL:       p.Config.Providers.ReplicateBaseURL,
		})
		if err != nil {
			return Result{}, err
		}
		replicateAdapter = adapter
		list = append(list, adapter)
	}

	if p.Config.Providers.OpenAIKey != "" {
		adapter, err := openai.New(openai.Config{
			APIKey:  p.Config.Providers.OpenAIKey,
			BaseURL: p.Config.Providers.OpenAIBaseURL,
		})
		if err != nil {
			return Result{}, err
		}
		list = append(list, adapter)
	}

	if p.Config.Providers.GoogleAPIKey != "" {
		adapter, err := google.New(context.Background(), google.Config{
			APIKey: p.Config.Providers.GoogleAPIKey,
		})
		if err != nil {
			return Result{}, err
		}
		p.LC.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return adapter.Close()
			},
		})
		list = append(list, adapter)
	}

	registry := adapters.NewRegistry(list...)
	log.Info("model providers registered", zap.Strings("providers", registry.Providers()))
	return Result{Registry: registry, Replicate: replicateAdapter}, nil
}

var Module = fx.Module("provider.registry",
	fx.Provide(NewRegistry),
)
