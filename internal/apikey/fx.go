package apikey

import (
	"github.com/bluefx/bluefx-server/internal/apikey/repository"
	"github.com/bluefx/bluefx-server/internal/apikey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
