package artifact

import (
	"github.com/bluefx/bluefx-server/internal/artifact/service"
	"go.uber.org/fx"
)

var Module = fx.Module("artifact.service",
	fx.Provide(service.NewService),
)
