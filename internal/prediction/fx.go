package prediction

import (
	"github.com/bluefx/bluefx-server/internal/prediction/service"
	"go.uber.org/fx"
)

var Module = fx.Module("prediction.service",
	fx.Provide(service.NewService),
)
