package storage

import "go.uber.org/fx"

var Module = fx.Module("storage.relay",
	fx.Provide(
		NewClient,
		NewRelay,
	),
)
