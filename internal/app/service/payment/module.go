package payment

import "go.uber.org/fx"

// Module exposes processor-facing payment operations via Fx.
var Module = fx.Options(
	fx.Provide(NewService),
)
