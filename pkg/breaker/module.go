package breaker

import "go.uber.org/fx"

// Module exposes the breaker registry via Fx.
var Module = fx.Options(
	fx.Provide(NewRegistry),
)
