package idempotency

import "go.uber.org/fx"

// Module exposes the idempotency store via Fx.
var Module = fx.Options(
	fx.Provide(NewService),
)
