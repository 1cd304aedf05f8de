package billing

import "go.uber.org/fx"

// Module exposes the billing ledger via Fx.
var Module = fx.Options(
	fx.Provide(NewService),
)
