package notify

import "go.uber.org/fx"

// Module exposes the notification sender via Fx.
var Module = fx.Options(
	fx.Provide(NewLogSender),
)
