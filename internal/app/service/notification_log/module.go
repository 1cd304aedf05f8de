package notification_log

import "go.uber.org/fx"

// Module exposes the webhook audit log via Fx.
var Module = fx.Options(
	fx.Provide(New),
)
