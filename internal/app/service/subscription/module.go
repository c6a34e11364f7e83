package subscription

import "go.uber.org/fx"

// Module exposes the subscription manager via Fx. The ChangeRecorder is
// provided by the subscription_log module.
var Module = fx.Options(
	fx.Provide(NewManager),
)
