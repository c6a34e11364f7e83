package subscription_log

import (
	"go.uber.org/fx"

	"github.com/brandforge/metering/internal/app/service/subscription"
)

// Module exposes the change-log service and binds it as the subscription
// manager's ChangeRecorder.
var Module = fx.Options(
	fx.Provide(New),
	fx.Provide(func(s *Service) subscription.ChangeRecorder { return s }),
)
