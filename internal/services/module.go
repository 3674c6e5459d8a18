package services

import (
	"go.uber.org/fx"
)

// Module provides the push client and the services around it
var Module = fx.Module("services",
	fx.Provide(
		ProvideApplicationLogger,
		NewEventBus,
		ProvideTokenProvider,
		ProvidePushClient,
	),
	fx.Invoke(BridgeEvents),
)
