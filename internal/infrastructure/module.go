package infrastructure

import (
	"go.uber.org/fx"
)

// Module provides the zap logger and shutdown hooks
var Module = fx.Module("infrastructure",
	fx.Provide(NewLogger),
	fx.Invoke(RegisterLifecycle),
)
