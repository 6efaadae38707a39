package registry

import "go.uber.org/fx"

// Module provides the connection registry to the rest of the
// application as a singleton, the same shape as the teacher's
// registry.Module.
var Module = fx.Module("registry",
	fx.Provide(New),
)
