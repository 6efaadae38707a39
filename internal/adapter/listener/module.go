package listener

import "go.uber.org/fx"

// Module provides the Listener/Acceptor to the rest of the
// application as a singleton.
var Module = fx.Module("listener",
	fx.Provide(New),
)
