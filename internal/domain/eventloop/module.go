package eventloop

import "go.uber.org/fx"

// Module provides the event loop, wired against whatever
// registry.AuthFunc and *registry.Registry are available in the graph.
var Module = fx.Module("eventloop",
	fx.Provide(New),
)
