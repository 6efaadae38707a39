package fanout

import "go.uber.org/fx"

// Module provides the multi-server client, wired against whatever
// []*Endpoint and wire.Transport are available in the graph.
var Module = fx.Module("fanout",
	fx.Provide(
		NewEndpointsFromConfig,
		NewClient,
	),
)
