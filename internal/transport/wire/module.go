package wire

import "go.uber.org/fx"

// Module provides the CBOR wire transport, satisfying both the
// fanout.Client's Transport interface and the supervisor's own use of
// the concrete CBORTransport for command/hello framing.
var Module = fx.Module("wire",
	fx.Provide(
		NewCBORTransport,
		func(t *CBORTransport) Transport { return t },
	),
)
