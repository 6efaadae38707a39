package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/fx"
)

// Module wires the optional ops event bus. NewPublisher degrades to a
// no-op publisher when no broker URI is configured, so this module is
// always safe to include.
var Module = fx.Module("pubsub",
	fx.Provide(
		NewWatermillLogger,
		NewPublisher,
		NewEventDispatcher,
	),
)

// NewWatermillLogger adapts the app's slog logger to watermill's
// logging interface, matching the teacher's ProvideWatermillLogger
// provider (see cmd/logger.go).
func NewWatermillLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(nil)
}
