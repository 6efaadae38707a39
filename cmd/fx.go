package cmd

import (
	"go.uber.org/fx"

	"github.com/pbspro/sched-ctl/config"
	"github.com/pbspro/sched-ctl/internal/adapter/listener"
	"github.com/pbspro/sched-ctl/internal/adapter/pubsub"
	"github.com/pbspro/sched-ctl/internal/domain/eventloop"
	"github.com/pbspro/sched-ctl/internal/domain/registry"
	"github.com/pbspro/sched-ctl/internal/handler/status"
	"github.com/pbspro/sched-ctl/internal/service/fanout"
	"github.com/pbspro/sched-ctl/internal/service/supervisor"
	"github.com/pbspro/sched-ctl/internal/transport/wire"
)

// NewApp wires every module of the control plane (A-E plus the
// ambient stack) into one fx.App, mirroring the teacher's
// module-per-package fx composition (cmd/fx.go in the teacher repo).
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			config.NewPublisherConfig,
		),
		registry.Module,
		eventloop.Module,
		listener.Module,
		wire.Module,
		fanout.Module,
		supervisor.Module,
		pubsub.Module,
		status.Module,
	)
}
