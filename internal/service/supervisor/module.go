package supervisor

import (
	"context"
	"os"

	"go.uber.org/fx"

	"github.com/pbspro/sched-ctl/config"
)

// Module wires the supervisor and starts/stops it with the fx
// application lifecycle.
var Module = fx.Module("supervisor",
	fx.Provide(
		NewPassthroughPolicy,
		NewDefaultAuth,
		New,
		NewAllowListFromConfig,
	),
	fx.Invoke(registerLifecycle),
)

// NewAllowListFromConfig seeds an AllowList from cfg's primary/secondary
// hosts, ready for Supervisor.Start to layer a clients file on top of.
func NewAllowListFromConfig(cfg *config.Config) *config.AllowList {
	ourHost, _ := os.Hostname()
	return config.NewAllowList(ourHost, cfg.PrimaryHost, cfg.SecondaryHost)
}

func registerLifecycle(lc fx.Lifecycle, s *Supervisor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			s.shutdown()
			return nil
		},
	})
}
