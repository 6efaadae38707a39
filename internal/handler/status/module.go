package status

import (
	"context"
	"net/http"

	"go.uber.org/fx"

	"github.com/pbspro/sched-ctl/config"
)

// Module wires the status handler and an HTTP server to serve it on,
// bound to the fx application lifecycle (mirroring the teacher's own
// fx.Lifecycle-managed server bootstrap).
var Module = fx.Module("status",
	fx.Provide(NewHandler),
	fx.Invoke(registerServer),
)

func registerServer(lc fx.Lifecycle, cfg *config.Config, h *Handler) {
	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", h.Routes()))
	srv := &http.Server{Addr: cfg.StatusAddr, Handler: mux}

	watchCtx, cancelWatch := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				_ = srv.ListenAndServe()
			}()
			go h.WatchEndpoints(watchCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelWatch()
			return srv.Shutdown(ctx)
		},
	})
}
