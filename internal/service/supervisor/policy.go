package supervisor

import (
	"context"
	"net"

	"github.com/pbspro/sched-ctl/internal/domain/model"
	"github.com/pbspro/sched-ctl/internal/domain/registry"
)

// PolicyEngine is the external collaborator the command pump hands
// each accepted command to (spec.md §4.5 step 6). The scheduling
// policy itself is out of scope per spec.md §1 Non-goals; this
// interface is the seam a real policy implementation plugs into.
type PolicyEngine interface {
	Init(nThreads int) error
	Schedule(ctx context.Context, cmd model.Command, conn net.Conn, jobID string) (model.CycleResult, error)
	Shutdown(ctx context.Context) error
}

// passthrough is a trivial PolicyEngine for tests and local runs: it
// never schedules anything and never asks for shutdown.
type passthrough struct{}

// NewPassthroughPolicy returns a PolicyEngine that does nothing,
// useful for exercising the command pump and state machine without a
// real scheduling policy wired in.
func NewPassthroughPolicy() PolicyEngine { return passthrough{} }

func (passthrough) Init(nThreads int) error { return nil }

func (passthrough) Schedule(ctx context.Context, cmd model.Command, conn net.Conn, jobID string) (model.CycleResult, error) {
	return model.CycleResult{Quit: false}, nil
}

func (passthrough) Shutdown(ctx context.Context) error { return nil }

// NewDefaultAuth returns the registry.AuthFunc installed by default:
// it accepts every connection. The real credential check spec.md §1
// leaves as an external capability ("authenticate(sock)") that this
// control plane doesn't itself define; readyHook's reserved-port and
// allow-list checks (spec.md §4.5 step 3) are the actual gate on
// inbound scheduler commands.
func NewDefaultAuth() registry.AuthFunc {
	return func(c *registry.Connection) error { return nil }
}
