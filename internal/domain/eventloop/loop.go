/*
Package eventloop implements the readiness-driven dispatch core of
spec.md §4.2: a primary event set covering every live connection and a
priority set that preempts it, built on goroutines and channels in
place of a raw poll/epoll set (an fd-indexed poll set has no portable
analogue over Go's net.Conn). The teacher's Cell.loop batch-drain
pattern (internal/domain/registry/cell.go in the teacher repo: drain up
to a bound before blocking again) is reused here as the shape of one
WaitRequest tick.
*/
package eventloop

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pbspro/sched-ctl/internal/domain/registry"
)

// drainBound caps how many priority events one WaitRequest tick will
// dispatch before moving on to the primary set, mirroring the
// teacher's fixed drain batch size so one noisy priority connection
// cannot starve primary dispatch forever.
const drainBound = 64

// Result reports what one WaitRequest call did, for logging and tests.
type Result struct {
	Dispatched    int
	SignalPending bool
	Signal        os.Signal
}

// Loop owns the readiness channels and the registry they dispatch
// into. It does not itself read from sockets; adapters (the listener,
// the supervisor's transport peers) call Notify when a connection has
// become readable.
type Loop struct {
	reg          *registry.Registry
	authenticate registry.AuthFunc

	primaryCh  chan int64
	priorityCh chan int64
	sigCh      chan os.Signal

	logger *slog.Logger
}

// Option configures a Loop at construction time.
type Option func(*Loop)

// WithLogger overrides the default slog.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.logger = l
		}
	}
}

// WithQueueDepth overrides the readiness channel buffer size. The
// default of 1024 comfortably covers a daemon's worth of connections
// without ever blocking Notify under normal load.
func WithQueueDepth(n int) Option {
	return func(lp *Loop) {
		if n > 0 {
			lp.primaryCh = make(chan int64, n)
			lp.priorityCh = make(chan int64, n)
		}
	}
}

// New builds a Loop bound to reg. authenticate implements the
// capability contract spec.md §1 leaves external; it may be nil for a
// loop that never needs it (e.g. a transport-peer-only loop).
func New(reg *registry.Registry, authenticate registry.AuthFunc, opts ...Option) *Loop {
	l := &Loop{
		reg:          reg,
		authenticate: authenticate,
		primaryCh:    make(chan int64, 1024),
		priorityCh:   make(chan int64, 1024),
		sigCh:        make(chan os.Signal, 4),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	signal.Notify(l.sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGCHLD)
	return l
}

// Close stops receiving OS signals on this loop's channel. It does not
// close the registry.
func (l *Loop) Close() {
	signal.Stop(l.sigCh)
}

// Notify marks a connection ready. Connections flagged priority are
// enrolled in both sets, as spec.md §3 requires; the primary-pass skip
// of already-priority-dispatched sockets happens inside WaitRequest,
// not here.
func (l *Loop) Notify(c *registry.Connection) {
	if c == nil {
		return
	}
	if c.Priority() {
		select {
		case l.priorityCh <- c.ID():
		default:
			l.logger.Warn("PRIORITY_QUEUE_FULL", "conn_id", c.ID())
		}
	}
	select {
	case l.primaryCh <- c.ID():
	default:
		l.logger.Warn("PRIMARY_QUEUE_FULL", "conn_id", c.ID())
	}
}

// WaitRequest blocks up to timeout dispatching ready connections, then
// returns. The priority set is drained first (zero-timeout, bounded to
// drainBound), then the primary set for the remainder of the timeout.
// A socket already dispatched via priority is skipped in the primary
// pass. If a tracked signal arrives before or during the primary pass,
// dispatch of the remaining primary batch is abandoned and
// SignalPending is reported, matching the "signal window" of
// spec.md §4.2.
func (l *Loop) WaitRequest(timeout time.Duration) Result {
	res := Result{}
	seen := make(map[int64]struct{}, drainBound)

	for i := 0; i < drainBound; i++ {
		select {
		case id := <-l.priorityCh:
			if c, ok := l.reg.Lookup(id); ok {
				c.Dispatch(l.authenticate)
				res.Dispatched++
			}
			seen[id] = struct{}{}
		default:
			i = drainBound // break out
		}
	}

	select {
	case sig := <-l.sigCh:
		res.SignalPending = true
		res.Signal = sig
		l.reg.SweepIdle(time.Now())
		return res
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

primaryLoop:
	for {
		select {
		case id := <-l.primaryCh:
			if _, already := seen[id]; already {
				continue
			}
			if c, ok := l.reg.Lookup(id); ok {
				c.Dispatch(l.authenticate)
				res.Dispatched++
			}
		case sig := <-l.sigCh:
			res.SignalPending = true
			res.Signal = sig
			break primaryLoop
		case <-timer.C:
			break primaryLoop
		}
	}

	l.reg.SweepIdle(time.Now())
	return res
}

// Run drives WaitRequest in a loop until ctx-like stop is signalled via
// stop being closed. Each tick uses tickTimeout as its readiness wait.
func (l *Loop) Run(stop <-chan struct{}, tickTimeout time.Duration, onSignal func(os.Signal)) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		res := l.WaitRequest(tickTimeout)
		if res.SignalPending && onSignal != nil {
			onSignal(res.Signal)
		}
	}
}
