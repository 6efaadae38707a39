/*
Package supervisor implements the Daemon Supervisor of spec.md §4.5:
the startup sequence, the command pump that turns an accepted
connection into a policy-engine invocation, the signal handling table,
and the crash-restart heuristic. It is the top-level consumer of the
connection registry (A), event loop (B), and listener (C); the
multi-server client (D) is a peer component the policy engine may use,
not something the supervisor itself drives.

Grounded in the teacher's graceful-shutdown pattern (cmd/cmd.go's
signal.Notify + context cancellation) generalized to spec.md's richer
signal table and the command-pump state machine it layers on top.
*/
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pbspro/sched-ctl/config"
	"github.com/pbspro/sched-ctl/internal/adapter/listener"
	"github.com/pbspro/sched-ctl/internal/adapter/pubsub"
	"github.com/pbspro/sched-ctl/internal/domain/event"
	"github.com/pbspro/sched-ctl/internal/domain/eventloop"
	"github.com/pbspro/sched-ctl/internal/domain/model"
	"github.com/pbspro/sched-ctl/internal/domain/registry"
	"github.com/pbspro/sched-ctl/internal/transport/wire"
)

// restartGrace is the uptime threshold below which a SIGSEGV/SIGBUS
// just aborts instead of re-executing, to avoid a crash loop
// (spec.md §4.5 "Signal handling").
const restartGrace = 5 * time.Minute

// priorityWindow bounds how long the command pump waits for the
// server to open a second, priority command connection on the same
// listener before proceeding to the scheduling cycle (spec.md §4.5
// step 4, §8 "Secondary-command accept past 1 s must return without
// blocking further").
const priorityWindow = 1 * time.Second

// Supervisor owns the startup sequence and command pump described in
// spec.md §4.5.
type Supervisor struct {
	cfg       *config.Config
	reg       *registry.Registry
	loop      *eventloop.Loop
	ln        *listener.Listener
	policy    PolicyEngine
	transport *wire.CBORTransport
	allow     *config.AllowList
	logger    *slog.Logger
	events    pubsub.EventDispatcher

	instanceLock *instanceLock
	startedAt    time.Time
	watcher      *fsnotify.Watcher

	helloSent atomic.Bool
	sigpipe   atomic.Bool
	state     atomic.Value // State

	cleanupLock sync.Mutex // serializes shutdown vs. crash-restart (spec.md §5 "cleanup_lock")
	shutdownHit bool

	sigCh chan os.Signal
	stop  chan struct{}
}

// New builds a Supervisor. It does not acquire the lock or bind the
// listener yet; call Start for that.
func New(cfg *config.Config, reg *registry.Registry, loop *eventloop.Loop, ln *listener.Listener, policy PolicyEngine, transport *wire.CBORTransport, allow *config.AllowList, logger *slog.Logger, events pubsub.EventDispatcher) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		cfg:       cfg,
		reg:       reg,
		loop:      loop,
		ln:        ln,
		policy:    policy,
		transport: transport,
		allow:     allow,
		logger:    logger,
		events:    events,
		sigCh:     make(chan os.Signal, 8),
		stop:      make(chan struct{}),
	}
	s.state.Store(Idle)
	return s
}

// State reports the supervisor's current state-machine node, for the
// operator status surface.
func (s *Supervisor) State() State {
	return s.state.Load().(State)
}

func (s *Supervisor) setState(st State) {
	s.state.Store(st)
	s.logger.Debug("SUPERVISOR_STATE", "state", st.String())
}

// Start runs the spec.md §4.5 startup sequence: resolve
// primary/secondary identity (which selects the lock file), acquire the
// single-instance lock, populate
// the allow-list, bind the service port, init the policy engine, then
// launch the command pump's event loop on its own goroutine.
func (s *Supervisor) Start(ctx context.Context) error {
	secondary, err := s.resolveIdentity()
	if err != nil {
		return err
	}

	lk, err := acquireLock(s.cfg.PrivDir(), secondary)
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	s.instanceLock = lk
	s.startedAt = time.Now()

	if s.cfg.ClientsFile != "" {
		if err := s.allow.LoadFile(s.cfg.ClientsFile, s.logger); err != nil {
			return fmt.Errorf("supervisor: %w", err)
		}
		if err := s.watchClientsFile(); err != nil {
			s.logger.Warn("SUPERVISOR_CLIENTS_WATCH_FAILED", "error", err)
		}
	}

	ln, err := listener.InitListener(ctx, s.cfg.SchedulerPort)
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	if err := s.ln.AttachListener(ln, s.readyHook, s.dataHook); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	if err := s.policy.Init(s.cfg.WorkerThreads); err != nil {
		return fmt.Errorf("supervisor: policy init: %w", err)
	}

	s.installSignalHandlers()
	go func() {
		defer s.Recover()
		s.loop.Run(s.stop, time.Second, s.onSignal)
	}()

	s.logger.Info("SUPERVISOR_STARTED", "port", s.cfg.SchedulerPort, "instance", s.cfg.InstanceName, "secondary", secondary)
	return nil
}

// resolveIdentity decides whether this process is the primary or the
// secondary scheduler instance (spec.md §4.5 step 2): if both a
// primary and secondary host are configured, exactly one of them must
// resolve to our fully-qualified hostname; otherwise we are the sole
// primary.
func (s *Supervisor) resolveIdentity() (secondary bool, err error) {
	if s.cfg.PrimaryHost == "" && s.cfg.SecondaryHost == "" {
		return false, nil
	}
	if s.cfg.PrimaryHost == "" || s.cfg.SecondaryHost == "" {
		return false, nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		return false, fmt.Errorf("supervisor: resolve own hostname: %w", err)
	}

	if matchesHost(hostname, s.cfg.PrimaryHost) {
		return false, nil
	}
	if matchesHost(hostname, s.cfg.SecondaryHost) {
		return true, nil
	}
	return false, fmt.Errorf("supervisor: own host %q matches neither primary %q nor secondary %q", hostname, s.cfg.PrimaryHost, s.cfg.SecondaryHost)
}

func matchesHost(self, configured string) bool {
	if self == configured {
		return true
	}
	selfAddrs, _ := net.LookupHost(self)
	confAddrs, _ := net.LookupHost(configured)
	for _, a := range selfAddrs {
		for _, b := range confAddrs {
			if a == b {
				return true
			}
		}
	}
	return false
}

// readyHook rejects peers that fail the reserved-port or allow-list
// checks before any command bytes are ever parsed (spec.md §4.5
// step 3, §6 "Peers must connect from a port below the reserved-port
// threshold and their address must appear in the allow-list").
func (s *Supervisor) readyHook(c *registry.Connection) int {
	s.setState(Accepting)
	if !c.FromPrivilegedPort() {
		s.logger.Warn("SUPERVISOR_REJECTED_PORT", "conn_id", c.ID(), "corr_id", c.CorrelationID(), "addr", c.Addr())
		s.setState(Reject)
		return -1
	}
	if s.allow != nil && !s.allow.Allowed(c.Addr()) {
		s.logger.Warn("SUPERVISOR_REJECTED_ALLOWLIST", "conn_id", c.ID(), "corr_id", c.CorrelationID(), "addr", c.Addr())
		s.setState(Reject)
		return -1
	}
	return 1
}

// dataHook implements command-pump steps 3-7 for one accepted
// connection's readable event: decode the command, send the startup
// handshake on the very first command, block signals for the cycle,
// invoke the policy engine, then close.
func (s *Supervisor) dataHook(c *registry.Connection) {
	s.setState(AwaitCmd)
	conn, data, readErr, ok := listener.PendingRead(c)
	if !ok || readErr != nil {
		s.setState(AbortCycle)
		s.reg.Close(c.ID())
		return
	}

	cmd, err := s.transport.DecodeCommandBytes(data)
	if err != nil {
		s.logger.Warn("SUPERVISOR_BAD_COMMAND", "conn_id", c.ID(), "corr_id", c.CorrelationID(), "error", err)
		s.setState(AbortCycle)
		s.reg.Close(c.ID())
		return
	}

	if s.sigpipe.Swap(false) {
		s.logger.Warn("SUPERVISOR_ABANDON_CYCLE", "reason", "sigpipe", "job_id", cmd.JobID)
		s.setState(AbortCycle)
		s.reg.Close(c.ID())
		return
	}

	s.setState(MaybeSecondary)
	// Step 4: a priority command connection arriving on its own dataHook
	// invocation is drained and discarded here rather than dispatched to
	// the policy engine, once its bytes arrive.
	if c.Priority() {
		s.setState(TeardownConn)
		s.reg.Close(c.ID())
		return
	}

	// Give the server up to priorityWindow to open a second connection on
	// this listener carrying a high-priority preempt command; the listener
	// flags it Priority() on accept, and its own dataHook invocation drains
	// it via the branch above once its bytes arrive. This never blocks the
	// pump past priorityWindow.
	if connID, ok := s.ln.AwaitPriorityConnection(priorityWindow); ok {
		s.logger.Debug("SUPERVISOR_PRIORITY_CONN_ACCEPTED", "conn_id", connID, "job_id", cmd.JobID)
	}

	if !s.helloSent.Swap(true) {
		hello := model.Hello{Host: hostnameOrEmpty(), Version: Version, CycleAlarmSec: int32(s.cfg.CycleAlarm.Seconds())}
		if err := s.transport.WriteHello(conn, hello); err != nil {
			s.logger.Warn("SUPERVISOR_HELLO_FAILED", "error", err)
		}
	}

	s.runCycleBlockingSignals(cmd, conn)

	s.setState(TeardownConn)
	s.reg.Close(c.ID())
	s.setState(Idle)
}

// runCycleBlockingSignals blocks SIGHUP/SIGINT/SIGTERM/SIGUSR1 for the
// duration of one policy-engine invocation (spec.md §4.5 step 6). It
// runs on the event-loop goroutine, so signals arriving meanwhile stay
// queued on their notify channels and are handled only after the cycle
// returns.
func (s *Supervisor) runCycleBlockingSignals(cmd model.Command, conn net.Conn) {
	s.setState(RunPolicy)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	started := time.Now()
	result, err := s.policy.Schedule(ctx, cmd, conn, cmd.JobID)
	s.publishCycleCompleted(ctx, started, err)
	if err != nil {
		s.logger.Warn("SUPERVISOR_CYCLE_FAILED", "job_id", cmd.JobID, "error", err)
		return
	}
	if result.Quit {
		s.setState(Exiting)
		close(s.stop)
	}
}

// publishCycleCompleted reports the outcome of a scheduling cycle on
// the optional ops bus. With no broker configured the dispatcher wraps
// pubsub.NewPublisher's noopPublisher, so publishing is a no-op; a nil
// dispatcher is skipped here.
func (s *Supervisor) publishCycleCompleted(ctx context.Context, started time.Time, cycleErr error) {
	if s.events == nil {
		return
	}
	ev := event.CycleCompleted{
		ServerName: s.cfg.InstanceName,
		StartedAt:  started,
		Duration:   time.Since(started),
		Succeeded:  cycleErr == nil,
	}
	if cycleErr != nil {
		ev.Error = cycleErr.Error()
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("SUPERVISOR_EVENT_PUBLISH_FAILED", "error", err)
	}
}

func hostnameOrEmpty() string {
	h, _ := os.Hostname()
	return h
}

// installSignalHandlers (re)installs the spec.md §4.5 signal table.
// SIGHUP/SIGINT/SIGTERM/SIGUSR1/SIGPIPE are funneled through sigCh and
// handled by onSignal from the single event-loop goroutine; SIGSEGV/
// SIGBUS get the crash-restart guard registered separately since a Go
// process cannot resume execution after those without recover().
func (s *Supervisor) installSignalHandlers() {
	signal.Notify(s.sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGPIPE)
}

// onSignal is invoked by the event loop whenever WaitRequest observes
// one of the tracked signals (spec.md §4.5 "Signal handling").
func (s *Supervisor) onSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGHUP:
		s.reloadAllowList()
	case syscall.SIGINT, syscall.SIGTERM:
		s.shutdown()
	case syscall.SIGPIPE:
		s.sigpipe.Store(true)
		s.logger.Warn("SUPERVISOR_SIGPIPE", "detail", "server probably died, abandoning cycle at next safe point")
	}
}

// watchClientsFile pre-warms the SIGHUP reload: it watches the clients
// file's directory (editors typically replace the file rather than
// write it in place, which a direct file watch can miss once the
// original inode is gone) and reloads the allow-list as soon as the
// configured file itself changes, instead of waiting for an operator
// to remember to send SIGHUP.
func (s *Supervisor) watchClientsFile() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("supervisor: create clients file watcher: %w", err)
	}

	dir := filepath.Dir(s.cfg.ClientsFile)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("supervisor: watch %s: %w", dir, err)
	}
	s.watcher = w

	target := filepath.Clean(s.cfg.ClientsFile)
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					s.logger.Info("SUPERVISOR_CLIENTS_FILE_CHANGED", "path", ev.Name)
					s.reloadAllowList()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("SUPERVISOR_CLIENTS_WATCH_ERROR", "error", err)
			}
		}
	}()
	return nil
}

func (s *Supervisor) reloadAllowList() {
	if s.cfg.ClientsFile == "" {
		return
	}
	if err := s.allow.LoadFile(s.cfg.ClientsFile, s.logger); err != nil {
		s.logger.Error("SUPERVISOR_RELOAD_FAILED", "error", err)
		return
	}
	s.logger.Info("SUPERVISOR_RELOADED_ALLOWLIST")
}

// shutdown implements SIGINT/SIGTERM handling: serialized against
// crash-restart by cleanupLock so at most one ever runs
// (spec.md §5 "Shared resources").
func (s *Supervisor) shutdown() {
	s.cleanupLock.Lock()
	defer s.cleanupLock.Unlock()
	if s.shutdownHit {
		return
	}
	s.shutdownHit = true

	s.setState(Exiting)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.policy.Shutdown(ctx); err != nil {
		s.logger.Error("SUPERVISOR_SHUTDOWN_POLICY_ERROR", "error", err)
	}
	s.reg.NetClose(-1)
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	_ = s.instanceLock.release()
	close(s.stop)
	s.logger.Info("SUPERVISOR_SHUTDOWN_COMPLETE")
}

// Recover implements the crash-restart REDESIGN FLAG resolution
// (spec.md §9, §4.5 "SIGSEGV, SIGBUS"): Go cannot trap those signals
// and safely resume, so this is a recover()-based guard meant to wrap
// the command pump's call stack. If uptime is at least restartGrace it
// re-execs the binary; otherwise it exits with a distinguished code so
// a persistent bug doesn't crash-loop forever.
func (s *Supervisor) Recover() {
	r := recover()
	if r == nil {
		return
	}
	s.cleanupLock.Lock()
	defer s.cleanupLock.Unlock()

	s.logger.Error("SUPERVISOR_PANIC", "recovered", fmt.Sprint(r), "uptime", time.Since(s.startedAt))
	if s.cfg.DisableRestart || time.Since(s.startedAt) < restartGrace {
		os.Exit(1)
	}

	exe, err := os.Executable()
	if err != nil {
		os.Exit(1)
	}
	_ = s.instanceLock.release()
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		os.Exit(3)
	}
}

// Version is overridden at build time via -ldflags.
var Version = "0.0.0"
