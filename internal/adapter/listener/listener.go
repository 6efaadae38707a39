/*
Package listener implements the Listener/Acceptor component of
spec.md §4.3: bind a stream socket on a service port, accept
connections, tag reserved-port peers, and enroll them in the
connection registry. Net.ListenConfig's Control hook is used to set
SO_REUSEADDR the way a systems-language daemon would, rather than
leaving it to the OS default.
*/
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pbspro/sched-ctl/internal/domain/eventloop"
	"github.com/pbspro/sched-ctl/internal/domain/model"
	"github.com/pbspro/sched-ctl/internal/domain/registry"
)

// Backlog is the fixed listen backlog spec.md §4.3 mandates.
const Backlog = 256

// ReservedPortThreshold is the boundary below which a peer's source
// port is treated as a weak authentication signal (spec.md GLOSSARY
// "Reserved port"). 1024 is the traditional Unix privileged-port
// cutoff.
const ReservedPortThreshold = 1024

// Listener binds a service port and feeds accepted connections into a
// registry, dispatching their readiness through an event loop.
type Listener struct {
	reg  *registry.Registry
	loop *eventloop.Loop
	log  *slog.Logger

	mu        sync.Mutex
	primary   net.Listener
	secondary net.Listener
	readyHook registry.ReadyHook
	dataHook  registry.DataHook

	// priorityArm and priorityHit implement the bounded secondary-accept
	// window of spec.md §4.5 step 4: the supervisor arms the window via
	// AwaitPriorityConnection after reading a command, and the next
	// connection accepted while it's armed is enrolled with
	// registry.Priority() instead of as an ordinary inbound client.
	priorityArm atomic.Bool
	priorityHit chan int64
}

// New builds a Listener bound to reg and loop.
func New(reg *registry.Registry, loop *eventloop.Loop, opts ...Option) *Listener {
	l := &Listener{reg: reg, loop: loop, log: slog.Default(), priorityHit: make(chan int64, 1)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger overrides the default logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Listener) {
		if lg != nil {
			l.log = lg
		}
	}
}

var reuseAddrControl = func(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// InitListener binds INADDR_ANY:port with SO_REUSEADDR and a 256
// backlog (spec.md §4.3).
func InitListener(ctx context.Context, port int) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listener: init on port %d: %w", port, err)
	}
	return ln, nil
}

// AttachListener registers ln as this daemon's primary listener on the
// first call and as the secondary on the second; a third call fails,
// per spec.md §4.3 and Open Question 3 (exactly two registrations
// supported, by design).
func (l *Listener) AttachListener(ln net.Listener, ready registry.ReadyHook, data registry.DataHook) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.readyHook = ready
	l.dataHook = data

	switch {
	case l.primary == nil:
		l.primary = ln
		go l.acceptLoop(ln, model.KindPrimaryListener)
		return nil
	case l.secondary == nil:
		l.secondary = ln
		go l.acceptLoop(ln, model.KindSecondaryListener)
		return nil
	default:
		return errors.New("listener: at most two listeners (primary, secondary) may be attached")
	}
}

func (l *Listener) acceptLoop(ln net.Listener, kind model.ConnKind) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Warn("LISTENER_ACCEPT_FAILED", "kind", kind.String(), "error", err)
			continue
		}
		l.onAccept(conn)
	}
}

func (l *Listener) onAccept(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true) // Nagle-disable per spec.md §4.3
	}

	host, port := splitHostPort(conn.RemoteAddr())

	var opts []registry.AddOption
	if port > 0 && port < ReservedPortThreshold {
		opts = append(opts, registry.FromPrivilegedPort())
	}

	// Only the first connection accepted while the window is armed claims
	// it; CompareAndSwap makes that claim atomic against concurrent
	// accepts on the same listener.
	isPriority := l.priorityArm.CompareAndSwap(true, false)
	if isPriority {
		opts = append(opts, registry.Priority())
	}

	rec := l.reg.Add(model.KindInboundClient, host, uint16(port), l.readyHook, l.dataHook, func(c *registry.Connection) {
		_ = conn.Close()
	}, opts...)
	if rec == nil {
		_ = conn.Close()
		return
	}
	rec.SetData(conn)

	l.log.Info("CONN_ACCEPTED", "conn_id", rec.ID(), "addr", host, "port", port, "privileged", rec.FromPrivilegedPort(), "priority", isPriority)

	if isPriority {
		select {
		case l.priorityHit <- rec.ID():
		default:
		}
	}

	go l.watch(rec, conn)
}

// AwaitPriorityConnection arms the priority-accept window for timeout
// and blocks until either a connection is accepted while it's armed or
// the window elapses, whichever comes first (spec.md §4.5 step 4:
// "accept a second connection on the same listener, the priority
// command channel, bounded to 1 s"). It never blocks past timeout.
func (l *Listener) AwaitPriorityConnection(timeout time.Duration) (connID int64, ok bool) {
	select {
	case <-l.priorityHit:
	default:
	}
	l.priorityArm.Store(true)
	defer l.priorityArm.Store(false)

	select {
	case id := <-l.priorityHit:
		return id, true
	case <-time.After(timeout):
		return 0, false
	}
}

// watch blocks on Read for readiness, mirroring how a single-threaded
// poll/epoll loop would learn of inbound bytes, then notifies the
// event loop exactly once per arrival.
func (l *Listener) watch(rec *registry.Connection, conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			rec.SetData(pendingRead{conn: conn, bytes: cp})
			l.loop.Notify(rec)
		}
		if err != nil {
			rec.SetData(pendingRead{conn: conn, err: err})
			l.loop.Notify(rec)
			return
		}
	}
}

// pendingRead is the outcome of the most recent blocking Read on a
// connection's socket, consumed by that connection's data_hook.
type pendingRead struct {
	conn  net.Conn
	bytes []byte
	err   error
}

// PendingRead extracts the buffered read outcome set by watch, or
// false if none is pending (e.g. a non-socket connection).
func PendingRead(c *registry.Connection) (conn net.Conn, data []byte, err error, ok bool) {
	pr, match := c.Data().(pendingRead)
	if !match {
		return nil, nil, nil, false
	}
	return pr.conn, pr.bytes, pr.err, true
}

func splitHostPort(addr net.Addr) (string, int) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String(), 0
	}
	return tcpAddr.IP.String(), tcpAddr.Port
}
