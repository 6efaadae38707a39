package registry

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pbspro/sched-ctl/internal/domain/model"
)

// ReadyHook reports whether a connection's socket has data ready.
// -1 means the connection is dead and must be closed; 0 means not yet;
// >0 means data_hook should run (spec.md §3).
type ReadyHook func(c *Connection) int

// DataHook is invoked once ReadyHook (if any) reports data-ready. It owns
// surfacing EOF and parse errors by closing the connection itself
// (spec.md §4.2 step 4).
type DataHook func(c *Connection)

// CloseHook runs exactly once, on the first close of a connection
// (spec.md §3 invariants).
type CloseHook func(c *Connection)

// Connection is one entry in the registry: the Go analogue of spec.md
// §3's connection record. It is safe for concurrent use; the event loop
// and the idle sweep may touch it from different goroutines.
type Connection struct {
	id   int64
	// corrID is a mint-once request-correlation id distinct from id:
	// id is the dense registry-local handle the bitsets and map are
	// keyed on, corrID is what gets logged and handed to peers so
	// multiple log lines (and, in the multi-server client, multiple
	// per-endpoint calls) about the same logical connection can be
	// tied together without leaking the registry's internal numbering.
	corrID string
	kind   model.ConnKind
	addr   string
	port   uint16

	readyHook ReadyHook
	dataHook  DataHook
	onClose   CloseHook

	priority bool

	authenticated      atomic.Bool
	fromPrivilegedPort atomic.Bool
	noTimeout          atomic.Bool
	lastActivity       atomic.Int64 // unix nanoseconds

	dataMu sync.RWMutex
	data   any

	// AuthConfig is an opaque handle (e.g. a TLS/Kerberos context) freed
	// on close, per spec.md §3 "optional authentication configuration
	// handle (freed on close)".
	authConfig io.Closer

	closeOnce sync.Once
	reg       *Registry
}

func (c *Connection) ID() int64             { return c.id }
func (c *Connection) CorrelationID() string { return c.corrID }
func (c *Connection) Kind() model.ConnKind  { return c.kind }
func (c *Connection) Addr() string          { return c.addr }
func (c *Connection) Port() uint16          { return c.port }
func (c *Connection) Priority() bool        { return c.priority }

func (c *Connection) Authenticated() bool      { return c.authenticated.Load() }
func (c *Connection) MarkAuthenticated()       { c.authenticated.Store(true) }
func (c *Connection) FromPrivilegedPort() bool { return c.fromPrivilegedPort.Load() }
func (c *Connection) NoTimeout() bool          { return c.noTimeout.Load() }

// Touch bumps last_activity to now, as every dispatch does per spec.md
// §4.2 step 1.
func (c *Connection) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) Data() any {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	return c.data
}

func (c *Connection) SetData(v any) {
	c.dataMu.Lock()
	c.data = v
	c.dataMu.Unlock()
}

// Close is idempotent: on a second and later call it is a no-op. The
// first call unlinks the record from the registry, invokes the
// on-close hook exactly once, and releases the auth config handle
// (spec.md §3 invariants, §4.1 "close(sock)").
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if c.reg != nil {
			c.reg.remove(c)
		}
		if c.onClose != nil {
			c.onClose(c)
		}
		if c.authConfig != nil {
			_ = c.authConfig.Close()
		}
	})
}
