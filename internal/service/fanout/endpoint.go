package fanout

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pbspro/sched-ctl/internal/domain/model"
)

// DialFunc reconnects a disconnected endpoint. It is supplied by the
// caller so Endpoint stays agnostic of how connections are
// established (TLS, proxying, service discovery, ...).
type DialFunc func(index int) (net.Conn, error)

// Endpoint is one configured batch server (spec.md §3 "Server
// connection table"). Its lock serializes every RPC against this
// connection (spec.md §4.4.1); its circuit breaker models "skip a
// failing endpoint" (spec.md §4.4.4) without a network round trip once
// the endpoint has proven unreliable.
type Endpoint struct {
	Index int
	Name  string

	mu    sync.Mutex
	conn  net.Conn
	state model.ServerState
	dial  DialFunc

	breaker *gobreaker.CircuitBreaker
}

// NewEndpoint builds an endpoint at the given array index, initially
// disconnected; it dials lazily on first use via dial.
func NewEndpoint(index int, name string, dial DialFunc) *Endpoint {
	ep := &Endpoint{Index: index, Name: name, dial: dial, state: model.Disconnected}
	ep.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("fanout-endpoint-%d", index),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return ep
}

// State reports connectivity, consulting the circuit breaker so a
// tripped breaker is indistinguishable from "not connected" for
// dispatch purposes (spec.md §4.4.4 treats both as skip).
func (ep *Endpoint) State() model.ServerState {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.breaker.State() == gobreaker.StateOpen {
		return model.Disconnected
	}
	return ep.state
}

// withConn runs fn against this endpoint's connection, serialized by
// the endpoint lock and guarded by the circuit breaker, reconnecting
// first if necessary. It resets the sharding hint before every call
// per spec.md §4.4.1.
func (ep *Endpoint) withConn(transport shardResetter, fn func(net.Conn) error) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.conn == nil {
		ep.state = model.Connecting
		conn, err := ep.dial(ep.Index)
		if err != nil {
			ep.state = model.Disconnected
			return fmt.Errorf("fanout: endpoint %d dial: %w", ep.Index, err)
		}
		ep.conn = conn
		ep.state = model.Connected
	}

	transport.ResetShardingHint(ep.conn)

	_, err := ep.breaker.Execute(func() (any, error) {
		return nil, fn(ep.conn)
	})
	if err != nil {
		_ = ep.conn.Close()
		ep.conn = nil
		ep.state = model.Disconnected
		return err
	}
	return nil
}

type shardResetter interface {
	ResetShardingHint(conn net.Conn)
}
