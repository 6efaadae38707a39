package fanout

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/sony/gobreaker"

	"github.com/pbspro/sched-ctl/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTransport lets tests script per-call status/management outcomes
// without a real socket.
type mockTransport struct {
	mu         sync.Mutex
	statusFunc func(conn net.Conn, req model.StatusRequest) (model.StatusReply, error)
	manageFunc func(conn net.Conn, req model.ManagementRequest) error
	resets     int
}

func (m *mockTransport) Status(conn net.Conn, req model.StatusRequest) (model.StatusReply, error) {
	return m.statusFunc(conn, req)
}

func (m *mockTransport) Manage(conn net.Conn, req model.ManagementRequest) error {
	return m.manageFunc(conn, req)
}

func (m *mockTransport) ResetShardingHint(conn net.Conn) {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
}

func pipeDialer() DialFunc {
	return func(index int) (net.Conn, error) {
		client, server := net.Pipe()
		go drainConn(server)
		return client, nil
	}
}

func drainConn(c net.Conn) {
	buf := make([]byte, 256)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}

// Status over a zero-endpoint client returns ErrNoServers.
func TestClientStatusNoServers(t *testing.T) {
	tr := &mockTransport{}
	c := NewClient(nil, tr)

	_, err := c.Status(model.StatusRequest{Strategy: model.Aggregate})
	assert.ErrorIs(t, err, ErrNoServers)
}

// Aggregate dispatch skips a failing endpoint and still returns a
// merged reply from the survivors (spec.md §4.4.4).
func TestClientAggregateSkipsFailingEndpoint(t *testing.T) {
	tr := &mockTransport{
		statusFunc: func(conn net.Conn, req model.StatusRequest) (model.StatusReply, error) {
			return model.StatusReply{Entries: []model.StatusEntry{{Name: "j1"}}}, nil
		},
	}

	failing := NewEndpoint(0, "bad", func(int) (net.Conn, error) {
		return nil, errors.New("connection refused")
	})
	good := NewEndpoint(1, "good", pipeDialer())
	good.state = model.Connected
	failing.state = model.Connected

	c := NewClient([]*Endpoint{failing, good}, tr)

	reply, err := c.Status(model.StatusRequest{Strategy: model.Aggregate, Parent: model.ParentJob})
	require.NoError(t, err)
	require.Len(t, reply.Entries, 1)
	assert.Equal(t, 1, reply.Entries[0].ServerIdx)
}

// If every endpoint fails, Status returns nil and the last error, and
// LastError reflects it.
func TestClientAggregateAllFailReturnsError(t *testing.T) {
	tr := &mockTransport{
		statusFunc: func(conn net.Conn, req model.StatusRequest) (model.StatusReply, error) {
			return model.StatusReply{}, errors.New("protocol error")
		},
	}
	ep := NewEndpoint(0, "ep0", pipeDialer())
	ep.state = model.Connected

	c := NewClient([]*Endpoint{ep}, tr)

	reply, err := c.Status(model.StatusRequest{Strategy: model.Aggregate})
	assert.Nil(t, reply)
	require.Error(t, err)
	assert.Error(t, c.LastError())
}

// Random dispatch falls back to the first connected endpoint when the
// random pick misses.
func TestClientRandomFallsBackToFirstConnected(t *testing.T) {
	tr := &mockTransport{
		statusFunc: func(conn net.Conn, req model.StatusRequest) (model.StatusReply, error) {
			return model.StatusReply{Entries: []model.StatusEntry{{Name: "srv"}}}, nil
		},
	}
	down := NewEndpoint(0, "down", pipeDialer())
	up := NewEndpoint(1, "up", pipeDialer())
	up.state = model.Connected

	c := NewClient([]*Endpoint{down, up}, tr)
	c.randIntn = func(int) int { return 0 } // always picks the down endpoint first

	reply, err := c.Status(model.StatusRequest{Strategy: model.Random})
	require.NoError(t, err)
	require.Len(t, reply.Entries, 1)
}

// Random dispatch with no connected endpoints returns ErrNoneAvailable.
func TestClientRandomNoneAvailable(t *testing.T) {
	tr := &mockTransport{}
	ep := NewEndpoint(0, "ep0", pipeDialer())

	c := NewClient([]*Endpoint{ep}, tr)
	_, err := c.Status(model.StatusRequest{Strategy: model.Random})
	assert.ErrorIs(t, err, ErrNoneAvailable)
}

// Manage verifies object name syntax on create and rejects an invalid
// one before ever touching the network.
func TestClientManageRejectsInvalidCreateName(t *testing.T) {
	tr := &mockTransport{
		manageFunc: func(conn net.Conn, req model.ManagementRequest) error {
			t.Fatal("manage should not reach the transport for an invalid name")
			return nil
		},
	}
	ep := NewEndpoint(0, "ep0", pipeDialer())

	c := NewClient([]*Endpoint{ep}, tr)
	err := c.Manage(ep, model.ManagementRequest{Op: model.Create, ObjectName: "bad name!"})
	require.Error(t, err)
}

// Three consecutive failures trip the endpoint's circuit breaker, after
// which State reports Disconnected.
func TestEndpointCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	dials := 0
	tr := &mockTransport{
		statusFunc: func(conn net.Conn, req model.StatusRequest) (model.StatusReply, error) {
			return model.StatusReply{}, errors.New("boom")
		},
	}
	ep := NewEndpoint(0, "flaky", func(int) (net.Conn, error) {
		dials++
		client, server := net.Pipe()
		go drainConn(server)
		return client, nil
	})

	c := NewClient([]*Endpoint{ep}, tr)
	for i := 0; i < 3; i++ {
		_, _ = c.callEndpoint(ep, model.StatusRequest{})
	}

	assert.Equal(t, gobreaker.StateOpen, ep.breaker.State())
	assert.Equal(t, model.Disconnected, ep.State())
}
