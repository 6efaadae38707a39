package eventloop

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pbspro/sched-ctl/internal/domain/model"
	"github.com/pbspro/sched-ctl/internal/domain/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S4 — priority preemption: a priority connection's data_hook runs
// before a non-priority one made ready in the same WaitRequest call,
// and is not dispatched twice.
func TestWaitRequestPriorityPreemption(t *testing.T) {
	reg := registry.New()
	var order []string
	var priorityCalls, normalCalls int32

	pc := reg.Add(model.KindTransportPeer, "10.0.0.1", 17000, nil,
		func(*registry.Connection) {
			order = append(order, "priority")
			atomic.AddInt32(&priorityCalls, 1)
		}, nil, registry.Priority())
	require.NotNil(t, pc)

	nc := reg.Add(model.KindTransportPeer, "10.0.0.2", 17001, nil,
		func(*registry.Connection) {
			order = append(order, "normal")
			atomic.AddInt32(&normalCalls, 1)
		}, nil)
	require.NotNil(t, nc)

	loop := New(reg, nil)
	defer loop.Close()

	loop.Notify(pc)
	loop.Notify(nc)

	res := loop.WaitRequest(50 * time.Millisecond)

	assert.Equal(t, 2, res.Dispatched)
	require.Len(t, order, 2)
	assert.Equal(t, "priority", order[0])
	assert.Equal(t, "normal", order[1])
	assert.Equal(t, int32(1), atomic.LoadInt32(&priorityCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&normalCalls))
}

// A connection not notified is never dispatched; WaitRequest returns
// once timeout elapses.
func TestWaitRequestTimesOutWithNoEvents(t *testing.T) {
	reg := registry.New()
	loop := New(reg, nil)
	defer loop.Close()

	start := time.Now()
	res := loop.WaitRequest(20 * time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, 0, res.Dispatched)
	assert.False(t, res.SignalPending)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
}

// Notify on a connection already removed from the registry is a
// harmless no-op at dispatch time (Lookup fails, nothing runs).
func TestWaitRequestSkipsVanishedConnection(t *testing.T) {
	reg := registry.New()
	loop := New(reg, nil)
	defer loop.Close()

	c := reg.Add(model.KindTransportPeer, "10.0.0.3", 17002, nil,
		func(*registry.Connection) {}, nil)
	require.NotNil(t, c)

	reg.Close(c.ID())
	loop.Notify(c)

	res := loop.WaitRequest(20 * time.Millisecond)
	assert.Equal(t, 0, res.Dispatched)
}
