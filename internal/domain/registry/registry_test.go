package registry

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pbspro/sched-ctl/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Add registers a connection that Lookup can find in O(1), and the
// record disappears from the registry as soon as it is closed.
func TestRegistryAddLookupClose(t *testing.T) {
	r := New()

	var closed int32
	c := r.Add(model.KindInboundClient, "10.0.0.5", 15001, nil,
		func(*Connection) {},
		func(*Connection) { atomic.AddInt32(&closed, 1) },
	)
	require.NotNil(t, c)

	got, ok := r.Lookup(c.ID())
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.InPrimarySet(c.ID()))

	r.Close(c.ID())

	_, ok = r.Lookup(c.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int32(1), atomic.LoadInt32(&closed))
}

// Add refuses a connection with no data hook, since such a record could
// never be dispatched to.
func TestRegistryAddRejectsNilDataHook(t *testing.T) {
	r := New()
	c := r.Add(model.KindInboundClient, "10.0.0.5", 15001, nil, nil, nil)
	assert.Nil(t, c)
	assert.Equal(t, 0, r.Len())
}

// Close is idempotent: concurrent callers invoke the on-close hook
// exactly once.
func TestConnectionCloseOnce(t *testing.T) {
	r := New()

	var calls int32
	c := r.Add(model.KindInboundClient, "10.0.0.5", 15001, nil,
		func(*Connection) {},
		func(*Connection) { atomic.AddInt32(&calls, 1) },
	)
	require.NotNil(t, c)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// Priority-flagged connections are enrolled in both the primary and
// priority sets.
func TestRegistryPrioritySet(t *testing.T) {
	r := New()
	c := r.Add(model.KindTransportPeer, "10.0.0.9", 17001, nil,
		func(*Connection) {}, nil, Priority())
	require.NotNil(t, c)

	assert.True(t, r.InPrimarySet(c.ID()))
	assert.True(t, r.InPrioritySet(c.ID()))

	r.Close(c.ID())
	assert.False(t, r.InPrimarySet(c.ID()))
	assert.False(t, r.InPrioritySet(c.ID()))
}

// SweepIdle never runs more than once per sweep interval, regardless of
// how many times it's invoked.
func TestRegistrySweepIdleThrottled(t *testing.T) {
	r := New(WithIdleTimeout(100*time.Millisecond), WithSweepInterval(time.Minute))

	var closed int32
	c := r.Add(model.KindInboundClient, "10.0.0.5", 15001, nil,
		func(*Connection) {},
		func(*Connection) { atomic.AddInt32(&closed, 1) },
	)
	require.NotNil(t, c)
	c.lastActivity.Store(time.Now().Add(-time.Hour).UnixNano())

	n := r.SweepIdle(time.Now())
	assert.Equal(t, 1, n, "first call has no prior baseline, so it runs immediately")
	assert.Equal(t, int32(1), atomic.LoadInt32(&closed))

	second := r.Add(model.KindInboundClient, "10.0.0.6", 15002, nil,
		func(*Connection) {},
		func(*Connection) { atomic.AddInt32(&closed, 1) },
	)
	require.NotNil(t, second)
	second.lastActivity.Store(time.Now().Add(-time.Hour).UnixNano())

	n = r.SweepIdle(time.Now())
	assert.Equal(t, 0, n, "second call within the sweep interval must be a no-op")
	assert.Equal(t, int32(1), atomic.LoadInt32(&closed))
}

// An idle connection is reclaimed once the sweep interval has elapsed
// and its last activity exceeds the idle timeout; NoTimeout connections
// are exempt.
func TestRegistrySweepIdleReclaims(t *testing.T) {
	r := New(WithIdleTimeout(1*time.Minute), WithSweepInterval(0))

	var closedIdle, closedExempt int32
	idle := r.Add(model.KindInboundClient, "10.0.0.5", 15001, nil,
		func(*Connection) {},
		func(*Connection) { atomic.AddInt32(&closedIdle, 1) },
	)
	exempt := r.Add(model.KindInboundClient, "10.0.0.6", 15002, nil,
		func(*Connection) {},
		func(*Connection) { atomic.AddInt32(&closedExempt, 1) },
		NoTimeout(),
	)
	require.NotNil(t, idle)
	require.NotNil(t, exempt)

	past := time.Now().Add(-2 * time.Minute)
	idle.lastActivity.Store(past.UnixNano())
	exempt.lastActivity.Store(past.UnixNano())

	n := r.SweepIdle(time.Now())
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), atomic.LoadInt32(&closedIdle))
	assert.Equal(t, int32(0), atomic.LoadInt32(&closedExempt))

	_, ok := r.Lookup(exempt.ID())
	assert.True(t, ok)
}

// NetClose drops every connection except the one excluded, without
// invoking on-close hooks.
func TestRegistryNetClose(t *testing.T) {
	r := New()

	var hookCalls int32
	keep := r.Add(model.KindPrimaryListener, "0.0.0.0", 15001, nil,
		func(*Connection) {},
		func(*Connection) { atomic.AddInt32(&hookCalls, 1) },
	)
	drop := r.Add(model.KindInboundClient, "10.0.0.7", 33000, nil,
		func(*Connection) {},
		func(*Connection) { atomic.AddInt32(&hookCalls, 1) },
	)
	require.NotNil(t, keep)
	require.NotNil(t, drop)

	r.NetClose(keep.ID())

	_, ok := r.Lookup(keep.ID())
	assert.True(t, ok)
	_, ok = r.Lookup(drop.ID())
	assert.False(t, ok)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hookCalls))
}

// Snapshot reports one row per live connection, in registration order.
func TestRegistrySnapshot(t *testing.T) {
	r := New()
	a := r.Add(model.KindInboundClient, "10.0.0.1", 1, nil, func(*Connection) {}, nil)
	b := r.Add(model.KindInboundClient, "10.0.0.2", 2, nil, func(*Connection) {}, nil)
	require.NotNil(t, a)
	require.NotNil(t, b)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, a.ID(), snap[0].ID)
	assert.Equal(t, b.ID(), snap[1].ID)
}
