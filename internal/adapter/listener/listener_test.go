package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pbspro/sched-ctl/internal/domain/eventloop"
	"github.com/pbspro/sched-ctl/internal/domain/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// InitListener binds an ephemeral port with SO_REUSEADDR and a real
// backlog; the returned net.Listener accepts connections immediately.
func TestInitListenerBinds(t *testing.T) {
	ln, err := InitListener(context.Background(), 0)
	require.NoError(t, err)
	defer ln.Close()

	assert.NotEmpty(t, ln.Addr().String())
}

// A third AttachListener call fails; the first two succeed as primary
// and secondary respectively (spec.md §4.3, Open Question 3).
func TestAttachListenerLimitsToTwo(t *testing.T) {
	reg := registry.New()
	loop := New_testLoop(reg)
	l := New(reg, loop)

	ln1, err := InitListener(context.Background(), 0)
	require.NoError(t, err)
	defer ln1.Close()
	ln2, err := InitListener(context.Background(), 0)
	require.NoError(t, err)
	defer ln2.Close()
	ln3, err := InitListener(context.Background(), 0)
	require.NoError(t, err)
	defer ln3.Close()

	require.NoError(t, l.AttachListener(ln1, nil, func(*registry.Connection) {}))
	require.NoError(t, l.AttachListener(ln2, nil, func(*registry.Connection) {}))
	assert.Error(t, l.AttachListener(ln3, nil, func(*registry.Connection) {}))
}

// Accepting a connection enrolls it in the registry, and bytes written
// by the peer reach its data_hook through the event loop.
func TestAcceptEnrollsConnection(t *testing.T) {
	reg := registry.New()
	loop := New_testLoop(reg)
	l := New(reg, loop)

	ln, err := InitListener(context.Background(), 0)
	require.NoError(t, err)
	defer ln.Close()

	var dataCalled = make(chan struct{}, 1)
	require.NoError(t, l.AttachListener(ln, nil, func(c *registry.Connection) {
		select {
		case dataCalled <- struct{}{}:
		default:
		}
	}))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				loop.WaitRequest(10 * time.Millisecond)
			}
		}
	}()

	cli, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer cli.Close()

	assert.Eventually(t, func() bool {
		return reg.Len() == 1
	}, time.Second, 5*time.Millisecond)

	_, err = cli.Write([]byte("ping"))
	require.NoError(t, err)

	select {
	case <-dataCalled:
	case <-time.After(time.Second):
		t.Fatal("data_hook was not invoked after write")
	}
}

// New_testLoop builds a loop whose authenticator accepts every
// connection, for use in this package's own tests; it is not exported
// outside test builds.
func New_testLoop(reg *registry.Registry) *eventloop.Loop {
	return eventloop.New(reg, func(*registry.Connection) error { return nil })
}
