package registry

import (
	"errors"
	"testing"

	"github.com/pbspro/sched-ctl/internal/domain/model"
	"github.com/stretchr/testify/assert"
)

// Dispatch closes the connection and never runs data_hook when
// authentication fails.
func TestDispatchAuthFailureCloses(t *testing.T) {
	r := New()
	var dataCalled bool
	c := r.Add(model.KindInboundClient, "10.0.0.1", 9001, nil,
		func(*Connection) { dataCalled = true }, nil)

	c.Dispatch(func(*Connection) error { return errors.New("denied") })

	assert.False(t, dataCalled)
	_, ok := r.Lookup(c.ID())
	assert.False(t, ok)
}

// Dispatch marks the connection authenticated on success and proceeds
// to data_hook.
func TestDispatchAuthSuccessProceeds(t *testing.T) {
	r := New()
	var dataCalled bool
	c := r.Add(model.KindInboundClient, "10.0.0.1", 9001, nil,
		func(*Connection) { dataCalled = true }, nil)

	c.Dispatch(func(c *Connection) error { return nil })

	assert.True(t, dataCalled)
	assert.True(t, c.Authenticated())
}

// Listener and transport-peer kinds never go through authenticate.
func TestDispatchTrustedKindsSkipAuth(t *testing.T) {
	r := New()
	var dataCalled bool
	c := r.Add(model.KindPrimaryListener, "0.0.0.0", 15001, nil,
		func(*Connection) { dataCalled = true }, nil)

	c.Dispatch(func(*Connection) error {
		t.Fatal("authenticate should not be called for a trusted kind")
		return nil
	})

	assert.True(t, dataCalled)
}

// A ready_hook returning -1 closes the connection without running
// data_hook; 0 leaves it open and skips data_hook; >0 proceeds.
func TestDispatchReadyHookOutcomes(t *testing.T) {
	cases := []struct {
		name       string
		ready      int
		wantClosed bool
		wantData   bool
	}{
		{"fail", -1, true, false},
		{"not-yet", 0, false, false},
		{"ready", 1, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New()
			var dataCalled bool
			c := r.Add(model.KindTransportPeer, "10.0.0.2", 17000,
				func(*Connection) int { return tc.ready },
				func(*Connection) { dataCalled = true }, nil)

			c.Dispatch(nil)

			assert.Equal(t, tc.wantData, dataCalled)
			_, ok := r.Lookup(c.ID())
			assert.Equal(t, !tc.wantClosed, ok)
		})
	}
}
