package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Data/SetData round-trip an arbitrary payload under the connection's
// own lock, independent of the registry.
func TestConnectionData(t *testing.T) {
	c := &Connection{}
	assert.Nil(t, c.Data())

	c.SetData("payload")
	assert.Equal(t, "payload", c.Data())
}

// Touch advances LastActivity to the current time.
func TestConnectionTouch(t *testing.T) {
	c := &Connection{}
	before := time.Now().Add(-time.Second)

	c.Touch()

	assert.True(t, c.LastActivity().After(before))
}

// Close on a connection detached from any registry still runs the
// close hook and tolerates a nil reg.
func TestConnectionCloseWithoutRegistry(t *testing.T) {
	called := false
	c := &Connection{onClose: func(*Connection) { called = true }}

	c.Close()

	assert.True(t, called)
}
