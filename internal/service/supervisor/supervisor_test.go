package supervisor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbspro/sched-ctl/config"
	"github.com/pbspro/sched-ctl/internal/domain/model"
	"github.com/pbspro/sched-ctl/internal/domain/registry"
)

func TestStateStringer(t *testing.T) {
	assert.Equal(t, "Idle", Idle.String())
	assert.Equal(t, "RunPolicy", RunPolicy.String())
	assert.Equal(t, "Unknown", State(99).String())
}

// S6 — single-instance locking: a second attempt against the same
// private directory fails once the first holds the lock.
func TestAcquireLockSingleInstance(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sched_priv")

	first, err := acquireLock(dir, false)
	require.NoError(t, err)
	defer first.release()

	_, err = acquireLock(dir, false)
	assert.Error(t, err)
}

// A secondary lock file is independent of the primary's.
func TestAcquireLockPrimaryAndSecondaryIndependent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sched_priv")

	primary, err := acquireLock(dir, false)
	require.NoError(t, err)
	defer primary.release()

	secondary, err := acquireLock(dir, true)
	require.NoError(t, err)
	defer secondary.release()
}

func newTestSupervisor(t *testing.T, allow *config.AllowList) (*Supervisor, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	cfg := &config.Config{SchedulerPort: 0}
	s := New(cfg, reg, nil, nil, NewPassthroughPolicy(), nil, allow, nil, nil)
	return s, reg
}

func TestReadyHookRejectsNonPrivilegedPort(t *testing.T) {
	s, reg := newTestSupervisor(t, config.NewAllowList("localhost", "", ""))
	c := reg.Add(model.KindInboundClient, "127.0.0.1", 40000, nil, func(*registry.Connection) {}, nil)
	require.NotNil(t, c)

	assert.Equal(t, -1, s.readyHook(c))
}

func TestReadyHookRejectsOffAllowlist(t *testing.T) {
	s, reg := newTestSupervisor(t, config.NewAllowList("localhost", "", ""))
	c := reg.Add(model.KindInboundClient, "203.0.113.9", 900, nil, func(*registry.Connection) {}, nil, registry.FromPrivilegedPort())
	require.NotNil(t, c)

	assert.Equal(t, -1, s.readyHook(c))
}

func TestReadyHookAcceptsAllowedPrivilegedPeer(t *testing.T) {
	s, reg := newTestSupervisor(t, config.NewAllowList("localhost", "", ""))
	c := reg.Add(model.KindInboundClient, "127.0.0.1", 900, nil, func(*registry.Connection) {}, nil, registry.FromPrivilegedPort())
	require.NotNil(t, c)

	assert.Equal(t, 1, s.readyHook(c))
}
