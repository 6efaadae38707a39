package registry

import "github.com/pbspro/sched-ctl/internal/domain/model"

// AuthFunc implements the authenticator capability contract spec.md §1
// keeps external: authenticate(sock) -> ok, needs-reserved-port-check,
// fail. A non-nil error is "fail"; the needs-reserved-port-check branch
// is left to the implementation to consult Connection.FromPrivilegedPort
// before returning.
type AuthFunc func(c *Connection) error

// NeedsAuth reports whether this connection must pass through
// authenticate before its hooks run (spec.md §4.2 step 2). Listener,
// secondary-listener and transport-peer connections are trusted by
// construction.
func (c *Connection) NeedsAuth() bool {
	switch c.kind {
	case model.KindPrimaryListener, model.KindSecondaryListener, model.KindTransportPeer:
		return false
	}
	return !c.Authenticated()
}

// Dispatch runs the per-socket dispatch sequence of spec.md §4.2 for one
// ready connection: touch last_activity, authenticate if required, run
// ready_hook, then data_hook. It never blocks beyond what the hooks
// themselves block for.
func (c *Connection) Dispatch(authenticate AuthFunc) {
	c.Touch()

	if c.NeedsAuth() {
		if authenticate == nil || authenticate(c) != nil {
			c.Close()
			return
		}
		c.MarkAuthenticated()
	}

	if c.readyHook != nil {
		switch c.readyHook(c) {
		case -1:
			c.Close()
			return
		case 0:
			return
		}
	}

	c.dataHook(c)
}
