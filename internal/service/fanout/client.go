/*
Package fanout implements the Multi-Server Client of spec.md §4.4: the
component that translates one logical status or management request
into calls against each configured batch server and fuses the answers.
Per-connection serialization and the sharding-hint reset live in
Endpoint; reply merging lives in merge.go; this file is the dispatch
strategies and the public Client API.
*/
package fanout

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/pbspro/sched-ctl/internal/domain/model"
	"github.com/pbspro/sched-ctl/internal/transport/wire"
)

// ErrNoServers is returned when the client has zero configured
// endpoints (spec.md §4.4.4 "An empty list of configured endpoints
// yields nil with a 'no servers' error").
var ErrNoServers = errors.New("fanout: no servers configured")

// ErrNoneAvailable is returned by the random strategy when no endpoint
// is connected (spec.md §8 "random_srv_conn on zero connected
// endpoints returns 'no available'").
var ErrNoneAvailable = errors.New("fanout: no connected endpoint available")

// Client is the multi-server client. It is thread-compatible but not
// thread-safe per spec.md §5: concurrent callers must serialize
// themselves, though each Endpoint's own lock still protects its
// connection.
type Client struct {
	endpoints   []*Endpoint
	transport   wire.Transport
	verifyAttrs bool
	logger      *slog.Logger

	lastErr atomic.Value // error

	randIntn func(n int) int
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithAttributeVerification enables attribute-syntax verification
// before management requests (spec.md §4.4.5).
func WithAttributeVerification(enabled bool) Option {
	return func(c *Client) { c.verifyAttrs = enabled }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient builds a client over endpoints, in array-index order.
func NewClient(endpoints []*Endpoint, transport wire.Transport, opts ...Option) *Client {
	c := &Client{
		endpoints: endpoints,
		transport: transport,
		logger:    slog.Default(),
		randIntn:  rand.Intn,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LastError returns the most recent per-endpoint error recorded by
// this client, mirroring the original's per-thread error slot as an
// observability convenience (spec.md §9 design note: "use an explicit
// error return from every fallible operation" - LastError is never the
// primary channel, every method below also returns an error).
func (c *Client) LastError() error {
	if v := c.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Endpoints exposes the configured endpoints in array-index order, for
// the operator status surface.
func (c *Client) Endpoints() []*Endpoint {
	return c.endpoints
}

func (c *Client) recordErr(err error) {
	if err != nil {
		c.lastErr.Store(err)
	}
}

// connectedInOrder returns every Connected endpoint, in ascending
// index order.
func (c *Client) connectedInOrder() []*Endpoint {
	out := make([]*Endpoint, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		if ep.State() == model.Connected {
			out = append(out, ep)
		}
	}
	return out
}

// pickRandom implements spec.md §4.4.2's random strategy: pick a
// uniformly random endpoint by array position; if it isn't connected,
// fall back to the first connected endpoint in index order.
func (c *Client) pickRandom() (*Endpoint, error) {
	if len(c.endpoints) == 0 {
		return nil, ErrNoServers
	}
	idx := c.randIntn(len(c.endpoints))
	if c.endpoints[idx].State() == model.Connected {
		return c.endpoints[idx], nil
	}
	for _, ep := range c.endpoints {
		if ep.State() == model.Connected {
			return ep, nil
		}
	}
	return nil, ErrNoneAvailable
}

// Status issues req against the configured endpoints per its dispatch
// strategy and returns the merged reply (spec.md §4.4.2, §4.4.3).
func (c *Client) Status(req model.StatusRequest) (*model.StatusReply, error) {
	if len(c.endpoints) == 0 {
		return nil, ErrNoServers
	}

	// corrID ties together every per-endpoint log line this one logical
	// request produces, since a single Status call may fan out to many
	// connections (spec.md §4.4.2).
	corrID := uuid.NewString()

	switch req.Strategy {
	case model.Random:
		return c.statusRandom(corrID, req)
	default:
		return c.statusAggregate(corrID, req)
	}
}

func (c *Client) statusRandom(corrID string, req model.StatusRequest) (*model.StatusReply, error) {
	ep, err := c.pickRandom()
	if err != nil {
		c.recordErr(err)
		return nil, err
	}

	reply, err := c.callEndpoint(ep, req)
	if err != nil {
		c.recordErr(err)
		c.logger.Warn("FANOUT_ENDPOINT_SKIPPED", "corr_id", corrID, "endpoint", ep.Index, "error", err)
		return nil, err
	}
	return &reply, nil
}

// statusAggregate iterates every Connected endpoint in index order,
// skipping per-endpoint failures (spec.md §4.4.4), and merges
// successful replies per the parent-object rules of spec.md §4.4.3.
func (c *Client) statusAggregate(corrID string, req model.StatusRequest) (*model.StatusReply, error) {
	endpoints := c.connectedInOrder()

	var merged *model.StatusReply
	var warnings error
	var lastErr error
	succeeded := 0

	for _, ep := range endpoints {
		reply, err := c.callEndpoint(ep, req)
		if err != nil {
			lastErr = err
			warnings = multierror.Append(warnings, fmt.Errorf("endpoint %d: %w", ep.Index, err))
			c.logger.Warn("FANOUT_ENDPOINT_SKIPPED", "corr_id", corrID, "endpoint", ep.Index, "error", err)
			continue
		}
		succeeded++

		for i := range reply.Entries {
			reply.Entries[i].ServerIdx = ep.Index
			reply.Entries[i].HasSvrIdx = true
		}

		if merged == nil {
			merged = &reply
			continue
		}
		mergeInto(merged, &reply, req.Parent)
	}

	if warnings != nil {
		c.logger.Debug("FANOUT_PARTIAL_FAILURE", "corr_id", corrID, "detail", warnings.Error())
	}

	if succeeded == 0 {
		if lastErr == nil {
			lastErr = ErrNoneAvailable
		}
		c.recordErr(lastErr)
		return nil, lastErr
	}
	return merged, nil
}

// mergeInto folds src into dst according to the parent object's merge
// strategy (spec.md §4.4.3).
func mergeInto(dst, src *model.StatusReply, parent model.ParentObject) {
	switch parent {
	case model.ParentServer:
		if len(dst.Entries) == 0 {
			dst.Entries = src.Entries
			return
		}
		for i := range src.Entries {
			mergeServer(&dst.Entries[0], &src.Entries[i])
		}
	case model.ParentQueue:
		byName := make(map[string]int, len(dst.Entries))
		for i := range dst.Entries {
			byName[dst.Entries[i].Name] = i
		}
		for i := range src.Entries {
			if j, ok := byName[src.Entries[i].Name]; ok {
				mergeQueue(&dst.Entries[j], &src.Entries[i])
			} else {
				dst.Entries = append(dst.Entries, src.Entries[i])
			}
		}
	default:
		// Job, Node, Reservation, etc: simple concatenation,
		// preserving insertion order (spec.md §4.4.3).
		dst.Entries = append(dst.Entries, src.Entries...)
	}
}

func (c *Client) callEndpoint(ep *Endpoint, req model.StatusRequest) (model.StatusReply, error) {
	var reply model.StatusReply
	err := ep.withConn(c.transport, func(conn net.Conn) error {
		r, e := c.transport.Status(conn, req)
		reply = r
		return e
	})
	if err != nil {
		return model.StatusReply{}, err
	}
	return reply, nil
}

// Manage targets exactly one connection; it never fans out
// (spec.md §4.4.5).
func (c *Client) Manage(target *Endpoint, req model.ManagementRequest) error {
	if target == nil {
		return errors.New("fanout: manage requires a target endpoint")
	}
	if err := verifyManagementRequest(req, c.verifyAttrs); err != nil {
		c.recordErr(err)
		return err
	}

	corrID := uuid.NewString()
	err := target.withConn(c.transport, func(conn net.Conn) error {
		return c.transport.Manage(conn, req)
	})
	if err != nil {
		c.recordErr(err)
		c.logger.Warn("FANOUT_MANAGE_FAILED", "corr_id", corrID, "endpoint", target.Index, "op", req.Op.String(), "error", err)
	}
	return err
}
