/*
Package status implements the operator status surface (SPEC_FULL.md §4):
a read-only HTTP snapshot plus a push feed of supervisor state
transitions. Grounded in the teacher's ws.WSHandler (a plain upgrade-
and-pump loop) generalized from per-user delivery events to
supervisor state transitions.
*/
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pbspro/sched-ctl/internal/adapter/pubsub"
	"github.com/pbspro/sched-ctl/internal/domain/event"
	"github.com/pbspro/sched-ctl/internal/domain/model"
	"github.com/pbspro/sched-ctl/internal/domain/registry"
	"github.com/pbspro/sched-ctl/internal/service/fanout"
	"github.com/pbspro/sched-ctl/internal/service/supervisor"
)

// Snapshot is the JSON body of GET /v1/status.
type Snapshot struct {
	SupervisorState string               `json:"supervisor_state"`
	Connections     []registry.ConnStats `json:"connections"`
	Endpoints       []EndpointSnapshot   `json:"endpoints"`
}

// EndpointSnapshot reports one fanout endpoint's connectivity.
type EndpointSnapshot struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// Handler serves the operator status surface. It holds no state of its
// own; every request reads live from the registry, the fanout client,
// and the supervisor.
type Handler struct {
	logger *slog.Logger
	reg    *registry.Registry
	client *fanout.Client
	sup    *supervisor.Supervisor
	events pubsub.EventDispatcher

	upgrader websocket.Upgrader
}

// NewHandler builds a status Handler.
func NewHandler(logger *slog.Logger, reg *registry.Registry, client *fanout.Client, sup *supervisor.Supervisor, events pubsub.EventDispatcher) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger: logger,
		reg:    reg,
		client: client,
		sup:    sup,
		events: events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WatchEndpoints polls fanout endpoint connectivity every 2 seconds and
// publishes a ServerUnreachable event when a poll finds one that was
// not Disconnected at the previous poll to be Disconnected now
// (spec.md §4.4.4 partial-failure semantics), so operators subscribed
// to the ops bus don't have to poll GET /v1/status themselves. Exits
// when ctx is cancelled (fx.Lifecycle OnStop).
func (h *Handler) WatchEndpoints(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	last := make(map[int]model.ServerState)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ep := range h.client.Endpoints() {
				cur := ep.State()
				if prev, ok := last[ep.Index]; ok && prev != model.Disconnected && cur == model.Disconnected {
					h.publishUnreachable(ep.Index, ep.Name)
				}
				last[ep.Index] = cur
			}
		}
	}
}

func (h *Handler) publishUnreachable(index int, name string) {
	if h.events == nil {
		return
	}
	ev := event.ServerUnreachable{Endpoint: name, Index: index, At: time.Now()}
	if err := h.events.Publish(context.Background(), ev); err != nil {
		h.logger.Warn("STATUS_EVENT_PUBLISH_FAILED", "error", err)
	}
}

// Routes mounts the status surface on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.serveSnapshot)
	r.Get("/ws/events", h.serveEvents)
	return r
}

func (h *Handler) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := Snapshot{
		SupervisorState: h.sup.State().String(),
		Connections:     h.reg.Snapshot(),
	}
	for _, ep := range h.client.Endpoints() {
		snap.Endpoints = append(snap.Endpoints, EndpointSnapshot{
			Index: ep.Index,
			Name:  ep.Name,
			State: ep.State().String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Error("STATUS_ENCODE_FAILED", "error", err)
	}
}

// serveEvents upgrades to a websocket and pushes a supervisor state
// line whenever it changes, polling at a fixed interval since the
// supervisor doesn't expose a change-notification channel of its own
// (spec.md doesn't specify one; this is an operator convenience, not
// part of the scheduler-to-server protocol).
func (h *Handler) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("STATUS_WS_UPGRADE_FAILED", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			cur := h.sup.State().String()
			if cur == last {
				continue
			}
			last = cur
			if err := conn.WriteMessage(websocket.TextMessage, []byte(cur)); err != nil {
				h.logger.Warn("STATUS_WS_SEND_FAILED", "error", err)
				return
			}
		}
	}
}
