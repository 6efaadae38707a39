// Package event defines the operational events this control plane can
// publish to the optional ops bus (SPEC_FULL.md §2 Domain Stack,
// Watermill row). None of these are part of the scheduler-to-server
// wire protocol; they are for external observers (alerting, audit).
package event

import "time"

// Eventer is satisfied by every publishable event: a JSON-marshalable
// payload plus the routing key it should be published under.
type Eventer interface {
	GetRoutingKey() string
}

// CycleCompleted is emitted each time the supervisor's command pump
// invokes the policy engine, whether the invocation succeeded or
// returned an error (spec.md §4.5's cycle step). Commands abandoned
// before the policy engine runs emit nothing.
type CycleCompleted struct {
	ServerName   string        `json:"server_name"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	JobsExamined int           `json:"jobs_examined"`
	Succeeded    bool          `json:"succeeded"`
	Error        string        `json:"error,omitempty"`
}

func (CycleCompleted) GetRoutingKey() string { return "sched.cycle.completed" }

// ServerUnreachable is emitted when a poll sees a fanout endpoint go
// from a non-Disconnected state to Disconnected (a failed call or a
// tripped circuit breaker), so operators can alert on a persistently-failing server
// without tailing logs (spec.md §4.4.4 partial-failure semantics).
type ServerUnreachable struct {
	Endpoint  string    `json:"endpoint"`
	Index     int       `json:"index"`
	At        time.Time `json:"at"`
	LastError string    `json:"last_error"`
}

func (ServerUnreachable) GetRoutingKey() string { return "sched.endpoint.unreachable" }
