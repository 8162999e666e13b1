package route

import "routeagent.ai/internal/protocol"

// RunState is the global lifecycle.
type RunState string

const (
	Stopped RunState = "STOPPED"
	Running RunState = "RUNNING"
	Paused  RunState = "PAUSED"
)

// RouteState is the sub-state of the active route.
type RouteState string

const (
	Idle              RouteState = "IDLE"
	ExecutingWaypoint RouteState = "EXECUTING_WAYPOINT"
)

// State is the whole mutable execution state. The zero value is not valid;
// use Reset.
type State struct {
	Global        RunState   `json:"global"`
	Route         RouteState `json:"route"`
	RouteID       string     `json:"route_id,omitempty"`
	WaypointIndex int        `json:"waypoint_index"`
	RetryCount    int        `json:"retry_count"`
	LastError     string     `json:"last_error,omitempty"`
}

// Reset returns the STOPPED/IDLE state with no route, index 0, retry 0.
func Reset() State {
	return State{Global: Stopped, Route: Idle}
}

// Active reports whether a route is loaded (running, paused or mid-step).
func (s State) Active() bool { return s.RouteID != "" }

// Outcome classifies one advancement cycle.
type Outcome string

const (
	OutcomeIdle      Outcome = "idle"
	OutcomeFault     Outcome = "fault"
	OutcomeRecovered Outcome = "recovered"
	OutcomeCompleted Outcome = "completed"
	OutcomeRouteDone Outcome = "route_done"
)

// Result is what every Machine operation returns: the state after the
// operation and the envelopes to emit, in order.
type Result struct {
	State   State
	Events  []protocol.Envelope
	Outcome Outcome
}
