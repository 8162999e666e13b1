package route

import (
	"fmt"

	"routeagent.ai/internal/emit"
	"routeagent.ai/internal/protocol"
	"routeagent.ai/internal/sim/tuning"
)

// Machine is the execution FSM plus the waypoint advancement engine. It owns
// its state outright and is not safe for concurrent use; the agent loop is the
// only caller in production.
type Machine struct {
	cfg    tuning.Tuning
	emit   *emit.Emitter
	faults FaultPolicy

	state   State
	stamina float64
	sense   Perception
}

type Option func(*Machine)

// WithFaultPolicy replaces the policy derived from tuning.
func WithFaultPolicy(p FaultPolicy) Option {
	return func(m *Machine) {
		if p != nil {
			m.faults = p
		}
	}
}

func New(cfg tuning.Tuning, em *emit.Emitter, opts ...Option) *Machine {
	if em == nil {
		em = emit.New(nil)
	}
	m := &Machine{
		cfg:     cfg,
		emit:    em,
		faults:  PolicyFromTuning(cfg.Faults),
		state:   Reset(),
		stamina: cfg.Perception.StaminaStart,
	}
	m.sense = Perception{Stamina: m.stamina}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) State() State { return m.state }

func (m *Machine) Perception() Perception { return m.sense }

// Snapshot renders the current perception as a PERCEPTION_SNAPSHOT payload.
func (m *Machine) Snapshot(ts int64) protocol.PerceptionPayload {
	return m.sense.Payload(ts, m.state.LastError)
}

// StateChanged builds the FSM_STATE_CHANGED envelope for the current state.
func (m *Machine) StateChanged() protocol.Envelope {
	return m.emit.StateChanged(string(m.state.Global), string(m.state.Route))
}

// StartRoute is valid from any state. An empty routeID selects the configured
// default route.
func (m *Machine) StartRoute(routeID string) Result {
	if routeID == "" {
		routeID = m.cfg.Route.DefaultID
	}
	m.state = State{
		Global:        Running,
		Route:         ExecutingWaypoint,
		RouteID:       routeID,
		WaypointIndex: 1,
	}

	typ := m.waypointType(1)
	events := []protocol.Envelope{
		m.StateChanged(),
		m.emit.RouteStarted(routeID),
		m.emit.Timeline(protocol.CategoryRoute, protocol.LevelInfo, "Route started", routeID, map[string]any{"route_id": routeID}),
		m.emit.WaypointStarted(routeID, 1, typ),
		m.emit.Timeline(protocol.CategoryRoute, protocol.LevelInfo, "Waypoint started", typ, map[string]any{"index": 1, "type": typ}),
	}
	return Result{State: m.state, Events: events}
}

// Pause only acts while RUNNING; any other state returns no events.
func (m *Machine) Pause() Result {
	if m.state.Global != Running {
		return Result{State: m.state}
	}
	m.state.Global = Paused
	return Result{State: m.state, Events: []protocol.Envelope{
		m.StateChanged(),
		m.emit.Timeline(protocol.CategorySystem, protocol.LevelInfo, "Paused", "Execution paused", nil),
	}}
}

// Stop resets everything and always emits the state change, so observers can
// force a re-sync by stopping an already stopped agent.
func (m *Machine) Stop() Result {
	m.state = Reset()
	return Result{State: m.state, Events: []protocol.Envelope{
		m.StateChanged(),
		m.emit.Timeline(protocol.CategorySystem, protocol.LevelInfo, "Stopped", "Execution stopped", nil),
	}}
}

// Step runs exactly one advancement cycle whatever the RunState is. It does
// not change RunState itself, though the cycle may finish the route.
func (m *Machine) Step() Result {
	step := m.emit.Timeline(protocol.CategorySystem, protocol.LevelInfo, "Step", "Executing one step", nil)
	r := m.Advance()
	r.Events = append([]protocol.Envelope{step}, r.Events...)
	return r
}

// Advance runs one advancement cycle.
func (m *Machine) Advance() Result {
	if !m.state.Active() {
		return Result{State: m.state, Outcome: OutcomeIdle}
	}

	idx := m.state.WaypointIndex
	m.stamina -= m.cfg.Perception.StaminaDecay
	m.sense = sense(m.cfg.Perception, idx, m.stamina)

	var events []protocol.Envelope

	// A pending retry saturates the policy: the retried waypoint always
	// completes.
	if m.state.RetryCount == 0 {
		if f, ok := m.faults.FaultAt(idx); ok {
			events = append(events, m.raise(f, idx)...)
			return Result{State: m.state, Events: events, Outcome: OutcomeFault}
		}
	}

	outcome := OutcomeCompleted
	if m.state.RetryCount > 0 {
		events = append(events, m.emit.Timeline(protocol.CategoryRoute, protocol.LevelInfo, "Waypoint completed", "Recovered and completed", map[string]any{"index": idx}))
		m.state.RetryCount = 0
		m.state.LastError = ""
		outcome = OutcomeRecovered
	} else {
		events = append(events, m.emit.Timeline(protocol.CategoryRoute, protocol.LevelInfo, "Waypoint completed", "Normal completion", map[string]any{"index": idx}))
	}

	idx++
	m.state.WaypointIndex = idx

	if idx > m.cfg.Route.Length {
		routeID := m.state.RouteID
		events = append(events, m.emit.Timeline(protocol.CategoryRoute, protocol.LevelInfo, "Route completed", routeID, map[string]any{"route_id": routeID}))
		stop := m.Stop()
		events = append(events, stop.Events...)
		return Result{State: m.state, Events: events, Outcome: OutcomeRouteDone}
	}

	typ := m.waypointType(idx)
	events = append(events,
		m.emit.WaypointStarted(m.state.RouteID, idx, typ),
		m.emit.Timeline(protocol.CategoryRoute, protocol.LevelInfo, "Waypoint started", typ, map[string]any{"index": idx, "type": typ}),
	)
	return Result{State: m.state, Events: events, Outcome: outcome}
}

// raise records the injected failure and immediately schedules the one-shot
// retry. The index is left unchanged.
func (m *Machine) raise(f Fault, idx int) []protocol.Envelope {
	m.state.LastError = f.Code
	ctx := map[string]any{
		"route":    m.state.RouteID,
		"waypoint": f.WaypointType,
		"index":    idx,
	}
	level := protocol.LevelWarn
	if f.Severity == protocol.SeverityFatal {
		level = protocol.LevelError
	}
	events := []protocol.Envelope{
		m.emit.ErrorRaised(f.Code, f.Severity, ctx),
		m.emit.Timeline(protocol.CategoryError, level, "Error "+f.Code, "An error was raised", ctx),
	}

	m.state.RetryCount = 1
	attempt := m.state.RetryCount
	events = append(events,
		m.emit.RecoveryApplied(f.Code, f.Strategy, attempt),
		m.emit.Timeline(protocol.CategoryRecovery, protocol.LevelInfo, "Recovery applied", fmt.Sprintf("%s (%d)", f.Strategy, attempt), map[string]any{
			"error_code": f.Code,
			"strategy":   f.Strategy,
			"attempt":    attempt,
		}),
	)
	return events
}

func (m *Machine) waypointType(idx int) string {
	if everyN(idx, m.cfg.Route.AltTypeEvery) {
		return m.cfg.Route.AltType
	}
	return m.cfg.Route.DefaultType
}
