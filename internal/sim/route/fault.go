package route

import "routeagent.ai/internal/sim/tuning"

// Fault describes one injected waypoint failure and how it is recovered.
type Fault struct {
	Code         string
	Severity     string
	WaypointType string
	Strategy     string
}

// FaultPolicy decides whether the waypoint at index fails. The machine only
// consults it when no retry is pending, so a policy can never make the same
// waypoint fail twice in a row.
type FaultPolicy interface {
	FaultAt(index int) (Fault, bool)
}

// ModuloFault fails every waypoint whose index is a multiple of Every.
type ModuloFault struct {
	Every    int
	Template Fault
}

func (m ModuloFault) FaultAt(index int) (Fault, bool) {
	if !everyN(index, m.Every) {
		return Fault{}, false
	}
	return m.Template, true
}

// NoFaults never injects a failure.
type NoFaults struct{}

func (NoFaults) FaultAt(int) (Fault, bool) { return Fault{}, false }

// PolicyFromTuning builds the configured policy.
func PolicyFromTuning(t tuning.Faults) FaultPolicy {
	if !t.Enabled {
		return NoFaults{}
	}
	return ModuloFault{
		Every: t.Every,
		Template: Fault{
			Code:         t.Code,
			Severity:     t.Severity,
			WaypointType: t.WaypointType,
			Strategy:     t.Strategy,
		},
	}
}
