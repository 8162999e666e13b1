package protocol

import "fmt"

// FSM_STATE_CHANGED
type FSMStatePayload struct {
	Global string `json:"global"`
	Route  string `json:"route"`
}

// ROUTE_STARTED
type RouteStartedPayload struct {
	RouteID string `json:"route_id"`
}

// WAYPOINT_STARTED
type WaypointStartedPayload struct {
	RouteID string `json:"route_id"`
	Index   int    `json:"index"`
	Type    string `json:"type"`
}

// Error severities carried by ERROR_RAISED.
const (
	SeverityWarn  = "WARN"
	SeverityError = "ERROR"
	SeverityFatal = "FATAL"
)

// ERROR_RAISED
type ErrorRaisedPayload struct {
	Code     string         `json:"code"`
	Severity string         `json:"severity"`
	Context  map[string]any `json:"context"`
}

// RECOVERY_APPLIED
type RecoveryAppliedPayload struct {
	ErrorCode string `json:"error_code"`
	Strategy  string `json:"strategy"`
	Attempt   int    `json:"attempt"`
}

// Timeline categories and levels.
const (
	CategoryRoute    = "ROUTE"
	CategorySystem   = "SYSTEM"
	CategoryError    = "ERROR"
	CategoryRecovery = "RECOVERY"

	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// TIMELINE_EVENT (stream). Append-only from the agent's point of view.
type TimelinePayload struct {
	Category string         `json:"category"`
	Level    string         `json:"level"`
	Title    string         `json:"title"`
	Summary  string         `json:"summary"`
	Context  map[string]any `json:"context"`
}

// PERCEPTION_SNAPSHOT (stream).
type PerceptionPayload struct {
	Timestamp  int64        `json:"timestamp"`
	Status     StatusFlags  `json:"status"`
	Battlelist Battlelist   `json:"battlelist"`
	Stamina    StaminaGauge `json:"stamina"`
	Console    ConsoleFlags `json:"console"`
}

type StatusFlags struct {
	Drunk    bool `json:"drunk"`
	Hungry   bool `json:"hungry"`
	Poisoned bool `json:"poisoned"`
}

type Battlelist struct {
	Monsters int `json:"monsters"`
	Players  int `json:"players"`
}

type StaminaGauge struct {
	Percent float64 `json:"percent"`
}

type ConsoleFlags struct {
	Contains []string `json:"contains"`
}

// HELLO request payload (optional fields).
type HelloPayload struct {
	UIVersion string `json:"ui_version,omitempty"`
}

// START_ROUTE request payload.
type StartRoutePayload struct {
	RouteID *string `json:"route_id,omitempty"`
}

// HELLO_OK (ack)
type HelloOKPayload struct {
	AgentVersion string   `json:"agent_version"`
	Capabilities []string `json:"capabilities"`
}

// OK (ack)
type OKPayload struct {
	For string `json:"for"`
}

// Body of every ERROR envelope.
type ErrorPayload struct {
	Message string `json:"message,omitempty"`
	Command string `json:"command,omitempty"`
}

// TimelineRecord is a TIMELINE_EVENT flattened for storage.
type TimelineRecord struct {
	ID string `json:"id"`
	TS int64  `json:"ts"`
	TimelinePayload
}

// TimelineRecordOf extracts the record from a TIMELINE_EVENT envelope.
func TimelineRecordOf(env Envelope) (TimelineRecord, error) {
	if env.Name != EventTimeline {
		return TimelineRecord{}, fmt.Errorf("not a timeline event: %s", env.Name)
	}
	rec := TimelineRecord{ID: env.ID, TS: env.Timestamp}
	if err := env.DecodePayload(&rec.TimelinePayload); err != nil {
		return TimelineRecord{}, fmt.Errorf("timeline payload: %w", err)
	}
	return rec, nil
}
