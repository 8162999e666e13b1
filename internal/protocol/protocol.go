package protocol

import "encoding/json"

const Version = "1.0"

// MessageType classifies an envelope.
type MessageType string

const (
	TypeEvent  MessageType = "EVENT"
	TypeAck    MessageType = "ACK"
	TypeError  MessageType = "ERROR"
	TypeStream MessageType = "STREAM"

	// TypeCommand marks observer requests. The agent dispatches on name only.
	TypeCommand MessageType = "CMD"
)

// Command names (observer -> agent).
const (
	CmdHello      = "HELLO"
	CmdStartRoute = "START_ROUTE"
	CmdPause      = "PAUSE"
	CmdStop       = "STOP"
	CmdStep       = "STEP"

	// CmdSetPrefix matches every configuration command (SET_SPEED, SET_ROI, ...).
	CmdSetPrefix = "SET_"
)

// Event names (agent -> observer).
const (
	EventFSMStateChanged    = "FSM_STATE_CHANGED"
	EventRouteStarted       = "ROUTE_STARTED"
	EventWaypointStarted    = "WAYPOINT_STARTED"
	EventErrorRaised        = "ERROR_RAISED"
	EventRecoveryApplied    = "RECOVERY_APPLIED"
	EventTimeline           = "TIMELINE_EVENT"
	EventPerceptionSnapshot = "PERCEPTION_SNAPSHOT"

	AckHelloOK = "HELLO_OK"
	AckOK      = "OK"
)

// Envelope is the versioned frame every message travels in. Wire names follow
// the UI contract: "v" for the version and "ts" for unix milliseconds.
type Envelope struct {
	Version   string          `json:"v,omitempty"`
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// DecodePayload unmarshals the envelope payload into v. An absent or null
// payload leaves v untouched.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
