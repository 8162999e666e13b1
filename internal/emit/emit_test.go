package emit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"routeagent.ai/internal/protocol"
)

func newTestEmitter() *Emitter {
	return New(protocol.NewEncoderWith(func() time.Time { return time.UnixMilli(1000) }, func() string { return "srv-1" }))
}

func TestEmitter_EventShapes(t *testing.T) {
	e := newTestEmitter()

	cases := []struct {
		env     protocol.Envelope
		typ     protocol.MessageType
		name    string
		payload string
	}{
		{e.StateChanged("RUNNING", "EXECUTING_WAYPOINT"), protocol.TypeEvent, protocol.EventFSMStateChanged, `{"global":"RUNNING","route":"EXECUTING_WAYPOINT"}`},
		{e.RouteStarted("r1"), protocol.TypeEvent, protocol.EventRouteStarted, `{"route_id":"r1"}`},
		{e.WaypointStarted("r1", 5, "hur_down"), protocol.TypeEvent, protocol.EventWaypointStarted, `{"route_id":"r1","index":5,"type":"hur_down"}`},
		{e.ErrorRaised("RT-WP-006", protocol.SeverityError, nil), protocol.TypeEvent, protocol.EventErrorRaised, `{"code":"RT-WP-006","severity":"ERROR","context":{}}`},
		{e.RecoveryApplied("RT-WP-006", "retry_waypoint", 1), protocol.TypeEvent, protocol.EventRecoveryApplied, `{"error_code":"RT-WP-006","strategy":"retry_waypoint","attempt":1}`},
		{e.Timeline(protocol.CategorySystem, protocol.LevelInfo, "Stopped", "Execution stopped", nil), protocol.TypeStream, protocol.EventTimeline, `{"category":"SYSTEM","level":"INFO","title":"Stopped","summary":"Execution stopped","context":{}}`},
		{e.Perception(protocol.PerceptionPayload{Timestamp: 5}), protocol.TypeStream, protocol.EventPerceptionSnapshot, `{"timestamp":5,"status":{"drunk":false,"hungry":false,"poisoned":false},"battlelist":{"monsters":0,"players":0},"stamina":{"percent":0},"console":{"contains":[]}}`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.typ, tc.env.Type, tc.name)
		assert.Equal(t, tc.name, tc.env.Name)
		assert.Equal(t, "srv-1", tc.env.ID)
		assert.JSONEq(t, tc.payload, string(tc.env.Payload), tc.name)
	}
}

func TestEmitter_RepliesAreCorrelated(t *testing.T) {
	e := newTestEmitter()

	ok := e.OK("c1", protocol.CmdStop)
	assert.Equal(t, protocol.TypeAck, ok.Type)
	assert.Equal(t, "c1", ok.ID)
	assert.JSONEq(t, `{"for":"STOP"}`, string(ok.Payload))

	hello := e.HelloOK("c2", "mock-0.1.0", []string{"ROUTES"})
	assert.Equal(t, protocol.AckHelloOK, hello.Name)
	assert.Equal(t, "c2", hello.ID)

	er := e.Error(&protocol.DecodeError{Code: protocol.ErrUnknownCommand, ID: "c3", Message: "Unknown command", Command: "JUMP"})
	assert.Equal(t, protocol.TypeError, er.Type)
	assert.Equal(t, protocol.ErrUnknownCommand, er.Name)
	assert.Equal(t, "c3", er.ID)
	assert.JSONEq(t, `{"message":"Unknown command","command":"JUMP"}`, string(er.Payload))
}
