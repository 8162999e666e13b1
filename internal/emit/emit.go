// Package emit builds the outbound envelopes for each event category so that
// callers never hand-assemble payloads.
package emit

import "routeagent.ai/internal/protocol"

// Emitter wraps an Encoder with one constructor per event kind.
type Emitter struct {
	enc *protocol.Encoder
}

func New(enc *protocol.Encoder) *Emitter {
	if enc == nil {
		enc = protocol.NewEncoder()
	}
	return &Emitter{enc: enc}
}

func (e *Emitter) StateChanged(global, route string) protocol.Envelope {
	return e.enc.Encode(protocol.TypeEvent, protocol.EventFSMStateChanged, protocol.FSMStatePayload{
		Global: global,
		Route:  route,
	}, "")
}

func (e *Emitter) RouteStarted(routeID string) protocol.Envelope {
	return e.enc.Encode(protocol.TypeEvent, protocol.EventRouteStarted, protocol.RouteStartedPayload{RouteID: routeID}, "")
}

func (e *Emitter) WaypointStarted(routeID string, index int, typ string) protocol.Envelope {
	return e.enc.Encode(protocol.TypeEvent, protocol.EventWaypointStarted, protocol.WaypointStartedPayload{
		RouteID: routeID,
		Index:   index,
		Type:    typ,
	}, "")
}

func (e *Emitter) ErrorRaised(code, severity string, ctx map[string]any) protocol.Envelope {
	return e.enc.Encode(protocol.TypeEvent, protocol.EventErrorRaised, protocol.ErrorRaisedPayload{
		Code:     code,
		Severity: severity,
		Context:  nonNil(ctx),
	}, "")
}

func (e *Emitter) RecoveryApplied(errorCode, strategy string, attempt int) protocol.Envelope {
	return e.enc.Encode(protocol.TypeEvent, protocol.EventRecoveryApplied, protocol.RecoveryAppliedPayload{
		ErrorCode: errorCode,
		Strategy:  strategy,
		Attempt:   attempt,
	}, "")
}

// Timeline builds a TIMELINE_EVENT stream envelope.
func (e *Emitter) Timeline(category, level, title, summary string, ctx map[string]any) protocol.Envelope {
	return e.enc.Encode(protocol.TypeStream, protocol.EventTimeline, protocol.TimelinePayload{
		Category: category,
		Level:    level,
		Title:    title,
		Summary:  summary,
		Context:  nonNil(ctx),
	}, "")
}

// Perception builds a PERCEPTION_SNAPSHOT stream envelope.
func (e *Emitter) Perception(p protocol.PerceptionPayload) protocol.Envelope {
	if p.Console.Contains == nil {
		p.Console.Contains = []string{}
	}
	return e.enc.Encode(protocol.TypeStream, protocol.EventPerceptionSnapshot, p, "")
}

func (e *Emitter) HelloOK(correlationID, agentVersion string, capabilities []string) protocol.Envelope {
	return e.enc.Encode(protocol.TypeAck, protocol.AckHelloOK, protocol.HelloOKPayload{
		AgentVersion: agentVersion,
		Capabilities: capabilities,
	}, correlationID)
}

func (e *Emitter) OK(correlationID, command string) protocol.Envelope {
	return e.enc.Encode(protocol.TypeAck, protocol.AckOK, protocol.OKPayload{For: command}, correlationID)
}

// Error builds the ERROR envelope for a rejected request. The envelope name is
// the error code.
func (e *Emitter) Error(de *protocol.DecodeError) protocol.Envelope {
	return e.enc.Encode(protocol.TypeError, de.Code, de.Payload(), de.ID)
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
