package protocol

import (
	"encoding/json"
	"strings"
)

// Command is the closed set of observer requests. The unexported marker keeps
// the set sealed to this package; dispatchers type-switch over the concrete
// types below.
type Command interface {
	CommandName() string
	isCommand()
}

type Hello struct {
	UIVersion string
}

// SetConfig covers every SET_* command. The agent acknowledges these without
// applying them.
type SetConfig struct {
	Key     string
	Payload json.RawMessage
}

// StartRoute with an empty RouteID means "use the configured default route".
type StartRoute struct {
	RouteID string
}

type Pause struct{}

type Stop struct{}

type Step struct{}

func (Hello) CommandName() string       { return CmdHello }
func (c SetConfig) CommandName() string { return c.Key }
func (StartRoute) CommandName() string  { return CmdStartRoute }
func (Pause) CommandName() string       { return CmdPause }
func (Stop) CommandName() string        { return CmdStop }
func (Step) CommandName() string        { return CmdStep }

func (Hello) isCommand()      {}
func (SetConfig) isCommand()  {}
func (StartRoute) isCommand() {}
func (Pause) isCommand()      {}
func (Stop) isCommand()       {}
func (Step) isCommand()       {}

// ParseCommand maps a decoded envelope onto a Command. Errors are
// *DecodeError with UNKNOWN_COMMAND or INVALID_MESSAGE.
func ParseCommand(env Envelope) (Command, error) {
	switch name := env.Name; {
	case name == CmdHello:
		var p HelloPayload
		// The handshake payload is informational only.
		_ = env.DecodePayload(&p)
		return Hello{UIVersion: p.UIVersion}, nil
	case strings.HasPrefix(name, CmdSetPrefix) && len(name) > len(CmdSetPrefix):
		return SetConfig{Key: name, Payload: env.Payload}, nil
	case name == CmdStartRoute:
		var p StartRoutePayload
		if err := env.DecodePayload(&p); err != nil {
			return nil, &DecodeError{Code: ErrInvalidMessage, ID: env.ID, Message: "Bad START_ROUTE payload", Command: name, Err: err}
		}
		c := StartRoute{}
		if p.RouteID != nil {
			c.RouteID = strings.TrimSpace(*p.RouteID)
		}
		return c, nil
	case name == CmdPause:
		return Pause{}, nil
	case name == CmdStop:
		return Stop{}, nil
	case name == CmdStep:
		return Step{}, nil
	default:
		return nil, &DecodeError{Code: ErrUnknownCommand, ID: env.ID, Message: "Unknown command", Command: name}
	}
}
