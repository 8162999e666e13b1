package protocol

import "fmt"

const (
	// Input was not well-formed JSON.
	ErrInvalidJSON = "INVALID_JSON"
	// Well-formed JSON that is not an envelope (missing type/name).
	ErrInvalidMessage = "INVALID_MESSAGE"
	// Envelope with a command name the agent does not implement.
	ErrUnknownCommand = "UNKNOWN_COMMAND"
)

var knownCodes = map[string]struct{}{
	ErrInvalidJSON:    {},
	ErrInvalidMessage: {},
	ErrUnknownCommand: {},
}

func IsKnownCode(code string) bool {
	_, ok := knownCodes[code]
	return ok
}

// DecodeError is the only error type returned by Decode and ParseCommand.
// ID carries the request id when it could be recovered from the input so the
// error reply can still be correlated.
type DecodeError struct {
	Code    string
	ID      string
	Message string
	Command string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Payload returns the body sent back to the observer in the ERROR envelope.
func (e *DecodeError) Payload() ErrorPayload {
	return ErrorPayload{Message: e.Message, Command: e.Command}
}
