package protocol

import (
	_ "embed"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed envelope.schema.json
var envelopeSchemaJSON string

var envelopeSchema = jsonschema.MustCompileString("envelope.schema.json", envelopeSchemaJSON)

// Encoder stamps outbound envelopes. Timestamps never go backwards for a
// given Encoder even if the wall clock does.
type Encoder struct {
	mu    sync.Mutex
	now   func() time.Time
	newID func() string
	last  int64
}

func NewEncoder() *Encoder {
	return NewEncoderWith(time.Now, nil)
}

// NewEncoderWith lets tests pin the clock and id source. A nil newID uses
// "srv-<uuid>".
func NewEncoderWith(now func() time.Time, newID func() string) *Encoder {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = func() string { return "srv-" + uuid.NewString() }
	}
	return &Encoder{now: now, newID: newID}
}

// Encode builds an envelope. correlationID, when non-empty, is echoed as the
// envelope id so the peer can match a reply to its request.
func (e *Encoder) Encode(typ MessageType, name string, payload any, correlationID string) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("null")
	}

	e.mu.Lock()
	ts := e.now().UnixMilli()
	if ts < e.last {
		ts = e.last
	}
	e.last = ts
	id := correlationID
	if id == "" {
		id = e.newID()
	}
	e.mu.Unlock()

	return Envelope{
		Version:   Version,
		ID:        id,
		Type:      typ,
		Name:      name,
		Payload:   raw,
		Timestamp: ts,
	}
}

// Decode parses one inbound frame. Every failure is a *DecodeError. Only a
// missing or empty type or name makes a JSON object invalid; v, id and ts are
// read leniently.
func Decode(raw []byte) (Envelope, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Envelope{}, &DecodeError{Code: ErrInvalidJSON, Message: "Could not parse JSON", Err: err}
	}
	id := peekID(doc)
	if err := envelopeSchema.Validate(doc); err != nil {
		return Envelope{}, &DecodeError{Code: ErrInvalidMessage, ID: id, Message: "Missing type/name", Err: err}
	}
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, &DecodeError{Code: ErrInvalidMessage, ID: id, Message: "Malformed envelope", Err: err}
	}
	return Envelope{
		Version:   looseString(w.Version),
		ID:        id,
		Type:      w.Type,
		Name:      w.Name,
		Payload:   w.Payload,
		Timestamp: looseInt(w.Timestamp),
	}, nil
}

// wireEnvelope is the inbound shape before v, id and ts are normalized.
type wireEnvelope struct {
	Version   json.RawMessage `json:"v"`
	Type      MessageType     `json:"type"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp json.RawMessage `json:"ts"`
}

// peekID recovers the correlation id from any JSON object, so even rejected
// frames can be answered with it. Numeric ids are echoed as their text.
func peekID(doc any) string {
	m, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	switch id := m["id"].(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}

func looseString(raw json.RawMessage) string {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

func looseInt(raw json.RawMessage) int64 {
	var n json.Number
	if len(raw) == 0 || json.Unmarshal(raw, &n) != nil {
		return 0
	}
	if i, err := n.Int64(); err == nil && i >= 0 {
		return i
	}
	return 0
}

// Marshal is json.Marshal for envelopes; the result is what goes on the wire.
func Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
