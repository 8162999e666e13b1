// Package session tracks connected observers and fans envelopes out to them.
package session

import (
	"sort"

	"routeagent.ai/internal/metrics"
	"routeagent.ai/internal/protocol"
)

// Observer is one connected party. Send must not block; it reports whether the
// frame was accepted by the transport.
type Observer interface {
	ID() string
	Open() bool
	Send(frame []byte) bool
}

// Registry is owned by the agent loop goroutine and is not safe for
// concurrent use.
type Registry struct {
	observers map[string]Observer
}

func NewRegistry() *Registry {
	return &Registry{observers: map[string]Observer{}}
}

// Join registers o, replacing any observer with the same id, and immediately
// unicasts greeting so late joiners see the current state.
func (r *Registry) Join(o Observer, greeting protocol.Envelope) {
	if o == nil || o.ID() == "" {
		return
	}
	r.observers[o.ID()] = o
	metrics.ObserversConnected.Set(float64(len(r.observers)))
	r.Unicast(o, greeting)
}

func (r *Registry) Leave(id string) {
	if _, ok := r.observers[id]; !ok {
		return
	}
	delete(r.observers, id)
	metrics.ObserversConnected.Set(float64(len(r.observers)))
}

func (r *Registry) Lookup(id string) (Observer, bool) {
	o, ok := r.observers[id]
	return o, ok
}

func (r *Registry) Len() int { return len(r.observers) }

// Broadcast delivers env to every open observer and returns how many accepted
// it. Closed observers are skipped without error; they catch up on reconnect.
func (r *Registry) Broadcast(env protocol.Envelope) int {
	if len(r.observers) == 0 {
		return 0
	}
	frame, err := protocol.Marshal(env)
	if err != nil {
		metrics.IncDropped("marshal")
		return 0
	}
	delivered := 0
	for _, id := range r.ids() {
		o := r.observers[id]
		if !o.Open() {
			metrics.IncDropped("closed")
			continue
		}
		if o.Send(frame) {
			delivered++
		}
	}
	metrics.EnvelopesSentTotal.WithLabelValues(env.Name, metrics.ModeBroadcast).Add(float64(delivered))
	return delivered
}

// Unicast is a no-op when o is closed.
func (r *Registry) Unicast(o Observer, env protocol.Envelope) bool {
	if o == nil || !o.Open() {
		metrics.IncDropped("closed")
		return false
	}
	frame, err := protocol.Marshal(env)
	if err != nil {
		metrics.IncDropped("marshal")
		return false
	}
	if !o.Send(frame) {
		return false
	}
	metrics.EnvelopesSentTotal.WithLabelValues(env.Name, metrics.ModeUnicast).Inc()
	return true
}

// ids returns observer ids in a stable order so fan-out is deterministic.
func (r *Registry) ids() []string {
	out := make([]string, 0, len(r.observers))
	for id := range r.observers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
