// Package agent runs the mock route-executing agent: one event loop that owns
// the execution machine and the observer registry, applies inbound commands
// as they arrive and drives the scheduler.
package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"routeagent.ai/internal/emit"
	rlog "routeagent.ai/internal/log"
	"routeagent.ai/internal/metrics"
	"routeagent.ai/internal/protocol"
	"routeagent.ai/internal/session"
	"routeagent.ai/internal/sim/route"
	"routeagent.ai/internal/sim/tuning"
)

// Capabilities advertised in HELLO_OK.
var Capabilities = []string{"PERCEPTION", "TIMELINE", "ROUTES", "RECOVERY"}

// ErrStopped is returned by Join and Deliver once the loop has exited.
var ErrStopped = errors.New("agent: stopped")

// Inbound is one raw frame read from an observer connection.
type Inbound struct {
	ObserverID string
	Frame      []byte
}

// TimelineSink receives every TIMELINE_EVENT the agent emits. It is called on
// the loop goroutine and must not block for long.
type TimelineSink interface {
	Record(env protocol.Envelope) error
}

// Status is the published read-only view of the loop state.
type Status struct {
	State      route.State      `json:"state"`
	Perception route.Perception `json:"perception"`
	Observers  int              `json:"observers"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

type Agent struct {
	cfg      tuning.Tuning
	enc      *protocol.Encoder
	emit     *emit.Emitter
	machine  *route.Machine
	registry *session.Registry
	sched    *Scheduler
	sink     TimelineSink
	log      zerolog.Logger
	now      func() time.Time
	ticks    <-chan time.Time

	machineOpts []route.Option

	// events carries joins, frames and leaves in one queue, so a
	// connection's frames are always applied after its join and before its
	// leave.
	events chan event
	done   chan struct{}

	status atomic.Pointer[Status]
}

type eventKind uint8

const (
	eventJoin eventKind = iota
	eventFrame
	eventLeave
)

type event struct {
	kind     eventKind
	observer session.Observer
	in       Inbound
}

type Option func(*Agent)

// WithEncoder pins the envelope clock and id source.
func WithEncoder(enc *protocol.Encoder) Option {
	return func(a *Agent) { a.enc = enc }
}

func WithTimelineSink(s TimelineSink) Option {
	return func(a *Agent) { a.sink = s }
}

func WithFaultPolicy(p route.FaultPolicy) Option {
	return func(a *Agent) { a.machineOpts = append(a.machineOpts, route.WithFaultPolicy(p)) }
}

// WithTicks replaces the scheduler ticker with an external tick source.
func WithTicks(ticks <-chan time.Time) Option {
	return func(a *Agent) { a.ticks = ticks }
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Agent) { a.log = l }
}

func New(cfg tuning.Tuning, opts ...Option) *Agent {
	a := &Agent{
		cfg:      cfg,
		registry: session.NewRegistry(),
		log:      rlog.WithComponent("agent"),
		now:      time.Now,
		events:   make(chan event, 256),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.enc == nil {
		a.enc = protocol.NewEncoder()
	}
	a.emit = emit.New(a.enc)
	a.machine = route.New(cfg, a.emit, a.machineOpts...)

	a.sched = NewScheduler(cfg.TickInterval())
	a.sched.Add("perception", a.tickPerception)
	a.sched.Add("advance", a.tickAdvance)

	a.publishStatus()
	return a
}

// Join registers o. The loop greets it with the current state before it
// applies any frame delivered after Join returns.
func (a *Agent) Join(ctx context.Context, o session.Observer) error {
	return a.enqueue(ctx, event{kind: eventJoin, observer: o})
}

// Deliver queues one inbound frame behind everything queued before it.
func (a *Agent) Deliver(ctx context.Context, in Inbound) error {
	return a.enqueue(ctx, event{kind: eventFrame, in: in})
}

// Leave unregisters the observer once its earlier frames have been applied.
func (a *Agent) Leave(id string) {
	_ = a.enqueue(context.Background(), event{kind: eventLeave, in: Inbound{ObserverID: id}})
}

func (a *Agent) enqueue(ctx context.Context, ev event) error {
	select {
	case <-a.done:
		return ErrStopped
	default:
	}
	select {
	case a.events <- ev:
		return nil
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (a *Agent) Done() <-chan struct{} { return a.done }

// Status returns the most recently published loop state. Safe from any
// goroutine.
func (a *Agent) Status() Status { return *a.status.Load() }

func (a *Agent) Run(ctx context.Context) error {
	defer close(a.done)

	ticks := a.ticks
	if ticks == nil {
		ticker := time.NewTicker(a.sched.Interval())
		defer ticker.Stop()
		ticks = ticker.C
	}
	a.log.Info().Dur("interval", a.sched.Interval()).Strs("tasks", a.sched.Tasks()).Msg("agent loop started")

	for {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("agent loop stopped")
			return ctx.Err()
		case ev := <-a.events:
			a.dispatch(ev)
		case <-ticks:
			a.sched.Tick()
		}
		a.publishStatus()
	}
}

func (a *Agent) dispatch(ev event) {
	switch ev.kind {
	case eventJoin:
		a.registry.Join(ev.observer, a.machine.StateChanged())
		a.log.Info().Str("observer", ev.observer.ID()).Int("observers", a.registry.Len()).Msg("observer connected")
	case eventLeave:
		a.registry.Leave(ev.in.ObserverID)
		a.log.Info().Str("observer", ev.in.ObserverID).Int("observers", a.registry.Len()).Msg("observer disconnected")
	case eventFrame:
		a.handle(ev.in)
	}
}

// handle applies one inbound frame. Every frame from a known observer gets
// exactly one ACK or ERROR back, sent to that observer only.
func (a *Agent) handle(in Inbound) {
	o, ok := a.registry.Lookup(in.ObserverID)
	if !ok {
		metrics.IncDropped("unknown_observer")
		return
	}

	env, err := protocol.Decode(in.Frame)
	if err != nil {
		a.reject(o, err, "invalid")
		return
	}
	cmd, err := protocol.ParseCommand(env)
	if err != nil {
		label := "invalid"
		var de *protocol.DecodeError
		if errors.As(err, &de) && de.Code == protocol.ErrUnknownCommand {
			label = "unknown"
		}
		a.reject(o, err, label)
		return
	}

	label := cmd.CommandName()
	switch c := cmd.(type) {
	case protocol.Hello:
		a.registry.Unicast(o, a.emit.HelloOK(env.ID, a.cfg.AgentVersion, Capabilities))
		a.publish([]protocol.Envelope{
			a.emit.Timeline(protocol.CategorySystem, protocol.LevelInfo, "Handshake", "UI connected", map[string]any{"ui_version": c.UIVersion}),
		})
	case protocol.SetConfig:
		label = protocol.CmdSetPrefix + "*"
		a.registry.Unicast(o, a.emit.OK(env.ID, c.Key))
		a.publish([]protocol.Envelope{
			a.emit.Timeline(protocol.CategorySystem, protocol.LevelInfo, "Config updated", c.Key, nil),
		})
	case protocol.StartRoute:
		a.apply(a.machine.StartRoute(c.RouteID))
		a.registry.Unicast(o, a.emit.OK(env.ID, c.CommandName()))
	case protocol.Pause:
		a.apply(a.machine.Pause())
		a.registry.Unicast(o, a.emit.OK(env.ID, c.CommandName()))
	case protocol.Stop:
		a.apply(a.machine.Stop())
		a.registry.Unicast(o, a.emit.OK(env.ID, c.CommandName()))
	case protocol.Step:
		a.apply(a.machine.Step())
		a.registry.Unicast(o, a.emit.OK(env.ID, c.CommandName()))
	}
	metrics.IncCommand(label, "ok")
	a.log.Debug().Str("observer", o.ID()).Str("command", cmd.CommandName()).Str("id", env.ID).Msg("command applied")
}

func (a *Agent) reject(o session.Observer, err error, label string) {
	var de *protocol.DecodeError
	if !errors.As(err, &de) {
		de = &protocol.DecodeError{Code: protocol.ErrInvalidMessage, Message: err.Error()}
	}
	a.registry.Unicast(o, a.emit.Error(de))
	metrics.IncCommand(label, de.Code)
	a.log.Debug().Str("observer", o.ID()).Str("code", de.Code).Err(err).Msg("command rejected")
}

func (a *Agent) apply(r route.Result) {
	if r.Outcome != "" {
		metrics.AdvanceCyclesTotal.WithLabelValues(string(r.Outcome)).Inc()
	}
	a.publish(r.Events)
}

// publish broadcasts events in order and hands timeline entries to the sink.
func (a *Agent) publish(events []protocol.Envelope) {
	for _, env := range events {
		a.registry.Broadcast(env)
		if a.sink == nil || env.Name != protocol.EventTimeline {
			continue
		}
		if err := a.sink.Record(env); err != nil {
			metrics.TimelineSinkErrorsTotal.Inc()
			a.log.Warn().Err(err).Msg("timeline sink")
		}
	}
}

func (a *Agent) tickPerception() {
	if a.registry.Len() == 0 {
		return
	}
	a.registry.Broadcast(a.emit.Perception(a.machine.Snapshot(a.now().UnixMilli())))
}

func (a *Agent) tickAdvance() {
	if a.machine.State().Global != route.Running {
		return
	}
	a.apply(a.machine.Advance())
}

func (a *Agent) publishStatus() {
	a.status.Store(&Status{
		State:      a.machine.State(),
		Perception: a.machine.Perception(),
		Observers:  a.registry.Len(),
		UpdatedAt:  a.now(),
	})
}
