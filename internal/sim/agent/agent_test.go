package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"routeagent.ai/internal/protocol"
	"routeagent.ai/internal/sim/route"
	"routeagent.ai/internal/sim/tuning"
)

type testObserver struct {
	id     string
	frames chan []byte
}

func newTestObserver(id string) *testObserver {
	return &testObserver{id: id, frames: make(chan []byte, 128)}
}

func (o *testObserver) ID() string { return o.id }
func (o *testObserver) Open() bool { return true }
func (o *testObserver) Send(frame []byte) bool {
	select {
	case o.frames <- frame:
		return true
	default:
		return false
	}
}

func (o *testObserver) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case b := <-o.frames:
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("observer %s: no frame", o.id)
		return protocol.Envelope{}
	}
}

func (o *testObserver) nextN(t *testing.T, n int) []protocol.Envelope {
	t.Helper()
	out := make([]protocol.Envelope, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, o.next(t))
	}
	return out
}

func (o *testObserver) requireIdle(t *testing.T) {
	t.Helper()
	select {
	case b := <-o.frames:
		t.Fatalf("observer %s: unexpected frame %s", o.id, b)
	default:
	}
}

type memorySink struct {
	mu      sync.Mutex
	entries []protocol.TimelinePayload
	err     error
}

func (s *memorySink) Record(env protocol.Envelope) error {
	var p protocol.TimelinePayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, p)
	return s.err
}

func (s *memorySink) titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.entries {
		out = append(out, e.Title)
	}
	return out
}

type harness struct {
	agent *Agent
	ticks chan time.Time
}

func startAgent(t *testing.T, opts ...Option) *harness {
	t.Helper()
	ticks := make(chan time.Time)
	enc := protocol.NewEncoderWith(func() time.Time { return time.UnixMilli(1_000) }, nil)
	a := New(tuning.Defaults(), append([]Option{WithTicks(ticks), WithEncoder(enc)}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-a.Done()
	})
	return &harness{agent: a, ticks: ticks}
}

func (h *harness) join(t *testing.T, id string) *testObserver {
	t.Helper()
	o := newTestObserver(id)
	require.NoError(t, h.agent.Join(context.Background(), o))
	greet := o.next(t)
	require.Equal(t, protocol.EventFSMStateChanged, greet.Name)
	return o
}

func (h *harness) send(o *testObserver, frame string) {
	_ = h.agent.Deliver(context.Background(), Inbound{ObserverID: o.id, Frame: []byte(frame)})
}

func names(envs []protocol.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Name)
	}
	return out
}

func TestJoin_GreetsWithCurrentState(t *testing.T) {
	h := startAgent(t)
	o := newTestObserver("o1")
	require.NoError(t, h.agent.Join(context.Background(), o))

	greet := o.next(t)
	assert.Equal(t, protocol.TypeEvent, greet.Type)
	assert.Equal(t, protocol.EventFSMStateChanged, greet.Name)
	var st protocol.FSMStatePayload
	require.NoError(t, greet.DecodePayload(&st))
	assert.Equal(t, protocol.FSMStatePayload{Global: "STOPPED", Route: "IDLE"}, st)

	require.Eventually(t, func() bool { return h.agent.Status().Observers == 1 }, time.Second, time.Millisecond)

	// A late joiner sees the running state.
	h.send(o, `{"type":"CMD","name":"START_ROUTE","id":"c1"}`)
	o.nextN(t, 6)
	h.join(t, "o2")
	require.Eventually(t, func() bool { return h.agent.Status().Observers == 2 }, time.Second, time.Millisecond)

	o3 := newTestObserver("o3")
	require.NoError(t, h.agent.Join(context.Background(), o3))
	require.NoError(t, o3.next(t).DecodePayload(&st))
	assert.Equal(t, protocol.FSMStatePayload{Global: "RUNNING", Route: "EXECUTING_WAYPOINT"}, st)
}

func TestProtocolErrors_OnlyReachOriginator(t *testing.T) {
	h := startAgent(t)
	o1 := h.join(t, "o1")
	o2 := h.join(t, "o2")
	before := h.agent.Status().State

	h.send(o1, `{not json`)
	h.send(o1, `{"id":"x1","payload":{}}`)
	h.send(o1, `{"type":"CMD","name":"FLY","id":"c1"}`)

	got := o1.nextN(t, 3)
	want := []struct {
		name string
		id   string
	}{
		{protocol.ErrInvalidJSON, ""},
		{protocol.ErrInvalidMessage, "x1"},
		{protocol.ErrUnknownCommand, "c1"},
	}
	for i, w := range want {
		assert.Equal(t, protocol.TypeError, got[i].Type)
		assert.Equal(t, w.name, got[i].Name)
		if w.id != "" {
			assert.Equal(t, w.id, got[i].ID)
		}
	}
	var p protocol.ErrorPayload
	require.NoError(t, got[2].DecodePayload(&p))
	assert.Equal(t, "FLY", p.Command)

	o2.requireIdle(t)
	assert.Equal(t, before, h.agent.Status().State)
}

func TestStartRoute_EventsThenAck(t *testing.T) {
	sink := &memorySink{}
	h := startAgent(t, WithTimelineSink(sink))
	o1 := h.join(t, "o1")
	o2 := h.join(t, "o2")

	h.send(o1, `{"type":"CMD","name":"START_ROUTE","id":"c1","payload":{"route_id":"r1"}}`)

	events := []string{
		protocol.EventFSMStateChanged,
		protocol.EventRouteStarted,
		protocol.EventTimeline,
		protocol.EventWaypointStarted,
		protocol.EventTimeline,
	}
	got1 := o1.nextN(t, 6)
	if diff := cmp.Diff(append(events, protocol.AckOK), names(got1)); diff != "" {
		t.Fatalf("originator frames (-want +got):\n%s", diff)
	}
	ack := got1[5]
	assert.Equal(t, protocol.TypeAck, ack.Type)
	assert.Equal(t, "c1", ack.ID)
	var ok protocol.OKPayload
	require.NoError(t, ack.DecodePayload(&ok))
	assert.Equal(t, protocol.CmdStartRoute, ok.For)

	if diff := cmp.Diff(events, names(o2.nextN(t, 5))); diff != "" {
		t.Fatalf("bystander frames (-want +got):\n%s", diff)
	}
	o2.requireIdle(t)

	require.Eventually(t, func() bool { return h.agent.Status().State.RouteID == "r1" }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"Route started", "Waypoint started"}, sink.titles())
}

func TestHelloAndSet_AckThenTimeline(t *testing.T) {
	h := startAgent(t)
	o := h.join(t, "o1")

	h.send(o, `{"type":"CMD","name":"HELLO","id":"h1","payload":{"ui_version":"0.1"}}`)
	got := o.nextN(t, 2)
	assert.Equal(t, []string{protocol.AckHelloOK, protocol.EventTimeline}, names(got))
	var hello protocol.HelloOKPayload
	require.NoError(t, got[0].DecodePayload(&hello))
	assert.Equal(t, protocol.HelloOKPayload{AgentVersion: "mock-0.1.0", Capabilities: Capabilities}, hello)
	assert.Equal(t, "h1", got[0].ID)

	h.send(o, `{"type":"CMD","name":"SET_SPEED","id":"s1","payload":{"value":2}}`)
	got = o.nextN(t, 2)
	assert.Equal(t, []string{protocol.AckOK, protocol.EventTimeline}, names(got))
	var ok protocol.OKPayload
	require.NoError(t, got[0].DecodePayload(&ok))
	assert.Equal(t, "SET_SPEED", ok.For)
	var entry protocol.TimelinePayload
	require.NoError(t, got[1].DecodePayload(&entry))
	assert.Equal(t, "Config updated", entry.Title)
	assert.Equal(t, "SET_SPEED", entry.Summary)
}

func TestPauseWhileStopped_OnlyAck(t *testing.T) {
	h := startAgent(t)
	o := h.join(t, "o1")

	h.send(o, `{"type":"CMD","name":"PAUSE","id":"p1"}`)
	ack := o.next(t)
	assert.Equal(t, protocol.AckOK, ack.Name)
	o.requireIdle(t)
	assert.Equal(t, route.Stopped, h.agent.Status().State.Global)
}

func TestTick_SnapshotAndAdvance(t *testing.T) {
	h := startAgent(t)

	// No observers and not running: a tick changes nothing.
	h.ticks <- time.Now()
	assert.Equal(t, route.Reset(), h.agent.Status().State)

	o := h.join(t, "o1")
	h.ticks <- time.Now()
	snap := o.next(t)
	assert.Equal(t, protocol.TypeStream, snap.Type)
	assert.Equal(t, protocol.EventPerceptionSnapshot, snap.Name)
	var p protocol.PerceptionPayload
	require.NoError(t, snap.DecodePayload(&p))
	assert.Equal(t, 100.0, p.Stamina.Percent)
	assert.Equal(t, []string{}, p.Console.Contains)

	h.send(o, `{"type":"CMD","name":"START_ROUTE","id":"c1"}`)
	o.nextN(t, 6)

	h.ticks <- time.Now()
	got := o.nextN(t, 4)
	assert.Equal(t, []string{
		protocol.EventPerceptionSnapshot,
		protocol.EventTimeline,
		protocol.EventWaypointStarted,
		protocol.EventTimeline,
	}, names(got))
	require.Eventually(t, func() bool { return h.agent.Status().State.WaypointIndex == 2 }, time.Second, time.Millisecond)

	// Paused: snapshots continue, advancement does not.
	h.send(o, `{"type":"CMD","name":"PAUSE","id":"p1"}`)
	o.nextN(t, 3)
	h.ticks <- time.Now()
	assert.Equal(t, protocol.EventPerceptionSnapshot, o.next(t).Name)
	o.requireIdle(t)
	assert.Equal(t, 2, h.agent.Status().State.WaypointIndex)

	// Step still advances while paused.
	h.send(o, `{"type":"CMD","name":"STEP","id":"s1"}`)
	got = o.nextN(t, 5)
	assert.Equal(t, protocol.AckOK, got[4].Name)
	require.Eventually(t, func() bool { return h.agent.Status().State.WaypointIndex == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, route.Paused, h.agent.Status().State.Global)
}

func TestLeave_StopsDelivery(t *testing.T) {
	h := startAgent(t)
	o := h.join(t, "o1")
	h.agent.Leave("o1")
	require.Eventually(t, func() bool { return h.agent.Status().Observers == 0 }, time.Second, time.Millisecond)

	h.ticks <- time.Now()
	h.send(o, `{"type":"CMD","name":"STOP","id":"x"}`)
	require.Eventually(t, func() bool { return len(h.agent.events) == 0 }, time.Second, time.Millisecond)
	o.requireIdle(t)
}

func TestQueuedJoinIsAppliedBeforeItsFrames(t *testing.T) {
	for i := 0; i < 50; i++ {
		a := New(tuning.Defaults(), WithTicks(make(chan time.Time)))
		o := newTestObserver("o1")
		ctx := context.Background()
		require.NoError(t, a.Join(ctx, o))
		require.NoError(t, a.Deliver(ctx, Inbound{ObserverID: "o1", Frame: []byte(`{"type":"CMD","name":"HELLO","id":"h1"}`)}))

		runCtx, cancel := context.WithCancel(ctx)
		go func() { _ = a.Run(runCtx) }()

		greet := o.next(t)
		assert.Equal(t, protocol.EventFSMStateChanged, greet.Name)
		ack := o.next(t)
		assert.Equal(t, protocol.AckHelloOK, ack.Name)
		assert.Equal(t, "h1", ack.ID)
		cancel()
		<-a.Done()
	}
}

func TestQueuedLeaveAfterJoinLeavesNoObserver(t *testing.T) {
	for i := 0; i < 50; i++ {
		a := New(tuning.Defaults(), WithTicks(make(chan time.Time)))
		ctx := context.Background()
		o1, o2 := newTestObserver("o1"), newTestObserver("o2")
		require.NoError(t, a.Join(ctx, o1))
		a.Leave("o1")
		require.NoError(t, a.Join(ctx, o2))
		require.NoError(t, a.Deliver(ctx, Inbound{ObserverID: "o2", Frame: []byte(`{"type":"CMD","name":"PAUSE","id":"p1"}`)}))

		runCtx, cancel := context.WithCancel(ctx)
		go func() { _ = a.Run(runCtx) }()

		o2.next(t)
		assert.Equal(t, protocol.AckOK, o2.next(t).Name)
		require.Eventually(t, func() bool { return a.Status().Observers == 1 }, time.Second, time.Millisecond)
		o1.next(t) // greeting only
		o1.requireIdle(t)
		cancel()
		<-a.Done()
	}
}

func TestJoinAfterStopIsRefused(t *testing.T) {
	a := New(tuning.Defaults(), WithTicks(make(chan time.Time)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = a.Run(ctx)

	assert.ErrorIs(t, a.Join(context.Background(), newTestObserver("late")), ErrStopped)
	assert.ErrorIs(t, a.Deliver(context.Background(), Inbound{ObserverID: "late"}), ErrStopped)
	a.Leave("late")
}

func TestSinkErrors_DoNotStopTheLoop(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	h := startAgent(t, WithTimelineSink(sink))
	o := h.join(t, "o1")

	h.send(o, `{"type":"CMD","name":"STOP","id":"x"}`)
	assert.Equal(t, []string{protocol.EventFSMStateChanged, protocol.EventTimeline, protocol.AckOK}, names(o.nextN(t, 3)))
	assert.Equal(t, []string{"Stopped"}, sink.titles())
}

func TestRun_ShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := New(tuning.Defaults(), WithTicks(make(chan time.Time)))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	<-a.Done()
}

func TestScheduler_RunsTasksInOrder(t *testing.T) {
	s := NewScheduler(0)
	assert.Equal(t, 500*time.Millisecond, s.Interval())

	var calls []string
	s.Add("a", func() { calls = append(calls, "a") })
	s.Add("b", func() { calls = append(calls, "b") })
	s.Tick()
	s.Tick()
	assert.Equal(t, []string{"a", "b", "a", "b"}, calls)
	assert.Equal(t, []string{"a", "b"}, s.Tasks())
}
