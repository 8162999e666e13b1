package mirror

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"routeagent.ai/internal/geom"
)

func waypoints(dists ...float64) []geom.Waypoint {
	out := make([]geom.Waypoint, 0, len(dists))
	for i, d := range dists {
		out = append(out, geom.Waypoint{ID: string(rune('a' + i)), RX: geom.CenterX + d, RY: geom.CenterY})
	}
	return out
}

func TestCheck_AdvancesWhenReachedAndFinishes(t *testing.T) {
	s := NewStore()
	s.Load(waypoints(0.02, 0.5))
	s.Start()
	require.Equal(t, Status{Running: true, ActiveID: "a"}, s.Status())

	tr, ok := s.Check()
	require.True(t, ok)
	assert.Equal(t, Transition{From: "a", To: "b"}, tr)
	assert.Equal(t, Status{Running: true, ActiveID: "b", SelectedID: "b"}, s.Status())

	// b is far away: nothing happens.
	_, ok = s.Check()
	assert.False(t, ok)
	assert.True(t, s.Status().Running)

	// Once b is reached there is no successor and the FSM stops.
	require.NoError(t, s.Move("b", 0.5, 0.5))
	tr, ok = s.Check()
	require.True(t, ok)
	assert.Equal(t, Transition{From: "b", Finished: true}, tr)
	assert.Equal(t, Status{Running: false, ActiveID: "b", SelectedID: "b"}, s.Status())
}

func TestCheck_NoopWhenStopped(t *testing.T) {
	s := NewStore()
	s.Load(waypoints(0, 0))
	require.NoError(t, s.SetActive("a"))
	_, ok := s.Check()
	assert.False(t, ok)
	assert.Equal(t, "a", s.Status().ActiveID)
}

func TestStart_PrefersSelection(t *testing.T) {
	s := NewStore()
	s.Start()
	assert.False(t, s.Status().Running, "empty list must not start")

	s.Load(waypoints(0.5, 0.5, 0.5))
	require.NoError(t, s.Select("b"))
	s.Start()
	assert.Equal(t, Status{Running: true, ActiveID: "b", SelectedID: "b"}, s.Status())
}

func TestStep_IgnoresReachState(t *testing.T) {
	s := NewStore()
	s.Load(waypoints(0.5, 0.5))

	// No cursor yet: step from the first waypoint to its successor.
	assert.Equal(t, Transition{To: "b"}, s.Step())
	assert.Equal(t, Status{ActiveID: "b", SelectedID: "b"}, s.Status())

	// At the end the active cursor clears but the selection stays.
	assert.Equal(t, Transition{From: "b"}, s.Step())
	assert.Equal(t, Status{SelectedID: "b"}, s.Status())

	// Active is empty again, selection is b: still no successor.
	assert.Equal(t, Transition{}, s.Step())
}

func TestRemove_ClearsCursors(t *testing.T) {
	s := NewStore()
	s.Load(waypoints(0, 0.1))
	require.NoError(t, s.SetActive("a"))
	require.NoError(t, s.Select("a"))

	require.NoError(t, s.Remove("a"))
	assert.Equal(t, Status{}, s.Status())
	assert.Len(t, s.Waypoints(), 1)
	assert.ErrorIs(t, s.Remove("a"), ErrNotFound)
}

func TestLocked_BlocksGeometryOnly(t *testing.T) {
	s := NewStore()
	s.Load(waypoints(0.1))
	require.NoError(t, s.SetLocked("a", true))

	assert.ErrorIs(t, s.Move("a", 0.5, 0.5), ErrLocked)
	assert.NoError(t, s.Select("a"))
	assert.NoError(t, s.SetActive("a"))
	assert.Equal(t, 0.6, s.Waypoints()[0].RX)
}

func TestPlace(t *testing.T) {
	s := NewStore()
	_, err := s.Place(nil, 0.1, 0.1)
	assert.ErrorIs(t, err, ErrNoMinimap)

	rois := []geom.ROI{{ID: "mm", Type: geom.TypeMinimap}}
	wp, err := s.Place(rois, 0.123456, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "mm", wp.RegionID)
	assert.Equal(t, geom.TypeWalk, wp.Type)
	assert.Equal(t, 0.1235, wp.RX)
	assert.NotEmpty(t, wp.ID)
	assert.Equal(t, wp.ID, s.Status().SelectedID)
}

func TestPositions_ClampedIntoUnitSquare(t *testing.T) {
	s := NewStore()
	rois := []geom.ROI{{ID: "mm", Type: geom.TypeMinimap}}

	wp, err := s.Place(rois, -0.2, 1.7)
	require.NoError(t, err)
	assert.Equal(t, 0.0, wp.RX)
	assert.Equal(t, 1.0, wp.RY)

	require.NoError(t, s.Move(wp.ID, 3, -1))
	got := s.Waypoints()[0]
	assert.Equal(t, 1.0, got.RX)
	assert.Equal(t, 0.0, got.RY)

	_, err = s.Place(rois, math.NaN(), 0.5)
	assert.ErrorIs(t, err, ErrPosition)
	assert.ErrorIs(t, s.Move(wp.ID, 0.5, math.Inf(1)), ErrPosition)
	assert.Len(t, s.Waypoints(), 1)

	s.Load([]geom.Waypoint{{ID: "x", RX: 1.25, RY: -0.5}})
	got = s.Waypoints()[0]
	assert.Equal(t, 1.0, got.RX)
	assert.Equal(t, 0.0, got.RY)
}

func TestView(t *testing.T) {
	s := NewStore()
	s.Load(waypoints(0.02, 0.5))
	s.Start()
	v := s.View()
	require.Len(t, v, 2)
	assert.True(t, v[0].Reached)
	assert.True(t, v[0].Active)
	assert.Equal(t, 0.02, v[0].Distance)
	assert.False(t, v[1].Reached)
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewStore()
	s.Load(waypoints(0, 0, 0))
	s.Start()

	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan Transition, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, time.Millisecond, func(tr Transition) { seen <- tr })
	}()

	require.Eventually(t, func() bool { return !s.Status().Running }, time.Second, time.Millisecond)
	cancel()
	<-done

	close(seen)
	var got []Transition
	for tr := range seen {
		got = append(got, tr)
	}
	assert.Equal(t, []Transition{{From: "a", To: "b"}, {From: "b", To: "c"}, {From: "c", Finished: true}}, got)
}
