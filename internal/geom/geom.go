// Package geom holds the client-side waypoint and ROI model and the reach test
// the mirror FSM runs against it.
package geom

import "math"

// Reference point and radius of the reach test, in normalized ROI space.
const (
	CenterX   = 0.5
	CenterY   = 0.5
	Threshold = 0.03
)

const (
	TypeWalk    = "walk"
	TypeMinimap = "minimap"
)

// Waypoint is a point on a route, placed in normalized coordinates of a
// reference region (usually the minimap ROI).
type Waypoint struct {
	ID       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	RegionID string         `json:"roi_id,omitempty" yaml:"roi_id"`
	RX       float64        `json:"rx" yaml:"rx"`
	RY       float64        `json:"ry" yaml:"ry"`
	Params   map[string]any `json:"params,omitempty" yaml:"params"`
	Locked   bool           `json:"locked,omitempty" yaml:"locked"`
}

type Rect struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// ROI is a named region of the captured screen.
type ROI struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Rect     Rect   `json:"rect" yaml:"rect"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Critical bool   `json:"critical,omitempty" yaml:"critical"`
	Locked   bool   `json:"locked,omitempty" yaml:"locked"`
}

// Distance from the waypoint to the reference point.
func Distance(wp Waypoint) float64 {
	return math.Hypot(wp.RX-CenterX, wp.RY-CenterY)
}

// Reached reports whether wp is strictly inside the reach threshold, together
// with its distance.
func Reached(wp Waypoint) (bool, float64) {
	d := Distance(wp)
	return d < Threshold, d
}

// Minimap returns the first ROI of type minimap.
func Minimap(rois []ROI) (ROI, bool) {
	for _, r := range rois {
		if r.Type == TypeMinimap {
			return r, true
		}
	}
	return ROI{}, false
}

// Round4 rounds to four decimals, the precision waypoints are placed and
// displayed at.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Coord normalizes a relative coordinate: clamped into [0,1] and rounded with
// Round4. Non-finite input is rejected.
func Coord(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return Round4(math.Min(1, math.Max(0, v))), true
}
