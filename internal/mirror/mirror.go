// Package mirror is the client-side approximation of route execution: a small
// FSM that walks a locally held waypoint list, advancing whenever the active
// waypoint is within reach of the player position. It never talks to the agent.
package mirror

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"routeagent.ai/internal/geom"
)

var (
	ErrNotFound  = errors.New("mirror: waypoint not found")
	ErrLocked    = errors.New("mirror: waypoint is locked")
	ErrNoMinimap = errors.New("mirror: no minimap ROI defined")
	ErrPosition  = errors.New("mirror: position is not a finite number")
)

// Transition describes one change of the active waypoint made by the FSM.
// Finished is set when the FSM stopped because no successor exists.
type Transition struct {
	From     string
	To       string
	Finished bool
}

// Status is a copy of the FSM cursors.
type Status struct {
	Running    bool   `json:"running"`
	ActiveID   string `json:"active_id,omitempty"`
	SelectedID string `json:"selected_id,omitempty"`
}

// WaypointView is a waypoint enriched with its reach state.
type WaypointView struct {
	geom.Waypoint
	Reached  bool    `json:"reached"`
	Distance float64 `json:"distance"`
	Active   bool    `json:"active,omitempty"`
	Selected bool    `json:"selected,omitempty"`
}

// Store holds the waypoint list and the FSM cursors. Edits and the periodic
// check may interleave; the FSM only ever writes the cursors.
type Store struct {
	mu         sync.Mutex
	waypoints  []geom.Waypoint
	selectedID string
	activeID   string
	running    bool

	newID func() string
}

func NewStore() *Store {
	return &Store{newID: uuid.NewString}
}

// Load replaces the waypoint list and clears every cursor.
func (s *Store) Load(wps []geom.Waypoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waypoints = make([]geom.Waypoint, 0, len(wps))
	for _, wp := range wps {
		s.waypoints = append(s.waypoints, s.normalize(wp))
	}
	s.selectedID, s.activeID, s.running = "", "", false
}

// Add appends wp and selects it. Missing id, type and params are filled in.
func (s *Store) Add(wp geom.Waypoint) geom.Waypoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	wp = s.normalize(wp)
	s.waypoints = append(s.waypoints, wp)
	s.selectedID = wp.ID
	return wp
}

// Place adds a walk waypoint at a normalized position inside the minimap ROI.
// Without a minimap nothing is added. Positions are clamped into [0,1].
func (s *Store) Place(rois []geom.ROI, rx, ry float64) (geom.Waypoint, error) {
	mm, ok := geom.Minimap(rois)
	if !ok {
		return geom.Waypoint{}, ErrNoMinimap
	}
	x, y, err := position(rx, ry)
	if err != nil {
		return geom.Waypoint{}, err
	}
	return s.Add(geom.Waypoint{
		Type:     geom.TypeWalk,
		RegionID: mm.ID,
		RX:       x,
		RY:       y,
	}), nil
}

func position(rx, ry float64) (float64, float64, error) {
	x, okX := geom.Coord(rx)
	y, okY := geom.Coord(ry)
	if !okX || !okY {
		return 0, 0, ErrPosition
	}
	return x, y, nil
}

// Remove deletes the waypoint. Removing the active waypoint clears the active
// cursor; removing the selected one clears the selection.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return ErrNotFound
	}
	s.waypoints = append(s.waypoints[:i], s.waypoints[i+1:]...)
	if s.activeID == id {
		s.activeID = ""
	}
	if s.selectedID == id {
		s.selectedID = ""
	}
	return nil
}

// Move changes a waypoint's position, clamped into [0,1]. Locked waypoints
// refuse.
func (s *Store) Move(id string, rx, ry float64) error {
	x, y, err := position(rx, ry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return ErrNotFound
	}
	if s.waypoints[i].Locked {
		return ErrLocked
	}
	s.waypoints[i].RX = x
	s.waypoints[i].RY = y
	return nil
}

func (s *Store) SetLocked(id string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return ErrNotFound
	}
	s.waypoints[i].Locked = locked
	return nil
}

// Select moves the selection cursor. An empty id clears it. Locked waypoints
// can still be selected.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && s.index(id) < 0 {
		return ErrNotFound
	}
	s.selectedID = id
	return nil
}

// SetActive points the FSM at id without starting it.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && s.index(id) < 0 {
		return ErrNotFound
	}
	s.activeID = id
	return nil
}

// Start activates the selected waypoint, or the first one, and sets running.
// It is a no-op on an empty list.
func (s *Store) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waypoints) == 0 {
		return
	}
	start := s.selectedID
	if start == "" {
		start = s.waypoints[0].ID
	}
	s.activeID = start
	s.running = true
}

func (s *Store) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Step advances the active cursor unconditionally, ignoring reach state. The
// selection follows when there is a successor.
func (s *Store) Step() Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waypoints) == 0 {
		return Transition{}
	}
	cur := s.activeID
	if cur == "" {
		cur = s.selectedID
	}
	if cur == "" {
		cur = s.waypoints[0].ID
	}
	next := s.next(cur)
	tr := Transition{From: s.activeID, To: next}
	s.activeID = next
	if next != "" {
		s.selectedID = next
	}
	return tr
}

// Check runs one interval of the FSM. When the active waypoint is reached the
// cursor moves to its successor; with no successor running is cleared.
func (s *Store) Check() (Transition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.activeID == "" {
		return Transition{}, false
	}
	i := s.index(s.activeID)
	if i < 0 {
		return Transition{}, false
	}
	if ok, _ := geom.Reached(s.waypoints[i]); !ok {
		return Transition{}, false
	}
	next := s.next(s.activeID)
	if next == "" {
		s.running = false
		return Transition{From: s.activeID, Finished: true}, true
	}
	tr := Transition{From: s.activeID, To: next}
	s.activeID = next
	s.selectedID = next
	return tr, true
}

// Run calls Check every interval until ctx is done. onChange, if set, sees
// every transition.
func (s *Store) Run(ctx context.Context, interval time.Duration, onChange func(Transition)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tr, ok := s.Check()
			if ok && onChange != nil {
				onChange(tr)
			}
		}
	}
}

func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.running, ActiveID: s.activeID, SelectedID: s.selectedID}
}

// Waypoints returns a copy of the list.
func (s *Store) Waypoints() []geom.Waypoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]geom.Waypoint(nil), s.waypoints...)
}

// View returns the list enriched with reach state and cursor flags.
func (s *Store) View() []WaypointView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WaypointView, 0, len(s.waypoints))
	for _, wp := range s.waypoints {
		reached, d := geom.Reached(wp)
		out = append(out, WaypointView{
			Waypoint: wp,
			Reached:  reached,
			Distance: geom.Round4(d),
			Active:   wp.ID == s.activeID,
			Selected: wp.ID == s.selectedID,
		})
	}
	return out
}

// next returns the id after cur, the first id when cur is unknown, or "" at
// the end of the list.
func (s *Store) next(cur string) string {
	i := s.index(cur)
	if i < 0 {
		if len(s.waypoints) == 0 {
			return ""
		}
		return s.waypoints[0].ID
	}
	if i+1 >= len(s.waypoints) {
		return ""
	}
	return s.waypoints[i+1].ID
}

func (s *Store) index(id string) int {
	for i, wp := range s.waypoints {
		if wp.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) normalize(wp geom.Waypoint) geom.Waypoint {
	if wp.ID == "" {
		wp.ID = s.newID()
	}
	if wp.Type == "" {
		wp.Type = geom.TypeWalk
	}
	if wp.Params == nil {
		wp.Params = map[string]any{}
	}
	if x, ok := geom.Coord(wp.RX); ok {
		wp.RX = x
	}
	if y, ok := geom.Coord(wp.RY); ok {
		wp.RY = y
	}
	return wp
}
