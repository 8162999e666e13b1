package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"routeagent.ai/internal/protocol"
)

// Tuning holds the simulation constants. None of them is load-bearing for the
// protocol; they only shape the demo run.
type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`
	AgentVersion    string `yaml:"agent_version"`

	TickIntervalMs int `yaml:"tick_interval_ms"`

	Route      Route      `yaml:"route"`
	Perception Perception `yaml:"perception"`
	Faults     Faults     `yaml:"faults"`
	Mirror     Mirror     `yaml:"mirror"`
}

type Route struct {
	DefaultID    string `yaml:"default_id"`
	Length       int    `yaml:"length"`
	DefaultType  string `yaml:"default_type"`
	AltType      string `yaml:"alt_type"`
	AltTypeEvery int    `yaml:"alt_type_every"`
}

type Perception struct {
	StaminaStart  float64 `yaml:"stamina_start"`
	StaminaDecay  float64 `yaml:"stamina_decay"`
	HungryBelow   float64 `yaml:"hungry_below"`
	MonstersMax   int     `yaml:"monsters_max"`
	PlayersEvery  int     `yaml:"players_every"`
	DrunkEvery    int     `yaml:"drunk_every"`
	PoisonedEvery int     `yaml:"poisoned_every"`
}

type Faults struct {
	Enabled      bool   `yaml:"enabled"`
	Every        int    `yaml:"every"`
	Code         string `yaml:"code"`
	Severity     string `yaml:"severity"`
	WaypointType string `yaml:"waypoint_type"`
	Strategy     string `yaml:"strategy"`
}

type Mirror struct {
	CheckIntervalMs int `yaml:"check_interval_ms"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: protocol.Version,
		AgentVersion:    "mock-0.1.0",
		TickIntervalMs:  500,
		Route: Route{
			DefaultID:    "demo_route",
			Length:       30,
			DefaultType:  "walk",
			AltType:      "hur_down",
			AltTypeEvery: 5,
		},
		Perception: Perception{
			StaminaStart:  100,
			StaminaDecay:  0.3,
			HungryBelow:   40,
			MonstersMax:   6,
			PlayersEvery:  17,
			DrunkEvery:    13,
			PoisonedEvery: 19,
		},
		Faults: Faults{
			Enabled:      true,
			Every:        9,
			Code:         "RT-WP-006",
			Severity:     "ERROR",
			WaypointType: "hur_down",
			Strategy:     "retry_waypoint",
		},
		Mirror: Mirror{CheckIntervalMs: 250},
	}
}

// Load reads a tuning file on top of Defaults, so a partial file only
// overrides what it names.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// TickInterval is the scheduler period.
func (t Tuning) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMs) * time.Millisecond
}

// MirrorInterval is the period of the client mirror's reach check.
func (t Tuning) MirrorInterval() time.Duration {
	return time.Duration(t.Mirror.CheckIntervalMs) * time.Millisecond
}

func (t Tuning) Validate() error {
	var errs []error
	if t.ProtocolVersion != protocol.Version {
		errs = append(errs, fmt.Errorf("protocol_version %q is not supported, this build speaks %q", t.ProtocolVersion, protocol.Version))
	}
	if t.TickIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval_ms must be > 0, got %d", t.TickIntervalMs))
	}
	if t.Route.Length <= 0 {
		errs = append(errs, fmt.Errorf("route.length must be > 0, got %d", t.Route.Length))
	}
	for name, v := range map[string]int{
		"route.alt_type_every":      t.Route.AltTypeEvery,
		"perception.players_every":  t.Perception.PlayersEvery,
		"perception.drunk_every":    t.Perception.DrunkEvery,
		"perception.poisoned_every": t.Perception.PoisonedEvery,
		"faults.every":              t.Faults.Every,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %d", name, v))
		}
	}
	if t.Perception.MonstersMax < 0 {
		errs = append(errs, fmt.Errorf("perception.monsters_max must be >= 0"))
	}
	if t.Mirror.CheckIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("mirror.check_interval_ms must be > 0"))
	}
	return errors.Join(errs...)
}
