package route

import (
	"math"

	"routeagent.ai/internal/protocol"
	"routeagent.ai/internal/sim/tuning"
)

// Perception is the simulated view of the game client. It is recomputed each
// advancement cycle and never stored anywhere else.
type Perception struct {
	Drunk    bool    `json:"drunk"`
	Hungry   bool    `json:"hungry"`
	Poisoned bool    `json:"poisoned"`
	Monsters int     `json:"monsters"`
	Players  int     `json:"players"`
	Stamina  float64 `json:"stamina"`
}

// sense derives perception from the waypoint index and current stamina.
// The moduli are distinct so the flags toggle independently.
func sense(cfg tuning.Perception, index int, stamina float64) Perception {
	monsters := int(math.Round(3 + math.Sin(float64(index)/2)))
	return Perception{
		Drunk:    everyN(index, cfg.DrunkEvery),
		Hungry:   stamina < cfg.HungryBelow,
		Poisoned: everyN(index, cfg.PoisonedEvery),
		Monsters: clampInt(monsters, 0, cfg.MonstersMax),
		Players:  boolToInt(everyN(index, cfg.PlayersEvery)),
		Stamina:  stamina,
	}
}

// Payload renders the snapshot body. Stamina is clamped to [0,100]; the
// console carries "error" while an error is unresolved.
func (p Perception) Payload(ts int64, lastError string) protocol.PerceptionPayload {
	console := []string{}
	if lastError != "" {
		console = append(console, "error")
	}
	return protocol.PerceptionPayload{
		Timestamp: ts,
		Status: protocol.StatusFlags{
			Drunk:    p.Drunk,
			Hungry:   p.Hungry,
			Poisoned: p.Poisoned,
		},
		Battlelist: protocol.Battlelist{
			Monsters: p.Monsters,
			Players:  p.Players,
		},
		Stamina: protocol.StaminaGauge{Percent: ClampPercent(p.Stamina)},
		Console: protocol.ConsoleFlags{Contains: console},
	}
}

func ClampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func everyN(index, n int) bool {
	return n > 0 && index%n == 0
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
