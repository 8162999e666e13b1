package agent

import (
	"time"

	"routeagent.ai/internal/metrics"
)

type task struct {
	name string
	fn   func()
}

// Scheduler runs its tasks synchronously, in registration order, once per
// tick. It owns no goroutine: the agent loop calls Tick, so two ticks can
// never overlap and every command received before a tick is fully applied
// when it runs.
type Scheduler struct {
	interval time.Duration
	tasks    []task
}

func NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Scheduler{interval: interval}
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

// Add registers fn. Tasks must not depend on each other's order.
func (s *Scheduler) Add(name string, fn func()) {
	s.tasks = append(s.tasks, task{name: name, fn: fn})
}

// Tasks lists registered task names.
func (s *Scheduler) Tasks() []string {
	out := make([]string, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.name)
	}
	return out
}

func (s *Scheduler) Tick() {
	start := time.Now()
	for _, t := range s.tasks {
		t.fn()
	}
	metrics.TickDuration.Observe(time.Since(start).Seconds())
}
