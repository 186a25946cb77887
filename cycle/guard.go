package cycle

import "time"

const (
	// repetitionWindow is how many consecutive identical actions trip the
	// repetition guard.
	repetitionWindow = 3

	// errorCeiling is how many consecutive failed steps end the cycle.
	errorCeiling = 3
)

// Guard enforces the runtime limits of a cycle: repeated identical actions,
// the wall-clock deadline, and consecutive step failures.
type Guard struct {
	deadline time.Time
	now      func() time.Time

	recent   []string
	failures int
}

// NewGuard builds a guard whose deadline is maxDuration from now.
func NewGuard(maxDuration time.Duration) *Guard {
	return newGuard(maxDuration, time.Now)
}

func newGuard(maxDuration time.Duration, now func() time.Time) *Guard {
	return &Guard{now: now, deadline: now().Add(maxDuration)}
}

// RecordAction notes an action signature and reports whether the last
// repetitionWindow signatures are identical.
func (g *Guard) RecordAction(signature string) bool {
	g.recent = append(g.recent, signature)
	if len(g.recent) > repetitionWindow {
		g.recent = g.recent[len(g.recent)-repetitionWindow:]
	}
	if len(g.recent) < repetitionWindow {
		return false
	}
	for _, sig := range g.recent {
		if sig != signature {
			return false
		}
	}
	return true
}

// DeadlinePassed reports whether the wall-clock budget is exhausted.
func (g *Guard) DeadlinePassed() bool {
	return !g.now().Before(g.deadline)
}

// RecordFailure notes a failed step and reports whether the consecutive
// failure ceiling has been reached.
func (g *Guard) RecordFailure() bool {
	g.failures++
	return g.failures >= errorCeiling
}

// RecordSuccess resets the consecutive failure count.
func (g *Guard) RecordSuccess() {
	g.failures = 0
}
