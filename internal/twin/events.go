package twin

import (
	"time"

	"golang.org/x/time/rate"

	"gratwin/internal/task"
)

// UnitEvent is the payload of every event the twin publishes.
type UnitEvent struct {
	RunID  string    `json:"run_id"`
	Unit   string    `json:"unit,omitempty"`
	Kind   task.Kind `json:"kind,omitempty"`
	State  string    `json:"state,omitempty"`
	Reason string    `json:"reason,omitempty"`
	Tries  int       `json:"tries"`
	Resets int       `json:"resets"`
	Cycles int       `json:"cycles"`
	Error  string    `json:"error,omitempty"`
}

// failureLimiter lets one failure warning through per interval and counts
// what it swallowed in between.
type failureLimiter struct {
	lim        *rate.Limiter
	suppressed int
}

func newFailureLimiter(every time.Duration) *failureLimiter {
	return &failureLimiter{lim: rate.NewLimiter(rate.Every(every), 1)}
}

func (f *failureLimiter) allow() (bool, int) {
	if f.lim.Allow() {
		n := f.suppressed
		f.suppressed = 0
		return true, n
	}
	f.suppressed++
	return false, 0
}
