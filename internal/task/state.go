package task

import "time"

// State is the lifecycle position of a unit.
//
// Pending units are still pursuing their goal. Accomplished and Aborted are
// terminal until a reset (repeating units only).
type State int

const (
	Pending State = iota
	Accomplished
	Aborted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Accomplished:
		return "accomplished"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Reason explains an Aborted state.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonRetries: tries reached MaxTries.
	ReasonRetries
	// ReasonResets: a repeating unit used up MaxResets. Permanent.
	ReasonResets
	// ReasonFailed: a callback failed and the scheduler isolated the unit.
	ReasonFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonRetries:
		return "retries_exhausted"
	case ReasonResets:
		return "resets_exhausted"
	case ReasonFailed:
		return "callback_failed"
	default:
		return "unknown"
	}
}

// Kind distinguishes unit variants in status output.
type Kind string

const (
	KindOnce      Kind = "once"
	KindRepeating Kind = "repeating"
)

// Status is a point-in-time copy of a unit's configuration and state.
type Status struct {
	Name   string
	Kind   Kind
	State  State
	Reason Reason

	Interval time.Duration
	Waited   time.Duration
	Tries    int
	MaxTries Limit

	// Evaluations counts goal invocations, Applications counts completed
	// rule+action applications. Both survive resets.
	Evaluations  uint64
	Applications uint64

	// Repeating units only.
	ResetInterval time.Duration
	ResetWaited   time.Duration
	Resets        int // ticks counted toward MaxResets
	MaxResets     Limit
	Cycles        int // resets actually performed
}

// Done reports whether the unit will do nothing on its next tick.
// Repeating units may still leave a terminal state through a reset.
func (s Status) Done() bool { return s.State != Pending }
