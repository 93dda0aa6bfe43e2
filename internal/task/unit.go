package task

import (
	"context"
	"strings"
	"time"
)

// Goal reports whether the domain already satisfies the unit.
type Goal[D any] func(ctx context.Context, d D) (bool, error)

// Rule computes the remedial value applied by Action.
type Rule[D, R any] func(ctx context.Context, d D) (R, error)

// Action applies a remedial value to the domain.
type Action[D, R any] func(ctx context.Context, d D, r R) error

// Runner is implemented by every unit variant the scheduler can drive.
type Runner[D any] interface {
	Name() string
	Tick(ctx context.Context, d D, elapsed time.Duration) error
	// Abort forces the unit into Aborted. It returns false if the unit was
	// already in a terminal state.
	Abort(reason Reason) bool
	Status() Status
}

// Config describes a unit. Every field is fixed at construction.
//
// Goal, Rule and Action are optional:
//   - no Goal means the unit is never accomplished by inspection alone
//   - no Rule means Action receives the zero value of R
type Config[D, R any] struct {
	Name     string
	Goal     Goal[D]
	Rule     Rule[D, R]
	Action   Action[D, R]
	Interval time.Duration
	MaxTries Limit
}

func (c Config[D, R]) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrNameRequired
	}
	if c.Interval < 0 {
		return ErrNegativeInterval
	}
	return nil
}

// Unit is a single goal/rule/action triple with its timing and try state.
//
// A Unit is not safe for concurrent use; it is advanced from one goroutine
// (the scheduler loop). Use Status copies to observe it elsewhere.
type Unit[D, R any] struct {
	name     string
	goal     Goal[D]
	rule     Rule[D, R]
	action   Action[D, R]
	interval time.Duration
	maxTries Limit

	waited time.Duration
	tries  int
	state  State
	reason Reason

	evaluations  uint64
	applications uint64
}

// New builds a fully configured unit. The first eligible tick evaluates
// immediately because the wait timer starts at Interval.
func New[D, R any](cfg Config[D, R]) (*Unit[D, R], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	u := &Unit[D, R]{
		name:     strings.TrimSpace(cfg.Name),
		goal:     cfg.Goal,
		rule:     cfg.Rule,
		action:   cfg.Action,
		interval: cfg.Interval,
		maxTries: cfg.MaxTries,
	}
	u.reset()
	return u, nil
}

func (u *Unit[D, R]) Name() string { return u.name }

func (u *Unit[D, R]) State() State { return u.state }

// Tick advances the unit by elapsed.
//
// Per call there is at most one goal evaluation and at most one rule+action
// application. A failing callback is returned as *CallbackError and leaves
// the try counter untouched.
func (u *Unit[D, R]) Tick(ctx context.Context, d D, elapsed time.Duration) error {
	if u.state != Pending {
		return nil
	}
	if elapsed > 0 {
		u.waited += elapsed
	}
	if u.waited < u.interval {
		return nil
	}
	u.waited = 0

	// MaxTries of 0 aborts on the first eligible tick without touching the domain.
	if u.maxTries.Reached(u.tries) {
		u.abort(ReasonRetries)
		return nil
	}

	if u.goal != nil {
		u.evaluations++
		var ok bool
		err := invoke(u.name, StageGoal, func() error {
			var err error
			ok, err = u.goal(ctx, d)
			return err
		})
		if err != nil {
			return err
		}
		if ok {
			u.state = Accomplished
			return nil
		}
	}

	var result R
	if u.rule != nil {
		err := invoke(u.name, StageRule, func() error {
			var err error
			result, err = u.rule(ctx, d)
			return err
		})
		if err != nil {
			return err
		}
	}
	if u.action != nil {
		err := invoke(u.name, StageAction, func() error {
			return u.action(ctx, d, result)
		})
		if err != nil {
			return err
		}
	}

	u.applications++
	u.tries++
	if u.maxTries.Reached(u.tries) {
		u.abort(ReasonRetries)
	}
	return nil
}

func (u *Unit[D, R]) Abort(reason Reason) bool {
	if u.state != Pending {
		return false
	}
	u.abort(reason)
	return true
}

func (u *Unit[D, R]) abort(reason Reason) {
	u.state = Aborted
	u.reason = reason
}

// reset restores the construction-time timing and try state.
func (u *Unit[D, R]) reset() {
	u.waited = u.interval
	u.tries = 0
	u.state = Pending
	u.reason = ReasonNone
}

func (u *Unit[D, R]) Status() Status {
	return Status{
		Name:         u.name,
		Kind:         KindOnce,
		State:        u.state,
		Reason:       u.reason,
		Interval:     u.interval,
		Waited:       u.waited,
		Tries:        u.tries,
		MaxTries:     u.maxTries,
		Evaluations:  u.evaluations,
		Applications: u.applications,
	}
}
