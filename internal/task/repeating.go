package task

import (
	"context"
	"errors"
	"time"
)

var ErrNegativeResetInterval = errors.New("task: reset interval must be >= 0")

// RepeatingConfig extends Config with a reset cadence.
type RepeatingConfig[D, R any] struct {
	Config[D, R]

	// ResetInterval is how much elapsed time triggers a full state reset,
	// regardless of whether the goal was reached or the unit aborted.
	ResetInterval time.Duration
	// MaxResets bounds the number of ticks the unit may take (see Tick).
	MaxResets Limit
}

// RepeatingUnit is a Unit that periodically forgets its outcome and pursues
// its goal again, e.g. a freshness check that must recur forever.
type RepeatingUnit[D, R any] struct {
	base Unit[D, R]

	resetInterval time.Duration
	maxResets     Limit

	resetWaited time.Duration
	resets      int
	cycles      int
	exhausted   bool
}

func NewRepeating[D, R any](cfg RepeatingConfig[D, R]) (*RepeatingUnit[D, R], error) {
	if cfg.ResetInterval < 0 {
		return nil, ErrNegativeResetInterval
	}
	u, err := New(cfg.Config)
	if err != nil {
		return nil, err
	}
	return &RepeatingUnit[D, R]{
		base:          *u,
		resetInterval: cfg.ResetInterval,
		maxResets:     cfg.MaxResets,
	}, nil
}

func (u *RepeatingUnit[D, R]) Name() string { return u.base.name }

func (u *RepeatingUnit[D, R]) State() State { return u.base.state }

// Tick counts every call toward MaxResets, not just the calls that fire a
// reset. Once the budget is used up the unit is aborted for good.
//
// A reset runs before the base tick, so a reset and a fresh evaluation can
// happen in the same call.
func (u *RepeatingUnit[D, R]) Tick(ctx context.Context, d D, elapsed time.Duration) error {
	if u.exhausted {
		return nil
	}
	if u.maxResets.Reached(u.resets) {
		u.exhausted = true
		u.base.abort(ReasonResets)
		return nil
	}

	u.resets++
	if elapsed > 0 {
		u.resetWaited += elapsed
	}
	if u.resetWaited >= u.resetInterval {
		u.base.reset()
		u.resetWaited = 0
		u.cycles++
	}
	return u.base.Tick(ctx, d, elapsed)
}

// Abort on a repeating unit only lasts until the next reset, except for
// ReasonResets which is permanent.
func (u *RepeatingUnit[D, R]) Abort(reason Reason) bool {
	if reason == ReasonResets {
		if u.exhausted {
			return false
		}
		u.exhausted = true
		u.base.abort(ReasonResets)
		return true
	}
	return u.base.Abort(reason)
}

// Exhausted reports whether the reset budget is spent.
func (u *RepeatingUnit[D, R]) Exhausted() bool { return u.exhausted }

func (u *RepeatingUnit[D, R]) Status() Status {
	st := u.base.Status()
	st.Kind = KindRepeating
	st.ResetInterval = u.resetInterval
	st.ResetWaited = u.resetWaited
	st.Resets = u.resets
	st.MaxResets = u.maxResets
	st.Cycles = u.cycles
	return st
}
