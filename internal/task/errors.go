package task

import (
	"errors"
	"fmt"
)

var (
	ErrNameRequired     = errors.New("task: name required")
	ErrNegativeInterval = errors.New("task: interval must be >= 0")
)

// Stage names the callback that failed.
type Stage string

const (
	StageGoal   Stage = "goal"
	StageRule   Stage = "rule"
	StageAction Stage = "action"
)

// CallbackError is returned by Tick when a goal, rule or action fails.
// Panics inside callbacks are converted into a CallbackError as well.
type CallbackError struct {
	Unit  string
	Stage Stage
	Err   error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("unit %q: %s: %v", e.Unit, e.Stage, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// IsCallbackError reports whether err came from a unit callback.
func IsCallbackError(err error) bool {
	var ce *CallbackError
	return errors.As(err, &ce)
}

func invoke(unit string, stage Stage, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackError{Unit: unit, Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(); err != nil {
		return &CallbackError{Unit: unit, Stage: stage, Err: err}
	}
	return nil
}
