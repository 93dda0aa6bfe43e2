package domain

import (
	"context"
	"fmt"
	"time"

	"gratwin/internal/task"
)

// Staleness is the remedial value computed by StaleRule: what is wrong with
// a key right now.
type Staleness struct {
	Key     string
	Age     time.Duration
	Missing bool
}

func (s Staleness) String() string {
	if s.Missing {
		return s.Key + ": missing"
	}
	return fmt.Sprintf("%s: %s old", s.Key, s.Age.Round(time.Millisecond))
}

// ContainsGoal is accomplished once any record under key equals value.
func ContainsGoal(key, value string) task.Goal[*Tracker] {
	return func(_ context.Context, t *Tracker) (bool, error) {
		return t.Contains(key, value), nil
	}
}

// FreshGoal is accomplished while the latest record under key is younger
// than maxAge.
func FreshGoal(key string, maxAge time.Duration) task.Goal[*Tracker] {
	return func(_ context.Context, t *Tracker) (bool, error) {
		age, ok := t.Age(key)
		return ok && age <= maxAge, nil
	}
}

func StaleRule(key string) task.Rule[*Tracker, Staleness] {
	return func(_ context.Context, t *Tracker) (Staleness, error) {
		age, ok := t.Age(key)
		return Staleness{Key: key, Age: age, Missing: !ok}, nil
	}
}

// AcquireAction fetches a fresh value for the stale key from src and
// records it.
func AcquireAction(key string, src Source) task.Action[*Tracker, Staleness] {
	return func(ctx context.Context, t *Tracker, s Staleness) error {
		k := s.Key
		if k == "" {
			k = key
		}
		v, err := src.Acquire(ctx, k)
		if err != nil {
			return fmt.Errorf("acquire %s: %w", k, err)
		}
		t.Add(k, v)
		return nil
	}
}
