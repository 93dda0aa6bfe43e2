package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probe struct {
	goalCalls   int
	ruleCalls   int
	actionCalls int
	accomplish  bool
	lastResult  int
}

func probeConfig(name string, interval time.Duration, maxTries Limit) Config[*probe, int] {
	return Config[*probe, int]{
		Name:     name,
		Interval: interval,
		MaxTries: maxTries,
		Goal: func(_ context.Context, p *probe) (bool, error) {
			p.goalCalls++
			return p.accomplish, nil
		},
		Rule: func(_ context.Context, p *probe) (int, error) {
			p.ruleCalls++
			return p.ruleCalls * 10, nil
		},
		Action: func(_ context.Context, p *probe, r int) error {
			p.actionCalls++
			p.lastResult = r
			return nil
		},
	}
}

func mustUnit(t *testing.T, cfg Config[*probe, int]) *Unit[*probe, int] {
	t.Helper()
	u, err := New(cfg)
	require.NoError(t, err)
	return u
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config[*probe, int]{Name: "  "})
	assert.ErrorIs(t, err, ErrNameRequired)

	_, err = New(Config[*probe, int]{Name: "x", Interval: -time.Second})
	assert.ErrorIs(t, err, ErrNegativeInterval)

	u, err := New(Config[*probe, int]{Name: " fresh "})
	require.NoError(t, err)
	assert.Equal(t, "fresh", u.Name())
	assert.Equal(t, Pending, u.State())
}

func TestFirstTickEvaluatesImmediately(t *testing.T) {
	t.Parallel()
	p := &probe{}
	u := mustUnit(t, probeConfig("u", 10*time.Second, Unbounded))

	require.NoError(t, u.Tick(context.Background(), p, 0))
	assert.Equal(t, 1, p.goalCalls)
	assert.Equal(t, 1, p.actionCalls)
	assert.Equal(t, 10, p.lastResult)
}

func TestNoCallbacksBeforeInterval(t *testing.T) {
	t.Parallel()
	p := &probe{}
	u := mustUnit(t, probeConfig("u", 10*time.Second, Unbounded))
	ctx := context.Background()

	require.NoError(t, u.Tick(ctx, p, 0))
	before := *p

	for _, d := range []time.Duration{time.Second, 3 * time.Second, 5 * time.Second} {
		require.NoError(t, u.Tick(ctx, p, d))
	}
	assert.Equal(t, before, *p, "no callback may run while waiting")
	assert.Equal(t, 9*time.Second, u.Status().Waited)

	require.NoError(t, u.Tick(ctx, p, time.Second))
	assert.Equal(t, 2, p.goalCalls)
	assert.Equal(t, time.Duration(0), u.Status().Waited)
}

func TestAccomplishedIsSticky(t *testing.T) {
	t.Parallel()
	p := &probe{}
	u := mustUnit(t, probeConfig("u", time.Second, Unbounded))
	ctx := context.Background()

	require.NoError(t, u.Tick(ctx, p, 0))
	p.accomplish = true
	require.NoError(t, u.Tick(ctx, p, time.Second))
	assert.Equal(t, Accomplished, u.State())
	assert.Equal(t, 1, p.actionCalls, "goal true must skip rule and action")

	calls := *p
	for i := 0; i < 5; i++ {
		require.NoError(t, u.Tick(ctx, p, time.Hour))
	}
	assert.Equal(t, calls, *p)
	assert.Equal(t, Accomplished, u.State())
}

func TestMaxTriesAbortsAfterExactlyN(t *testing.T) {
	t.Parallel()
	p := &probe{}
	u := mustUnit(t, probeConfig("u", 10*time.Second, Bounded(3)))
	ctx := context.Background()

	// The initial wait is pre-filled, so the first tick applies at once.
	require.NoError(t, u.Tick(ctx, p, 0))
	assert.Equal(t, 1, p.actionCalls)

	// 4s + 4s stay below the interval, the third 4s crosses it.
	require.NoError(t, u.Tick(ctx, p, 4*time.Second))
	require.NoError(t, u.Tick(ctx, p, 4*time.Second))
	assert.Equal(t, 1, p.actionCalls)
	require.NoError(t, u.Tick(ctx, p, 4*time.Second))
	assert.Equal(t, 2, p.actionCalls)

	require.NoError(t, u.Tick(ctx, p, 10*time.Second))
	assert.Equal(t, 3, p.actionCalls)
	st := u.Status()
	assert.Equal(t, Aborted, st.State)
	assert.Equal(t, ReasonRetries, st.Reason)
	assert.Equal(t, 3, st.Tries)

	require.NoError(t, u.Tick(ctx, p, 10*time.Second))
	assert.Equal(t, 3, p.actionCalls)
	assert.Equal(t, 3, p.goalCalls)
}

func TestMaxTriesZeroAbortsWithoutCallbacks(t *testing.T) {
	t.Parallel()
	p := &probe{}
	u := mustUnit(t, probeConfig("u", time.Second, Bounded(0)))

	require.NoError(t, u.Tick(context.Background(), p, 0))
	assert.Equal(t, Aborted, u.State())
	assert.Equal(t, ReasonRetries, u.Status().Reason)
	assert.Zero(t, p.goalCalls)
	assert.Zero(t, p.ruleCalls)
	assert.Zero(t, p.actionCalls)
}

func TestMissingCallbacks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// No goal: never accomplished, tries still count.
	var got []int
	u, err := New(Config[*probe, int]{
		Name:     "no-goal-no-rule",
		MaxTries: Bounded(2),
		Action: func(_ context.Context, _ *probe, r int) error {
			got = append(got, r)
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, u.Tick(ctx, &probe{}, 0))
	require.NoError(t, u.Tick(ctx, &probe{}, 0))
	assert.Equal(t, []int{0, 0}, got, "action receives the zero result without a rule")
	assert.Equal(t, Aborted, u.State())

	// Nothing at all: only the try counter moves.
	bare, err := New(Config[*probe, int]{Name: "bare"})
	require.NoError(t, err)
	require.NoError(t, bare.Tick(ctx, nil, 0))
	assert.Equal(t, 1, bare.Status().Tries)
	assert.Equal(t, Pending, bare.State())
}

func TestCallbackErrorPropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	ctx := context.Background()

	tests := []struct {
		name  string
		stage Stage
		cfg   Config[*probe, int]
	}{
		{
			name:  "goal",
			stage: StageGoal,
			cfg: Config[*probe, int]{Name: "g", Goal: func(context.Context, *probe) (bool, error) {
				return false, boom
			}},
		},
		{
			name:  "rule",
			stage: StageRule,
			cfg: Config[*probe, int]{Name: "r", Rule: func(context.Context, *probe) (int, error) {
				return 0, boom
			}},
		},
		{
			name:  "action",
			stage: StageAction,
			cfg: Config[*probe, int]{Name: "a", Action: func(context.Context, *probe, int) error {
				return boom
			}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u := mustUnit(t, tt.cfg)
			err := u.Tick(ctx, &probe{}, 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)

			var ce *CallbackError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.stage, ce.Stage)
			assert.Equal(t, tt.cfg.Name, ce.Unit)
			assert.True(t, IsCallbackError(err))
			assert.Zero(t, u.Status().Tries, "failed application is not a try")
			assert.Equal(t, Pending, u.State())
		})
	}
}

func TestCallbackPanicBecomesError(t *testing.T) {
	t.Parallel()
	u := mustUnit(t, Config[*probe, int]{
		Name: "p",
		Goal: func(context.Context, *probe) (bool, error) { panic("kaboom") },
	})
	err := u.Tick(context.Background(), &probe{}, 0)
	var ce *CallbackError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StageGoal, ce.Stage)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestAbort(t *testing.T) {
	t.Parallel()
	p := &probe{}
	u := mustUnit(t, probeConfig("u", 0, Unbounded))

	assert.True(t, u.Abort(ReasonFailed))
	assert.False(t, u.Abort(ReasonFailed), "second abort is a no-op")
	require.NoError(t, u.Tick(context.Background(), p, time.Hour))
	assert.Zero(t, p.goalCalls)
	assert.Equal(t, ReasonFailed, u.Status().Reason)
}

func TestLimit(t *testing.T) {
	t.Parallel()
	assert.False(t, Unbounded.Reached(1<<30))
	assert.Equal(t, "unbounded", Unbounded.String())

	l := Bounded(-4)
	n, ok := l.Value()
	assert.True(t, ok)
	assert.Zero(t, n)
	assert.True(t, l.Reached(0))
	assert.Equal(t, "3", Bounded(3).String())
}
