package systemdunit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSystemd struct {
	units  map[string]Status
	starts []string
	err    error
}

func (f *fakeSystemd) Status(_ context.Context, unit string) (Status, error) {
	if f.err != nil {
		return Status{}, f.err
	}
	st, ok := f.units[unit]
	if !ok {
		return Status{Name: unit, Active: StateUnknown, SubState: "not-found", LoadState: "not-found"}, nil
	}
	return st, nil
}

func (f *fakeSystemd) Start(_ context.Context, unit string) error {
	f.starts = append(f.starts, unit)
	st := f.units[unit]
	st.Active = StateActive
	f.units[unit] = st
	return nil
}

func TestUnitName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"nginx":          "nginx.service",
		" nginx.service": "nginx.service",
		"backup.timer":   "backup.timer",
		"app.v2":         "app.v2.service",
		"":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, UnitName(in), in)
	}
}

func TestSourceReportsState(t *testing.T) {
	t.Parallel()
	f := &fakeSystemd{units: map[string]Status{
		"nginx.service": {Name: "nginx.service", Active: "inactive", SubState: "dead", LoadState: "loaded"},
	}}
	src := &Source{c: f}
	v, err := src.Acquire(context.Background(), "nginx")
	require.NoError(t, err)
	assert.Equal(t, "inactive", v)
	assert.Empty(t, f.starts)

	_, err = src.Acquire(context.Background(), "missing")
	assert.ErrorContains(t, err, "not found")
	_, err = src.Acquire(context.Background(), " ")
	assert.Error(t, err)
}

func TestStartingSourceStartsInactiveUnits(t *testing.T) {
	t.Parallel()
	f := &fakeSystemd{units: map[string]Status{
		"nginx.service": {Name: "nginx.service", Active: "failed", SubState: "failed", LoadState: "loaded"},
		"redis.service": {Name: "redis.service", Active: StateActive, SubState: "running", LoadState: "loaded"},
	}}
	src := &Source{c: f, start: true}

	v, err := src.Acquire(context.Background(), "nginx")
	require.NoError(t, err)
	assert.Equal(t, StateActive, v)

	v, err = src.Acquire(context.Background(), "redis")
	require.NoError(t, err)
	assert.Equal(t, StateActive, v)
	assert.Equal(t, []string{"nginx.service"}, f.starts)
}

func TestSourcePropagatesErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("bus down")
	_, err := (&Source{c: &fakeSystemd{err: boom}}).Acquire(context.Background(), "nginx")
	assert.ErrorIs(t, err, boom)
}
