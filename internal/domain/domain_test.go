package domain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gratwin/internal/task"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func TestTrackerHistoryAndLookup(t *testing.T) {
	t.Parallel()
	clk := newClock()
	tr := NewTracker(WithHistory(2), WithClock(clk.now))

	tr.Add("temp", "20")
	clk.advance(time.Second)
	tr.Add("temp", "21")
	clk.advance(time.Second)
	tr.Add("temp", "22")
	tr.Add("hum", "40")

	assert.Equal(t, 2, tr.Len("temp"))
	assert.False(t, tr.Contains("temp", "20"), "oldest record evicted")
	assert.True(t, tr.Contains("temp", "22"))

	r, ok := tr.Latest("temp")
	require.True(t, ok)
	assert.Equal(t, "22", r.Value)
	assert.Equal(t, []string{"hum", "temp"}, tr.Keys())

	clk.advance(3 * time.Second)
	age, ok := tr.Age("temp")
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, age)

	_, ok = tr.Age("missing")
	assert.False(t, ok)
}

func TestTrackerNormalizesKeys(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	tr.Add(" temp ", "20")

	for _, key := range []string{"temp", " temp ", "temp\n"} {
		r, ok := tr.Latest(key)
		require.True(t, ok, "key %q", key)
		assert.Equal(t, "temp", r.Key)
		assert.True(t, tr.Contains(key, "20"))
		assert.Equal(t, 1, tr.Len(key))
		_, ok = tr.Age(key)
		assert.True(t, ok)
	}
	assert.Equal(t, []string{"temp"}, tr.Keys())
}

func TestFreshGoalAndStaleRule(t *testing.T) {
	t.Parallel()
	clk := newClock()
	tr := NewTracker(WithClock(clk.now))
	ctx := context.Background()

	ok, err := FreshGoal("temp", time.Minute)(ctx, tr)
	require.NoError(t, err)
	assert.False(t, ok)

	s, err := StaleRule("temp")(ctx, tr)
	require.NoError(t, err)
	assert.True(t, s.Missing)
	assert.Equal(t, "temp: missing", s.String())

	tr.Add("temp", "20")
	ok, _ = FreshGoal("temp", time.Minute)(ctx, tr)
	assert.True(t, ok)

	clk.advance(2 * time.Minute)
	ok, _ = FreshGoal("temp", time.Minute)(ctx, tr)
	assert.False(t, ok)
	s, _ = StaleRule("temp")(ctx, tr)
	assert.False(t, s.Missing)
	assert.Equal(t, 2*time.Minute, s.Age)
}

func TestAcquireActionRecordsAndWrapsErrors(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	ctx := context.Background()

	require.NoError(t, AcquireAction("temp", Static("19"))(ctx, tr, Staleness{Key: "temp"}))
	assert.True(t, tr.Contains("temp", "19"))

	boom := errors.New("sensor offline")
	src := SourceFunc(func(context.Context, string) (string, error) { return "", boom })
	err := AcquireAction("temp", src)(ctx, tr, Staleness{})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "acquire temp")
}

func TestPromptSourceReadsLines(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	p := NewPromptSource(strings.NewReader("42\r\nlast"), &out)
	ctx := context.Background()

	v, err := p.Acquire(ctx, "answer")
	require.NoError(t, err)
	assert.Equal(t, "42", v)
	assert.Equal(t, "Input value for answer: ", out.String())

	v, err = p.Acquire(ctx, "answer")
	require.NoError(t, err)
	assert.Equal(t, "last", v)

	_, err = p.Acquire(ctx, "answer")
	assert.Error(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Acquire(cctx, "answer")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSystemSourceRejectsUnknownMetric(t *testing.T) {
	t.Parallel()
	_, err := SystemSource{}.Acquire(context.Background(), "gpu")
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestCatalogBuildContainsUnit(t *testing.T) {
	t.Parallel()
	c := NewCatalog()
	u, err := c.Build(UnitDef{
		Name:     "answer",
		Interval: time.Second,
		MaxTries: task.Bounded(3),
		Probe:    Probe{Type: ProbeContains, Key: "answer", Value: "42", Source: "static:42"},
	})
	require.NoError(t, err)

	tr := NewTracker()
	ctx := context.Background()
	require.NoError(t, u.Tick(ctx, tr, 0))
	assert.True(t, tr.Contains("answer", "42"))
	assert.Equal(t, task.Pending, u.Status().State)

	require.NoError(t, u.Tick(ctx, tr, time.Second))
	st := u.Status()
	assert.Equal(t, task.Accomplished, st.State)
	assert.Equal(t, task.KindOnce, st.Kind)
}

func TestCatalogBuildRepeatingFreshUnit(t *testing.T) {
	t.Parallel()
	clk := newClock()
	c := NewCatalog()
	c.Register("Sensor", Static("ok"))

	u, err := c.Build(UnitDef{
		Name:          "sensor",
		Kind:          task.KindRepeating,
		Interval:      time.Second,
		ResetInterval: 10 * time.Second,
		Probe:         Probe{Type: ProbeFresh, Key: "sensor", MaxAge: 5 * time.Second, Source: "sensor"},
	})
	require.NoError(t, err)
	assert.Equal(t, task.KindRepeating, u.Status().Kind)

	tr := NewTracker(WithClock(clk.now))
	ctx := context.Background()
	require.NoError(t, u.Tick(ctx, tr, 0))
	require.NoError(t, u.Tick(ctx, tr, time.Second))
	assert.Equal(t, task.Accomplished, u.Status().State)
	assert.Equal(t, 1, tr.Len("sensor"))
}

func TestCatalogBuildErrors(t *testing.T) {
	t.Parallel()
	c := NewCatalog()

	_, err := c.Build(UnitDef{Name: "a", Probe: Probe{Type: "weird", Key: "k"}})
	assert.ErrorIs(t, err, ErrUnknownProbe)

	_, err = c.Build(UnitDef{Name: "a", Probe: Probe{Type: ProbeFresh, Key: "k", Source: "nope"}})
	assert.ErrorIs(t, err, ErrUnknownSource)

	_, err = c.Build(UnitDef{Name: "a", Probe: Probe{Type: ProbeFresh, Key: "k"}})
	assert.ErrorContains(t, err, "max_age")

	_, err = c.Build(UnitDef{Name: "a", Probe: Probe{Type: ProbeContains}})
	assert.ErrorContains(t, err, "probe key")

	_, err = c.Build(UnitDef{Name: "", Probe: Probe{Type: ProbeContains, Key: "k"}})
	assert.ErrorIs(t, err, task.ErrNameRequired)
}
