package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "gratwin/pkg/logx"
)

func openTest(t *testing.T, driver string, retain int) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      driver,
		Path:        filepath.Join(t.TempDir(), "gratwin.db"),
		BusyTimeout: time.Second,
		Retain:      retain,
	}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func outcome(i int, unit, run string) Outcome {
	return Outcome{
		At:    time.Date(2026, 3, 1, 12, 0, i, 0, time.UTC),
		RunID: run,
		Unit:  unit,
		Event: "unit.accomplished",
		State: "accomplished",
		Tries: i,
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	assert.ErrorContains(t, err, "unknown storage driver")

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestStoresAppendAndRecent(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTest(t, driver, 0)
			ctx := context.Background()

			for i := 1; i <= 5; i++ {
				unit := "cpu"
				if i%2 == 0 {
					unit = "mem"
				}
				require.NoError(t, st.AppendOutcome(ctx, outcome(i, unit, "run-a")))
			}
			failed := outcome(6, "cpu", "run-b")
			failed.Event, failed.State, failed.Reason, failed.Error = "unit.failed", "pending", "", "sensor offline"
			require.NoError(t, st.AppendOutcome(ctx, failed))

			all, err := st.Recent(ctx, Query{})
			require.NoError(t, err)
			require.Len(t, all, 6)
			assert.Equal(t, failed, all[0], "newest first")
			assert.Equal(t, 1, all[5].Tries)

			cpu, err := st.Recent(ctx, Query{Unit: "cpu", RunID: "run-a"})
			require.NoError(t, err)
			require.Len(t, cpu, 3)
			assert.Equal(t, []int{5, 3, 1}, []int{cpu[0].Tries, cpu[1].Tries, cpu[2].Tries})

			two, err := st.Recent(ctx, Query{Limit: 2})
			require.NoError(t, err)
			assert.Len(t, two, 2)
		})
	}
}

func TestFileStoreSurvivesReopenAndCompacts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "journal"), Retain: 3}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	for i := 1; i <= 4; i++ {
		require.NoError(t, st.AppendOutcome(ctx, outcome(i, "u", "r")))
	}
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	assert.Error(t, st.AppendOutcome(ctx, outcome(9, "u", "r")))

	path := filepath.Join(dir, "journal.outcomes.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = fmt.Fprint(f, "{torn")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	rows, err := st.Recent(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	// Past 2*Retain rows the journal is cut back to Retain.
	for i := 5; i <= 7; i++ {
		require.NoError(t, st.AppendOutcome(ctx, outcome(i, "u", "r")))
	}
	rows, err = st.Recent(ctx, Query{Limit: 100})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 7, rows[0].Tries)
	assert.Equal(t, 5, rows[2].Tries)
}

func TestSQLitePrunesToRetention(t *testing.T) {
	t.Parallel()
	st := openTest(t, "sqlite", 10)
	s := st.(*sqliteStore)
	s.pruneEvery = 5
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		require.NoError(t, st.AppendOutcome(ctx, outcome(i%60, "u", "r")))
	}
	rows, err := st.Recent(ctx, Query{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, rows, 10)
}
