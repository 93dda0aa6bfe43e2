package netspeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceCachesMeasurement(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	runs := 0
	src := newSource(func(context.Context) (Result, error) {
		runs++
		return Result{DownloadMbps: 93.456, UploadMbps: 20 * float64(runs), PingMs: 12.5}, nil
	}, time.Minute, func() time.Time { return now })
	ctx := context.Background()

	v, err := src.Acquire(ctx, "download")
	require.NoError(t, err)
	assert.Equal(t, "93.46", v)
	v, err = src.Acquire(ctx, " Ping ")
	require.NoError(t, err)
	assert.Equal(t, "12.50", v)
	assert.Equal(t, 1, runs)

	now = now.Add(2 * time.Minute)
	v, err = src.Acquire(ctx, "upload")
	require.NoError(t, err)
	assert.Equal(t, "40.00", v)
	assert.Equal(t, 2, runs)
}

func TestSourceErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("offline")
	src := newSource(func(context.Context) (Result, error) { return Result{}, boom }, 0, time.Now)

	_, err := src.Acquire(context.Background(), "jitter")
	assert.ErrorIs(t, err, ErrUnknownKey)
	_, err = src.Acquire(context.Background(), "download")
	assert.ErrorIs(t, err, boom)
}

func TestRunnerHonorsCanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Runner{}.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
