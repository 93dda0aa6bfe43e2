// Package netspeed measures link throughput with speedtest-go and serves the
// numbers as a twin source (keys: download, upload, ping).
package netspeed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

const (
	DefaultCandidates = 3
	DefaultMaxAge     = time.Minute
)

var ErrUnknownKey = errors.New("netspeed: unknown key (use download, upload or ping)")

// Result is a single measurement.
type Result struct {
	At           time.Time
	DownloadMbps float64
	UploadMbps   float64
	PingMs       float64
	Server       string
}

// Runner performs one full test against the lowest-latency nearby server.
type Runner struct {
	// Candidates is how many of the nearest servers get pinged.
	Candidates     int
	MaxConnections int
}

func (r Runner) Run(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	n := r.Candidates
	if n <= 0 {
		n = DefaultCandidates
	}
	conns := r.MaxConnections
	if conns <= 0 {
		conns = 4
	}

	// A private client; the package-level helpers keep shared state.
	stc := st.New(st.WithUserConfig(&st.UserConfig{MaxConnections: conns}))
	stc.SetNThread(conns)
	defer func() {
		stc.Snapshots().Clean()
		stc.Reset()
	}()

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return Result{}, errors.New("no servers available")
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	if n > len(servers) {
		n = len(servers)
	}

	var best *st.Server
	for _, s := range servers[:n] {
		if err := s.PingTestContext(ctx, nil); err != nil || s.Latency <= 0 {
			continue
		}
		if best == nil || s.Latency < best.Latency {
			best = s
		}
	}
	if best == nil {
		return Result{}, errors.New("all latency tests failed")
	}
	if err := best.DownloadTestContext(ctx); err != nil {
		return Result{}, fmt.Errorf("download test: %w", err)
	}
	if err := best.UploadTestContext(ctx); err != nil {
		return Result{}, fmt.Errorf("upload test: %w", err)
	}
	return Result{
		At:           time.Now(),
		DownloadMbps: best.DLSpeed.Mbps(),
		UploadMbps:   best.ULSpeed.Mbps(),
		PingMs:       float64(best.Latency.Microseconds()) / 1000,
		Server:       best.Sponsor,
	}, nil
}

// Source answers key lookups from the latest measurement and only re-runs
// the test once that measurement is older than MaxAge.
type Source struct {
	measure func(ctx context.Context) (Result, error)
	maxAge  time.Duration
	now     func() time.Time

	mu   sync.Mutex
	last Result
}

func NewSource(r Runner, maxAge time.Duration) *Source {
	return newSource(r.Run, maxAge, time.Now)
}

func newSource(measure func(context.Context) (Result, error), maxAge time.Duration, now func() time.Time) *Source {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Source{measure: measure, maxAge: maxAge, now: now}
}

func (s *Source) Acquire(ctx context.Context, key string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	switch k {
	case "download", "upload", "ping":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last.At.IsZero() || s.now().Sub(s.last.At) > s.maxAge {
		res, err := s.measure(ctx)
		if err != nil {
			return "", err
		}
		if res.At.IsZero() {
			res.At = s.now()
		}
		s.last = res
	}
	var v float64
	switch k {
	case "download":
		v = s.last.DownloadMbps
	case "upload":
		v = s.last.UploadMbps
	default:
		v = s.last.PingMs
	}
	return strconv.FormatFloat(v, 'f', 2, 64), nil
}
