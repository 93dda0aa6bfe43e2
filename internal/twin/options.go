package twin

import (
	"fmt"
	"strings"
	"time"

	"gratwin/internal/eventbus"
	"gratwin/internal/metrics"
	logx "gratwin/pkg/logx"
)

const (
	// DefaultPeriod is the minimum spacing between loop iterations.
	DefaultPeriod = 100 * time.Millisecond
	// DefaultFailureLogEvery throttles repeated failure warnings per unit.
	DefaultFailureLogEvery = 30 * time.Second
)

// FailurePolicy decides what a callback failure does to the loop.
type FailurePolicy int

const (
	// PolicyIsolate aborts the failing unit (ReasonFailed) and keeps ticking
	// the remaining units in the same iteration.
	PolicyIsolate FailurePolicy = iota
	// PolicyFatal stops the loop; Wait returns the failure.
	PolicyFatal
)

func (p FailurePolicy) String() string {
	switch p {
	case PolicyIsolate:
		return "isolate"
	case PolicyFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParsePolicy accepts "isolate" (also "", "resilient") and "fatal".
func ParsePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "isolate", "resilient":
		return PolicyIsolate, nil
	case "fatal":
		return PolicyFatal, nil
	default:
		return PolicyIsolate, fmt.Errorf("unknown failure policy %q (use isolate or fatal)", s)
	}
}

type options struct {
	log             logx.Logger
	bus             eventbus.Bus
	metrics         *metrics.Collector
	period          time.Duration
	policy          FailurePolicy
	now             func() time.Time
	runID           string
	failureLogEvery time.Duration
}

type Option func(*options)

func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(o *options) { o.bus = bus } }

func WithMetrics(c *metrics.Collector) Option { return func(o *options) { o.metrics = c } }

// WithPeriod sets the minimum iteration period. Values <= 0 keep the default.
func WithPeriod(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.period = d
		}
	}
}

func WithFailurePolicy(p FailurePolicy) Option { return func(o *options) { o.policy = p } }

// WithClock replaces time.Now for elapsed-time measurement.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRunID tags every published event. Defaults to a random UUID.
func WithRunID(id string) Option { return func(o *options) { o.runID = strings.TrimSpace(id) } }

func WithFailureLogEvery(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.failureLogEvery = d
		}
	}
}
