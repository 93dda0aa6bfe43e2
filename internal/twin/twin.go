package twin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gratwin/internal/eventbus"
	rtsup "gratwin/internal/runtime/supervisor"
	"gratwin/internal/task"
	logx "gratwin/pkg/logx"
)

var (
	ErrRunning        = errors.New("twin: loop is running")
	ErrAlreadyStarted = errors.New("twin: already started")
	ErrDuplicateUnit  = errors.New("twin: duplicate unit name")
	ErrNilUnit        = errors.New("twin: nil unit")
)

// Twin drives a fixed set of units against one shared domain value.
//
// Units are registered with Add before Run. The loop ticks every unit, in
// insertion order, on a single goroutine; callbacks therefore never race
// each other on the domain. Sharing the domain with other goroutines (or
// other twins) requires the domain's own synchronization.
type Twin[D any] struct {
	domain D
	opt    options
	log    logx.Logger

	mu      sync.Mutex
	units   []task.Runner[D]
	names   map[string]struct{}
	started bool
	sup     *rtsup.Supervisor

	// Loop-owned.
	prev     []task.Status
	limiters map[string]*failureLimiter

	terminated atomic.Bool
	stopOnce   sync.Once
	stopCh     chan struct{}

	snap atomic.Pointer[[]task.Status]
}

// New binds a twin to domain.
func New[D any](domain D, opts ...Option) *Twin[D] {
	o := options{
		period:          DefaultPeriod,
		policy:          PolicyIsolate,
		now:             time.Now,
		failureLogEvery: DefaultFailureLogEvery,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	t := &Twin[D]{
		domain:   domain,
		opt:      o,
		log:      o.log.With(logx.String("comp", "twin"), logx.String("run", o.runID)),
		names:    map[string]struct{}{},
		limiters: map[string]*failureLimiter{},
		stopCh:   make(chan struct{}),
	}
	empty := []task.Status{}
	t.snap.Store(&empty)
	return t
}

func (t *Twin[D]) RunID() string { return t.opt.runID }

func (t *Twin[D]) Domain() D { return t.domain }

func (t *Twin[D]) Policy() FailurePolicy { return t.opt.policy }

// Add registers a unit. It must happen before Run.
func (t *Twin[D]) Add(u task.Runner[D]) error {
	if u == nil {
		return ErrNilUnit
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrRunning
	}
	name := u.Name()
	if _, dup := t.names[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateUnit, name)
	}
	t.names[name] = struct{}{}
	t.units = append(t.units, u)
	t.prev = append(t.prev, u.Status())
	t.storeSnapshot()
	return nil
}

// Len returns the number of registered units.
func (t *Twin[D]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.units)
}

// Snapshot returns the unit statuses as of the last finished iteration.
// Safe to call from any goroutine.
func (t *Twin[D]) Snapshot() []task.Status {
	p := t.snap.Load()
	if p == nil {
		return nil
	}
	return append([]task.Status(nil), (*p)...)
}

// Run starts the driver loop in the background and returns at once.
// The loop ends on Terminate, on ctx cancellation, or (PolicyFatal) on the
// first callback failure.
func (t *Twin[D]) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.sup = rtsup.New(ctx,
		rtsup.WithLogger(t.log),
		rtsup.WithCancelOnError(true),
	)
	sup := t.sup
	n := len(t.units)
	t.mu.Unlock()

	t.opt.metrics.SetUnits(n)
	t.publish(eventbus.TypeTwinStarted, UnitEvent{RunID: t.opt.runID})
	t.log.Info("twin started",
		logx.Int("units", n),
		logx.Duration("period", t.opt.period),
		logx.Stringer("policy", t.opt.policy),
	)

	sup.Go("twin.loop", t.loop)
	return nil
}

// Terminate asks the loop to stop at the top of its next iteration.
// It does not interrupt a callback that is already running.
func (t *Twin[D]) Terminate() {
	t.terminated.Store(true)
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// Done is closed when the loop has exited. It never closes if Run was not
// called.
func (t *Twin[D]) Done() <-chan struct{} {
	t.mu.Lock()
	sup := t.sup
	t.mu.Unlock()
	if sup == nil {
		return make(chan struct{})
	}
	return sup.Done()
}

// Wait blocks until the loop exits or ctx ends. It returns the failure that
// stopped the loop, if any.
func (t *Twin[D]) Wait(ctx context.Context) error {
	t.mu.Lock()
	sup := t.sup
	t.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Wait(ctx)
}

// Step runs exactly one iteration with an explicit elapsed delta.
// It is meant for hosts that drive time themselves and for tests, and is
// rejected once Run has started.
func (t *Twin[D]) Step(ctx context.Context, elapsed time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if started {
		return ErrRunning
	}
	return t.iterate(ctx, elapsed)
}

func (t *Twin[D]) loop(ctx context.Context) error {
	defer func() {
		t.publish(eventbus.TypeTwinStopped, UnitEvent{RunID: t.opt.runID})
		t.log.Info("twin stopped")
	}()

	ticker := time.NewTicker(t.opt.period)
	defer ticker.Stop()

	last := t.opt.now()
	for {
		if t.terminated.Load() || ctx.Err() != nil {
			return nil
		}
		now := t.opt.now()
		elapsed := now.Sub(last)
		last = now

		if err := t.iterate(ctx, elapsed); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.stopCh:
			return nil
		case <-ticker.C:
		}
	}
}

// iterate ticks every unit once. Only one goroutine may call it at a time.
func (t *Twin[D]) iterate(ctx context.Context, elapsed time.Duration) error {
	start := time.Now()
	defer func() { t.opt.metrics.RecordIteration(time.Since(start)) }()

	for i, u := range t.units {
		err := u.Tick(ctx, t.domain, elapsed)
		cur := u.Status()
		t.observe(t.prev[i], cur)
		t.prev[i] = cur
		if err == nil {
			continue
		}

		t.reportFailure(cur, err)
		if t.opt.policy == PolicyFatal {
			t.storeSnapshot()
			return err
		}
		if u.Abort(task.ReasonFailed) {
			cur = u.Status()
			t.observe(t.prev[i], cur)
			t.prev[i] = cur
		}
	}
	t.storeSnapshot()
	return nil
}

func (t *Twin[D]) storeSnapshot() {
	cp := append([]task.Status(nil), t.prev...)
	t.snap.Store(&cp)
}

// observe reports the difference between two consecutive statuses of a unit.
func (t *Twin[D]) observe(prev, cur task.Status) {
	m := t.opt.metrics
	if cur.Evaluations > prev.Evaluations {
		m.AddEvaluations(cur.Name, cur.Evaluations-prev.Evaluations)
	}
	if cur.Applications > prev.Applications {
		m.AddApplications(cur.Name, cur.Applications-prev.Applications)
	}

	reset := cur.Cycles > prev.Cycles
	if reset {
		m.RecordReset(cur.Name)
		t.log.Debug("unit reset", logx.String("unit", cur.Name), logx.Int("cycle", cur.Cycles), logx.Int("resets", cur.Resets))
		t.publish(eventbus.TypeUnitReset, t.event(cur, nil))
	}

	if cur.State == task.Pending || (cur.State == prev.State && !reset && cur.Reason == prev.Reason) {
		return
	}
	m.RecordTransition(cur.Name, cur.State.String())
	switch cur.State {
	case task.Accomplished:
		t.log.Info("unit accomplished",
			logx.String("unit", cur.Name),
			logx.Int("tries", cur.Tries),
			logx.Uint64("evaluations", cur.Evaluations),
		)
		t.publish(eventbus.TypeUnitAccomplished, t.event(cur, nil))
	case task.Aborted:
		t.log.Warn("unit aborted",
			logx.String("unit", cur.Name),
			logx.Stringer("reason", cur.Reason),
			logx.Int("tries", cur.Tries),
			logx.String("max_tries", cur.MaxTries.String()),
			logx.Int("resets", cur.Resets),
		)
		t.publish(eventbus.TypeUnitAborted, t.event(cur, nil))
	}
}

func (t *Twin[D]) reportFailure(cur task.Status, err error) {
	t.opt.metrics.RecordFailure(cur.Name)
	t.publish(eventbus.TypeUnitFailed, t.event(cur, err))

	lim := t.limiters[cur.Name]
	if lim == nil {
		lim = newFailureLimiter(t.opt.failureLogEvery)
		t.limiters[cur.Name] = lim
	}
	if ok, suppressed := lim.allow(); ok {
		t.log.Warn("unit callback failed",
			logx.String("unit", cur.Name),
			logx.Stringer("policy", t.opt.policy),
			logx.Int("suppressed", suppressed),
			logx.Err(err),
		)
	}
}

func (t *Twin[D]) publish(typ string, ev UnitEvent) {
	if t.opt.bus == nil {
		return
	}
	t.opt.bus.Publish(eventbus.Event{Type: typ, Time: t.opt.now(), Data: ev})
}

func (t *Twin[D]) event(st task.Status, err error) UnitEvent {
	ev := UnitEvent{
		RunID:  t.opt.runID,
		Unit:   st.Name,
		Kind:   st.Kind,
		State:  st.State.String(),
		Reason: st.Reason.String(),
		Tries:  st.Tries,
		Resets: st.Resets,
		Cycles: st.Cycles,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
