package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gratwin/internal/config"
	"gratwin/internal/domain"
	"gratwin/internal/eventbus"
	"gratwin/internal/metrics"
	rtsup "gratwin/internal/runtime/supervisor"
	"gratwin/internal/storage"
	"gratwin/internal/task"
	"gratwin/internal/twin"
	logx "gratwin/pkg/logx"
	"gratwin/pkg/netspeed"
	"gratwin/pkg/systemdunit"
)

// Options tune how the app is hosted. The zero value reads prompts from
// stdin and does not follow config changes.
type Options struct {
	In  io.Reader
	Out io.Writer
	// Watch reloads the config file on change.
	Watch bool
	// StopWhenDone stops the app once every unit has reached a final state
	// that no reset can undo.
	StopWhenDone bool
}

type App struct {
	opt  Options
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	metrics *metrics.Collector
	msrv    *metrics.Server

	tracker *domain.Tracker
	catalog *domain.Catalog
	systemd *systemdunit.Client

	sup *rtsup.Supervisor

	mu       sync.Mutex
	tw       *twin.Twin[*domain.Tracker]
	reporter *cron.Cron
	reason   StopReason
	stopped  bool
}

// NewApp loads and validates the config at cfgPath and wires every
// component. Nothing runs until Start.
func NewApp(cfgPath string, opt Options) (*App, error) {
	if opt.In == nil {
		opt.In = os.Stdin
	}
	if opt.Out == nil {
		opt.Out = os.Stdout
	}

	sd := systemdunit.NewClient()
	catalog := newCatalog(domain.NewPromptSource(opt.In, opt.Out), sd)

	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateBuildable(cfg, catalog)
	})
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.Logx())
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	return &App{
		opt:     opt,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		metrics: metrics.NewCollector(),
		tracker: domain.NewTracker(),
		catalog: catalog,
		systemd: sd,
	}, nil
}

// newCatalog registers the built-in sources next to the default "system".
func newCatalog(prompt domain.Source, sd *systemdunit.Client) *domain.Catalog {
	c := domain.NewCatalog()
	c.Register("prompt", prompt)
	c.Register("systemd", systemdunit.NewSource(sd, false))
	c.Register("systemd-start", systemdunit.NewSource(sd, true))
	c.Register("speedtest", netspeed.NewSource(netspeed.Runner{}, netspeed.DefaultMaxAge))
	return c
}

// validateBuildable runs config validation and then builds every unit
// without starting anything, so unknown sources are rejected up front.
func validateBuildable(cfg *config.Config, catalog *domain.Catalog) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	defs, err := cfg.UnitDefs()
	if err != nil {
		return err
	}
	for _, d := range defs {
		if _, err := catalog.Build(d); err != nil {
			return fmt.Errorf("%w: %w", config.ErrInvalid, err)
		}
	}
	return nil
}

// Validate loads cfgPath the same way NewApp does, without side effects.
func Validate(cfgPath string) (*config.Config, error) {
	m := config.NewManager(cfgPath)
	catalog := newCatalog(domain.Static(""), systemdunit.NewClient())
	m.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateBuildable(cfg, catalog)
	})
	return m.Load()
}

// OpenHistory opens the configured outcome journal for reading.
func OpenHistory(cfgPath string, log logx.Logger) (storage.Store, error) {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, storage.ErrDisabled
	}
	return storage.Open(sc, log)
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Tracker() *domain.Tracker { return a.tracker }

func (a *App) Metrics() *metrics.Collector { return a.metrics }

// MetricsAddr is the bound metrics address, or "" when disabled.
func (a *App) MetricsAddr() string {
	if a.msrv == nil {
		return ""
	}
	return a.msrv.Addr()
}

func (a *App) currentTwin() *twin.Twin[*domain.Tracker] {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tw
}

// RunID identifies the twin currently running.
func (a *App) RunID() string {
	if tw := a.currentTwin(); tw != nil {
		return tw.RunID()
	}
	return ""
}

// Snapshot returns the statuses of the current twin's units.
func (a *App) Snapshot() []task.Status {
	if tw := a.currentTwin(); tw != nil {
		return tw.Snapshot()
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error,
// all units done, or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Reason reports why the app stopped or is stopping.
func (a *App) Reason() StopReason {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reason == "" {
		if a.sup != nil && a.sup.Err() != nil {
			return StopFatalError
		}
		return StopUnknown
	}
	return a.reason
}

func (a *App) setReason(r StopReason) {
	a.mu.Lock()
	if a.reason == "" {
		a.reason = r
	}
	a.mu.Unlock()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	if mc := cfg.Metrics; mc != nil && mc.Enabled {
		var opts []metrics.ServeOption
		if mc.Pprof {
			opts = append(opts, metrics.WithPprof())
		}
		srv, err := metrics.Serve(mc.Addr, a.metrics, a.log.With(logx.String("comp", "metrics")), opts...)
		if err != nil {
			a.sup.Cancel()
			return err
		}
		a.msrv = srv
	}

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("outcomes.record", func(c context.Context) {
		defer unsub()
		recordOutcomes(c, events, a.store, a.log.With(logx.String("comp", "journal")))
	})

	if err := a.startTwin(cfg); err != nil {
		a.sup.Cancel()
		return err
	}
	if err := a.restartReporter(cfg.Report); err != nil {
		a.sup.Cancel()
		return err
	}

	if a.opt.StopWhenDone {
		a.sup.Go0("units.done", a.watchDone)
	}
	if a.opt.Watch {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	sdNotify(a.log, "READY=1")
	a.log.Info("app started", logx.String("run", a.RunID()), logx.String("config", a.cfgm.Path()))
	return nil
}

// buildTwin constructs (but does not run) a twin for cfg.
func (a *App) buildTwin(cfg *config.Config) (*twin.Twin[*domain.Tracker], error) {
	period, err := cfg.TwinPeriod()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.TwinPolicy()
	if err != nil {
		return nil, err
	}
	defs, err := cfg.UnitDefs()
	if err != nil {
		return nil, err
	}
	tw := twin.New(a.tracker,
		twin.WithLogger(a.log),
		twin.WithBus(a.bus),
		twin.WithMetrics(a.metrics),
		twin.WithPeriod(period),
		twin.WithFailurePolicy(policy),
	)
	for _, d := range defs {
		u, err := a.catalog.Build(d)
		if err != nil {
			return nil, err
		}
		if err := tw.Add(u); err != nil {
			return nil, err
		}
	}
	return tw, nil
}

func (a *App) startTwin(cfg *config.Config) error {
	tw, err := a.buildTwin(cfg)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.tw = tw
	a.mu.Unlock()

	if err := tw.Run(a.sup.Context()); err != nil {
		return err
	}
	a.sup.Go("twin."+tw.RunID(), func(context.Context) error {
		<-tw.Done()
		err := tw.Wait(context.Background())
		if err != nil && a.currentTwin() == tw {
			a.setReason(StopFatalError)
			return err
		}
		return nil
	})
	return nil
}

// stopTwin terminates the current twin and waits for its loop to exit.
func (a *App) stopTwin(ctx context.Context) error {
	tw := a.currentTwin()
	if tw == nil {
		return nil
	}
	tw.Terminate()
	return tw.Wait(ctx)
}

func (a *App) restartReporter(rc *config.ReportConfig) error {
	a.mu.Lock()
	old := a.reporter
	a.reporter = nil
	a.mu.Unlock()
	if old != nil {
		<-old.Stop().Done()
	}
	c, err := startReporter(rc, a.log.With(logx.String("comp", "report")), a.Snapshot)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.reporter = c
	a.mu.Unlock()
	return nil
}

// watchDone cancels the app once no unit can change state any more.
func (a *App) watchDone(ctx context.Context) {
	t := time.NewTicker(250 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if allFinal(a.Snapshot()) {
			a.log.Info("all units finished", logx.String("summary", Summarize(a.Snapshot()).String()))
			a.setReason(StopUnitsDone)
			a.sup.Cancel()
			return
		}
	}
}

// allFinal ignores repeating units unless their resets are exhausted.
func allFinal(snap []task.Status) bool {
	if len(snap) == 0 {
		return false
	}
	for _, st := range snap {
		if !st.Done() {
			return false
		}
		if st.Kind == task.KindRepeating && st.Reason != task.ReasonResets {
			return false
		}
	}
	return true
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	ch := config.SummarizeChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)

	if ch.Has(config.SectionLogging) {
		a.logs.Apply(newCfg.Logging.Logx())
	}
	if ch.Has(config.SectionStorage) || ch.Has(config.SectionMetrics) {
		a.log.Warn("storage/metrics config changed; restart required for changes to take effect")
	}
	if ch.Has(config.SectionReport) {
		if err := a.restartReporter(newCfg.Report); err != nil {
			a.log.Warn("invalid report config; reporter stopped", logx.Err(err))
		}
	}
	if ch.Has(config.SectionTwin) || ch.Has(config.SectionUnits) {
		a.rebuildTwin(ctx, newCfg)
	}
	a.log.Info("config reloaded", fields...)
}

// rebuildTwin swaps in a twin built from cfg. Tracker records carry over;
// unit progress starts fresh under a new run ID.
func (a *App) rebuildTwin(ctx context.Context, cfg *config.Config) {
	if _, err := a.buildTwin(cfg); err != nil {
		a.log.Warn("invalid units config; keeping previous twin", logx.Err(err))
		return
	}
	prev := a.RunID()
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := a.stopTwin(sctx)
	cancel()
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("previous twin stopped with error", logx.String("run", prev), logx.Err(err))
	}
	if err := a.startTwin(cfg); err != nil {
		a.log.Error("twin restart failed", logx.Err(err))
		return
	}
	a.log.Info("twin rebuilt", logx.String("prev_run", prev), logx.String("run", a.RunID()))
}

// Stop shuts everything down in order, bounding each step by its own
// timeout and by ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	a.setReason(reason)
	sdNotify(a.log, "STOPPING=1")
	a.log.Info("stopping", logx.String("reason", string(a.Reason())))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		runStep(ctx, a.log, name, max, fn)
	}

	step("twin", 3*time.Second, a.stopTwin)
	step("reporter", time.Second, func(c context.Context) error {
		a.mu.Lock()
		r := a.reporter
		a.reporter = nil
		a.mu.Unlock()
		if r == nil {
			return nil
		}
		select {
		case <-r.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("metrics", time.Second, func(c context.Context) error {
		if a.msrv == nil {
			return nil
		}
		return a.msrv.Stop(c)
	})

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})
	step("systemd", time.Second, func(context.Context) error { return a.systemd.Close() })

	a.log.Info("stopped", logx.String("reason", string(a.Reason())))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return a.sup.Err()
}
