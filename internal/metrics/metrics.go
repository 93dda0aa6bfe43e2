// Package metrics exposes scheduler activity as Prometheus metrics.
//
// Every Collector owns its registry, so several twins (or tests) can coexist
// in one process without duplicate-registration panics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "gratwin/pkg/logx"
)

const namespace = "gratwin"

type Collector struct {
	reg *prometheus.Registry

	iterations   prometheus.Counter
	iterationDur prometheus.Histogram
	units        prometheus.Gauge

	evaluations  *prometheus.CounterVec
	applications *prometheus.CounterVec
	failures     *prometheus.CounterVec
	resets       *prometheus.CounterVec
	transitions  *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Driver loop iterations.",
		}),
		iterationDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_seconds",
			Help:      "Time spent ticking all units in one iteration.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		units: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units",
			Help:      "Units registered with the running twin.",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Goal evaluations per unit.",
		}, []string{"unit"}),
		applications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applications_total",
			Help:      "Completed rule+action applications per unit.",
		}, []string{"unit"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Callback failures per unit.",
		}, []string{"unit"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_total",
			Help:      "Resets performed by repeating units.",
		}, []string{"unit"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "State transitions per unit and target state.",
		}, []string{"unit", "state"}),
	}
	c.reg.MustRegister(
		c.iterations, c.iterationDur, c.units,
		c.evaluations, c.applications, c.failures, c.resets, c.transitions,
	)
	return c
}

// Registry exposes the underlying registry (tests, custom exporters).
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) RecordIteration(d time.Duration) {
	if c == nil {
		return
	}
	c.iterations.Inc()
	c.iterationDur.Observe(d.Seconds())
}

func (c *Collector) SetUnits(n int) {
	if c == nil {
		return
	}
	c.units.Set(float64(n))
}

func (c *Collector) AddEvaluations(unit string, n uint64) {
	if c == nil || n == 0 {
		return
	}
	c.evaluations.WithLabelValues(unit).Add(float64(n))
}

func (c *Collector) AddApplications(unit string, n uint64) {
	if c == nil || n == 0 {
		return
	}
	c.applications.WithLabelValues(unit).Add(float64(n))
}

func (c *Collector) RecordFailure(unit string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(unit).Inc()
}

func (c *Collector) RecordReset(unit string) {
	if c == nil {
		return
	}
	c.resets.WithLabelValues(unit).Inc()
}

func (c *Collector) RecordTransition(unit, state string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(unit, state).Inc()
}

// Handler serves the collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Server serves /metrics until Stop.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log logx.Logger
}

// ServeOption adds routes to the metrics server.
type ServeOption func(mux *http.ServeMux)

// WithPprof mounts the runtime profiler under /debug/pprof/.
func WithPprof() ServeOption {
	return func(mux *http.ServeMux) {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
}

// Serve starts an HTTP server on addr exposing c at /metrics and a liveness
// probe at /healthz.
func Serve(addr string, c *Collector, log logx.Logger, opts ...ServeOption) (*Server, error) {
	if addr == "" {
		addr = "127.0.0.1:9464"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	for _, o := range opts {
		o(mux)
	}
	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
		log: log,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server stopped", logx.Err(err))
		}
	}()
	s.log.Info("metrics server listening", logx.String("addr", ln.Addr().String()))
	return s, nil
}

// Addr returns the bound address ("" when nil).
func (s *Server) Addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
