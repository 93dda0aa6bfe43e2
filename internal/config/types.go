package config

// Config is the on-disk configuration of a gratwin process.
//
// Example (YAML):
//
//	logging: { level: info, console: true }
//	twin: { period: 100ms, failure_policy: isolate }
//	storage: { driver: sqlite, path: ./gratwin.db }
//	metrics: { enabled: true, addr: 127.0.0.1:9464 }
//	report: { schedule: "00:05" }
//	units:
//	  - name: cpu-fresh
//	    kind: repeating
//	    interval: 2s
//	    reset_interval: 30s
//	    probe: { type: fresh, key: cpu, max_age: 10s, source: system }
type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Twin    TwinConfig     `json:"twin"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Metrics *MetricsConfig `json:"metrics,omitempty"`
	Report  *ReportConfig  `json:"report,omitempty"`
	Units   []UnitConfig   `json:"units"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TwinConfig controls the driver loop.
//
// Defaults:
//   - period: "100ms"
//   - failure_policy: "isolate" ("fatal" stops the loop on the first callback error)
type TwinConfig struct {
	Period        string `json:"period,omitempty"`
	FailurePolicy string `json:"failure_policy,omitempty"`
}

// StorageConfig controls the optional outcome journal.
//
//	"storage": { "driver": "file", "path": "./gratwin_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// MetricsConfig exposes Prometheus metrics over HTTP. Prefer a loopback addr;
// pprof in particular should never face the network.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

// ReportConfig schedules a periodic status log line.
// Schedule accepts cron ("*/5 * * * *", "@hourly"), HH:MM or a Go duration.
type ReportConfig struct {
	Schedule string `json:"schedule"`
}

// UnitConfig describes one unit. MaxTries and MaxResets are pointers so that
// omitted means unbounded while an explicit 0 means "abort at once".
type UnitConfig struct {
	Name          string      `json:"name"`
	Kind          string      `json:"kind,omitempty"`
	Interval      string      `json:"interval,omitempty"`
	MaxTries      *int        `json:"max_tries,omitempty"`
	ResetInterval string      `json:"reset_interval,omitempty"`
	MaxResets     *int        `json:"max_resets,omitempty"`
	Probe         ProbeConfig `json:"probe"`
}

type ProbeConfig struct {
	Type   string `json:"type"`
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	MaxAge string `json:"max_age,omitempty"`
	Source string `json:"source,omitempty"`
}
