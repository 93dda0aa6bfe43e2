package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"gratwin/internal/domain"
	"gratwin/internal/task"
	"gratwin/internal/twin"
	logx "gratwin/pkg/logx"
)

const (
	StorageNone   = "none"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

var ErrInvalid = errors.New("invalid config")

// CronParser is shared by validation and the report scheduler so both accept
// the same expressions (optional seconds field, descriptors like @hourly).
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks every section and reports all problems at once, each
// prefixed with its field path.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToUpper(strings.TrimSpace(c.Logging.Level)) {
	case "", "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	_, err := c.TwinPeriod()
	add(err)
	_, err = c.TwinPolicy()
	add(err)

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", StorageNone, StorageFile, StorageSQLite:
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q (use file, sqlite or none)", s.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	if r := c.Report; r != nil && strings.TrimSpace(r.Schedule) != "" {
		_, err := r.Parsed()
		add(err)
	}

	if len(c.Units) == 0 {
		add(errors.New("units: at least one unit is required"))
	}
	seen := map[string]int{}
	for i, u := range c.Units {
		path := fmt.Sprintf("units[%d]", i)
		name := strings.TrimSpace(u.Name)
		if name != "" {
			if j, dup := seen[name]; dup {
				add(fmt.Errorf("%s.name: %q duplicates units[%d]", path, name, j))
			}
			seen[name] = i
		}
		_, err := u.def(path)
		add(err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func (c *Config) TwinPeriod() (time.Duration, error) {
	return ParseDurationOrDefault("twin.period", c.Twin.Period, twin.DefaultPeriod)
}

func (c *Config) TwinPolicy() (twin.FailurePolicy, error) {
	p, err := twin.ParsePolicy(c.Twin.FailurePolicy)
	if err != nil {
		return p, fmt.Errorf("twin.failure_policy: %w", err)
	}
	return p, nil
}

// Parsed validates the schedule, including the cron expression itself.
func (r *ReportConfig) Parsed() (Schedule, error) {
	sc, err := ParseSchedule(r.Schedule)
	if err != nil {
		return Schedule{}, fmt.Errorf("report.schedule: %w", err)
	}
	if sc.Cron != "" {
		if _, err := CronParser.Parse(sc.Cron); err != nil {
			return Schedule{}, fmt.Errorf("report.schedule: %w", err)
		}
	}
	return sc, nil
}

// UnitDefs converts the unit section into definitions the domain catalog
// can build.
func (c *Config) UnitDefs() ([]domain.UnitDef, error) {
	out := make([]domain.UnitDef, 0, len(c.Units))
	for i, u := range c.Units {
		d, err := u.def(fmt.Sprintf("units[%d]", i))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (u UnitConfig) def(path string) (domain.UnitDef, error) {
	d := domain.UnitDef{Name: strings.TrimSpace(u.Name)}
	if d.Name == "" {
		return d, fmt.Errorf("%s.name: required", path)
	}

	switch k := task.Kind(strings.ToLower(strings.TrimSpace(u.Kind))); k {
	case "", task.KindOnce:
		d.Kind = task.KindOnce
	case task.KindRepeating:
		d.Kind = task.KindRepeating
	default:
		return d, fmt.Errorf("%s.kind: unknown kind %q (use once or repeating)", path, u.Kind)
	}

	var err error
	if d.Interval, err = ParseDurationField(path+".interval", u.Interval); err != nil {
		return d, err
	}
	if d.MaxTries, err = limit(path+".max_tries", u.MaxTries); err != nil {
		return d, err
	}

	if d.Kind == task.KindRepeating {
		if d.ResetInterval, err = ParseDurationField(path+".reset_interval", u.ResetInterval); err != nil {
			return d, err
		}
		if d.MaxResets, err = limit(path+".max_resets", u.MaxResets); err != nil {
			return d, err
		}
	} else if strings.TrimSpace(u.ResetInterval) != "" || u.MaxResets != nil {
		return d, fmt.Errorf("%s: reset_interval/max_resets need kind repeating", path)
	}

	p := u.Probe
	d.Probe = domain.Probe{
		Type:   strings.ToLower(strings.TrimSpace(p.Type)),
		Key:    strings.TrimSpace(p.Key),
		Value:  p.Value,
		Source: strings.TrimSpace(p.Source),
	}
	if d.Probe.Key == "" {
		return d, fmt.Errorf("%s.probe.key: required", path)
	}
	if d.Probe.MaxAge, err = ParseDurationField(path+".probe.max_age", p.MaxAge); err != nil {
		return d, err
	}
	switch d.Probe.Type {
	case domain.ProbeContains:
	case "", domain.ProbeFresh:
		if d.Probe.MaxAge <= 0 {
			return d, fmt.Errorf("%s.probe.max_age: required for fresh probes", path)
		}
	default:
		return d, fmt.Errorf("%s.probe.type: unknown type %q (use contains or fresh)", path, p.Type)
	}
	return d, nil
}

func limit(path string, v *int) (task.Limit, error) {
	if v == nil {
		return task.Unbounded, nil
	}
	if *v < 0 {
		return task.Unbounded, fmt.Errorf("%s: must be >= 0 (omit for unbounded)", path)
	}
	return task.Bounded(*v), nil
}

// Logx maps the logging section onto the logger's config.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}
