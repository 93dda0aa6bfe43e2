package config

import (
	"reflect"
	"strings"

	logx "gratwin/pkg/logx"
)

const (
	SectionLogging = "logging"
	SectionTwin    = "twin"
	SectionStorage = "storage"
	SectionMetrics = "metrics"
	SectionReport  = "report"
	SectionUnits   = "units"
)

// Change lists which sections differ between two configs.
type Change struct {
	Sections []string
	Attrs    []logx.Field
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeChange compares two configs and returns the changed sections plus
// compact log attrs describing the new values.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	if oldCfg.Logging != newCfg.Logging {
		mark(SectionLogging,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if strings.TrimSpace(oldCfg.Twin.Period) != strings.TrimSpace(newCfg.Twin.Period) ||
		!strings.EqualFold(strings.TrimSpace(oldCfg.Twin.FailurePolicy), strings.TrimSpace(newCfg.Twin.FailurePolicy)) {
		mark(SectionTwin,
			logx.String("twin.period", newCfg.Twin.Period),
			logx.String("twin.failure_policy", newCfg.Twin.FailurePolicy),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		var driver string
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		mark(SectionStorage, logx.String("storage.driver", driver))
	}
	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		mark(SectionMetrics, logx.Bool("metrics.enabled", newCfg.Metrics != nil && newCfg.Metrics.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Report, newCfg.Report) {
		var sched string
		if newCfg.Report != nil {
			sched = newCfg.Report.Schedule
		}
		mark(SectionReport, logx.String("report.schedule", sched))
	}
	if !reflect.DeepEqual(oldCfg.Units, newCfg.Units) {
		mark(SectionUnits, logx.Int("units", len(newCfg.Units)))
	}
	return ch
}
