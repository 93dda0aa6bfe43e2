package app

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"gratwin/internal/config"
	"gratwin/internal/task"
	logx "gratwin/pkg/logx"
)

// Summary counts units per state.
type Summary struct {
	Units        int
	Pending      int
	Accomplished int
	Aborted      int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d units: %d pending, %d accomplished, %d aborted",
		s.Units, s.Pending, s.Accomplished, s.Aborted)
}

func Summarize(snap []task.Status) Summary {
	s := Summary{Units: len(snap)}
	for _, st := range snap {
		switch st.State {
		case task.Accomplished:
			s.Accomplished++
		case task.Aborted:
			s.Aborted++
		default:
			s.Pending++
		}
	}
	return s
}

// startReporter logs a status summary on the configured schedule.
// It returns nil when no schedule is set.
func startReporter(rc *config.ReportConfig, log logx.Logger, snapshot func() []task.Status) (*cron.Cron, error) {
	if rc == nil || strings.TrimSpace(rc.Schedule) == "" {
		return nil, nil
	}
	sc, err := rc.Parsed()
	if err != nil {
		return nil, err
	}
	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLogger(cronLogger{log: log}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: log})),
	)
	if _, err := c.AddFunc(sc.Spec(), func() { logStatus(log, snapshot()) }); err != nil {
		return nil, err
	}
	c.Start()
	log.Debug("status report scheduled", logx.String("spec", sc.Spec()))
	return c, nil
}

func logStatus(log logx.Logger, snap []task.Status) {
	sum := Summarize(snap)
	log.Info("status report",
		logx.Int("units", sum.Units),
		logx.Int("pending", sum.Pending),
		logx.Int("accomplished", sum.Accomplished),
		logx.Int("aborted", sum.Aborted),
	)
	for _, st := range snap {
		log.Debug("unit status",
			logx.String("unit", st.Name),
			logx.String("kind", string(st.Kind)),
			logx.Stringer("state", st.State),
			logx.Int("tries", st.Tries),
			logx.Int("resets", st.Resets),
		)
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
