package config

import (
	"fmt"
	"strings"
	"time"
)

// Schedule is a parsed report schedule: either a cron expression or a fixed
// interval.
type Schedule struct {
	Cron  string
	Every time.Duration
}

// Spec renders the schedule for robfig/cron.
func (s Schedule) Spec() string {
	if s.Cron != "" {
		return s.Cron
	}
	return "@every " + s.Every.String()
}

// ParseSchedule accepts "cron:<expr>", "every:<dur>", anything with spaces
// or a leading '@' as cron, then HH:MM or a Go duration as an interval.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Schedule{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return Schedule{Cron: expr}, nil
	case strings.HasPrefix(low, "every:"):
		return parseEvery(s[len("every:"):])
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return Schedule{Cron: s}, nil
	}
	sc, err := parseEvery(s)
	if err != nil {
		return Schedule{}, fmt.Errorf(
			"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')", raw)
	}
	return sc, nil
}

func parseEvery(v string) (Schedule, error) {
	d, err := ParseDurationField("schedule", v)
	if err != nil {
		return Schedule{}, err
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval must be > 0")
	}
	return Schedule{Every: d}, nil
}
