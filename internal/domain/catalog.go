package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gratwin/internal/task"
)

var (
	ErrUnknownProbe  = errors.New("unknown probe type")
	ErrUnknownSource = errors.New("unknown source")
)

const (
	ProbeContains = "contains"
	ProbeFresh    = "fresh"
)

// Probe describes what a unit watches in the tracker.
type Probe struct {
	Type   string
	Key    string
	Value  string
	MaxAge time.Duration
	Source string
}

// UnitDef is a config-independent unit description.
type UnitDef struct {
	Name          string
	Kind          task.Kind
	Interval      time.Duration
	MaxTries      task.Limit
	ResetInterval time.Duration
	MaxResets     task.Limit
	Probe         Probe
}

// Catalog resolves source names and builds units over a Tracker.
type Catalog struct {
	sources map[string]Source
}

func NewCatalog() *Catalog {
	return &Catalog{sources: map[string]Source{"system": SystemSource{}}}
}

// Register adds or replaces a named source.
func (c *Catalog) Register(name string, src Source) {
	if src == nil {
		return
	}
	c.sources[strings.ToLower(strings.TrimSpace(name))] = src
}

// Source resolves a name. "static:<v>" always yields v.
func (c *Catalog) Source(name string) (Source, error) {
	n := strings.TrimSpace(name)
	if v, ok := strings.CutPrefix(n, "static:"); ok {
		return Static(v), nil
	}
	if n == "" {
		n = "system"
	}
	src, ok := c.sources[strings.ToLower(n)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return src, nil
}

// Build turns a definition into a unit ready for a twin.
func (c *Catalog) Build(def UnitDef) (task.Runner[*Tracker], error) {
	p := def.Probe
	if strings.TrimSpace(p.Key) == "" {
		return nil, fmt.Errorf("unit %s: probe key is required", def.Name)
	}
	src, err := c.Source(p.Source)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", def.Name, err)
	}

	cfg := task.Config[*Tracker, Staleness]{
		Name:     def.Name,
		Interval: def.Interval,
		MaxTries: def.MaxTries,
		Rule:     StaleRule(p.Key),
		Action:   AcquireAction(p.Key, src),
	}
	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case ProbeContains:
		cfg.Goal = ContainsGoal(p.Key, p.Value)
	case "", ProbeFresh:
		if p.MaxAge <= 0 {
			return nil, fmt.Errorf("unit %s: fresh probe needs max_age > 0", def.Name)
		}
		cfg.Goal = FreshGoal(p.Key, p.MaxAge)
	default:
		return nil, fmt.Errorf("unit %s: %w: %q", def.Name, ErrUnknownProbe, p.Type)
	}

	if def.Kind == task.KindRepeating {
		u, err := task.NewRepeating(task.RepeatingConfig[*Tracker, Staleness]{
			Config:        cfg,
			ResetInterval: def.ResetInterval,
			MaxResets:     def.MaxResets,
		})
		if err != nil {
			return nil, err
		}
		return u, nil
	}
	u, err := task.New(cfg)
	if err != nil {
		return nil, err
	}
	return u, nil
}
