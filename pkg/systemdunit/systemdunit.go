// Package systemdunit reads and starts systemd units over D-Bus. It backs
// the "systemd" and "systemd-start" twin sources.
package systemdunit

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupported = errors.New("systemdunit: unsupported OS (linux only)")

const (
	StateActive  = "active"
	StateUnknown = "unknown"
)

type Status struct {
	Name      string
	Active    string
	SubState  string
	LoadState string
}

// Found reports whether systemd knows the unit.
func (s Status) Found() bool { return s.LoadState != "not-found" && s.SubState != "not-found" }

// UnitName appends ".service" unless name already carries a unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 && i < len(name)-1 {
		switch name[i+1:] {
		case "service", "socket", "timer", "target", "mount", "path", "slice", "scope", "device", "swap", "automount":
			return name
		}
	}
	return name + ".service"
}

type controller interface {
	Status(ctx context.Context, unit string) (Status, error)
	Start(ctx context.Context, unit string) error
}

// Source reports a unit's ActiveState. With start set it first starts a
// unit that is not active, turning the twin action into a remedy.
type Source struct {
	c     controller
	start bool
}

func NewSource(c *Client, start bool) *Source { return &Source{c: c, start: start} }

func (s *Source) Acquire(ctx context.Context, key string) (string, error) {
	unit := UnitName(key)
	if unit == "" {
		return "", errors.New("systemd unit name required")
	}
	st, err := s.c.Status(ctx, unit)
	if err != nil {
		return "", err
	}
	if !st.Found() {
		return "", fmt.Errorf("unit %s not found", unit)
	}
	if !s.start || st.Active == StateActive {
		return st.Active, nil
	}
	if err := s.c.Start(ctx, unit); err != nil {
		return "", err
	}
	st, err = s.c.Status(ctx, unit)
	if err != nil {
		return "", err
	}
	return st.Active, nil
}
