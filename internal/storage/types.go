package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

const DefaultRetain = 10000

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
	Retain      int           // rows kept per store; 0 means DefaultRetain
}

// Outcome is one journaled unit event. Keep it compact and schema-stable.
type Outcome struct {
	At     time.Time `json:"at"`
	RunID  string    `json:"run_id"`
	Unit   string    `json:"unit"`
	Event  string    `json:"event"`
	State  string    `json:"state"`
	Reason string    `json:"reason,omitempty"`
	Tries  int       `json:"tries"`
	Resets int       `json:"resets"`
	Error  string    `json:"error,omitempty"`
}

// Query filters Recent. Zero fields match everything; Limit <= 0 means 50.
type Query struct {
	Unit  string
	RunID string
	Limit int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 50
	}
	return q.Limit
}

func (q Query) match(o Outcome) bool {
	return (q.Unit == "" || q.Unit == o.Unit) && (q.RunID == "" || q.RunID == o.RunID)
}
