//go:build linux

package systemdunit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Client holds a lazily opened system bus connection.
type Client struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func NewClient() *Client { return &Client{} }

func (c *Client) connect(ctx context.Context) (*dbus.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && c.conn.Connected() {
		return c.conn, nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

func (c *Client) Status(ctx context.Context, unit string) (Status, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return Status{}, err
	}
	units, err := conn.ListUnitsByNamesContext(ctx, []string{unit})
	if err == nil && len(units) > 0 {
		u := units[0]
		return Status{Name: unit, Active: u.ActiveState, SubState: u.SubState, LoadState: u.LoadState}, nil
	}

	// Fallback for backends without ListUnitsByNames.
	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return Status{Name: unit, Active: StateUnknown, SubState: "not-found", LoadState: "not-found"}, nil
		}
		return Status{}, fmt.Errorf("status %s: %w", unit, err)
	}
	return Status{
		Name:      unit,
		Active:    stringProp(props, "ActiveState"),
		SubState:  stringProp(props, "SubState"),
		LoadState: stringProp(props, "LoadState"),
	}, nil
}

// Start queues a start job and waits for its result.
func (c *Client) Start(ctx context.Context, unit string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	done := make(chan string, 1)
	if _, err := conn.StartUnitContext(ctx, unit, "replace", done); err != nil {
		return fmt.Errorf("failed to start %s: %w", unit, err)
	}
	select {
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("start %s: job %s", unit, res)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func stringProp(props map[string]interface{}, key string) string {
	v, _ := props[key].(string)
	return v
}

func isNoSuchUnitErr(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "nosuchunit") || strings.Contains(s, "not loaded") || strings.Contains(s, "not found")
}
