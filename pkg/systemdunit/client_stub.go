//go:build !linux

package systemdunit

import "context"

type Client struct{}

func NewClient() *Client { return &Client{} }

func (c *Client) Close() error { return nil }

func (c *Client) Status(context.Context, string) (Status, error) { return Status{}, ErrUnsupported }

func (c *Client) Start(context.Context, string) error { return ErrUnsupported }
