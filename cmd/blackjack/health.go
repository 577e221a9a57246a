package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kong"

	"github.com/lox/blackjack/internal/server"
)

// HealthCmd waits for a running server to answer /health. It fails when the
// timeout passes first, so it can back a container health check.
type HealthCmd struct {
	URL     string        `kong:"default='http://localhost:8080',help='Base URL of the server'"`
	Timeout time.Duration `kong:"default='5s',help='How long to wait for a healthy answer'"`
}

func (c *HealthCmd) Run(ctx *kong.Context) error {
	wctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	if err := server.WaitForHealthy(wctx, c.URL); err != nil {
		return fmt.Errorf("server at %s not healthy: %w", c.URL, err)
	}
	_, err := fmt.Fprintln(ctx.Stdout, "ok")
	return err
}
