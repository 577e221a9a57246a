package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kong"

	"github.com/lox/blackjack/internal/balance/sqlite"
)

// BalanceCmd reads a player's history from the SQLite store.
type BalanceCmd struct {
	Identity string `kong:"arg,help='Player identity'"`
	Database string `kong:"required,short='d',type='existingfile',help='Path to the SQLite balance database'"`
	Limit    int    `kong:"default='20',help='Number of entries to show'"`
}

func (c *BalanceCmd) Run(kctx *kong.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := sqlite.Open(ctx, c.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.History(ctx, c.Identity, c.Limit)
	if err != nil {
		return err
	}
	out := kctx.Stdout
	if len(entries) == 0 {
		_, err := fmt.Fprintf(out, "%s: no balance changes recorded\n", c.Identity)
		return err
	}

	fmt.Fprintf(out, "%s: balance %d\n", c.Identity, entries[0].Balance)
	for _, e := range entries {
		fmt.Fprintf(out, "  %s  %+6d  -> %d\n", e.CreatedAt.Format(time.RFC3339), e.Delta, e.Balance)
	}
	return nil
}
