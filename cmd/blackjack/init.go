package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/lox/blackjack/internal/config"
)

// InitCmd writes the built-in defaults as an HCL file to start from.
type InitCmd struct {
	Output string `kong:"arg,optional,default='blackjack.hcl',help='Where to write the config'"`
	Force  bool   `kong:"short='f',help='Overwrite an existing file'"`
}

func (c *InitCmd) Run(ctx *kong.Context) error {
	if _, err := os.Stat(c.Output); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", c.Output)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := config.Default().WriteFile(c.Output); err != nil {
		return err
	}
	_, err := fmt.Fprintf(ctx.Stdout, "Wrote %s\n", c.Output)
	return err
}
