package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version"`
	Serve   ServeCmd   `cmd:"" help:"Run the blackjack server"`
	Balance BalanceCmd `cmd:"" help:"Show a player's balance history"`
	Health  HealthCmd  `cmd:"" help:"Wait for a running server to report healthy"`
	Init    InitCmd    `cmd:"" name:"init-config" help:"Write a config file with the default settings"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("blackjack"),
		kong.Description("Real-time multi-seat blackjack rooms over WebSocket"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run(ctx *kong.Context) error {
	_, err := ctx.Stdout.Write([]byte("blackjack " + version + "\n"))
	return err
}
