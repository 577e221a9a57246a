// Package config loads server configuration from an HCL file and
// BLACKJACK_* environment variables, in that order of precedence (the
// environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/lox/blackjack/internal/auth"
	"github.com/lox/blackjack/internal/lobby"
	"github.com/lox/blackjack/internal/room"
	"github.com/lox/blackjack/internal/session"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig
	Room      RoomConfig
	Balance   BalanceConfig
	Auth      AuthConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds listener and process settings.
type ServerConfig struct {
	Address  string        `env:"BLACKJACK_ADDRESS"`
	LogLevel string        `env:"BLACKJACK_LOG_LEVEL"`
	Grace    time.Duration `env:"BLACKJACK_GRACE"`
	MaxRooms int           `env:"BLACKJACK_MAX_ROOMS"`
}

// RoomConfig holds table rules and phase timings.
type RoomConfig struct {
	MaxSeats       int           `env:"BLACKJACK_MAX_SEATS"`
	Decks          int           `env:"BLACKJACK_DECKS"`
	Penetration    float64       `env:"BLACKJACK_PENETRATION"`
	BetDuration    time.Duration `env:"BLACKJACK_BET_DURATION"`
	DealDuration   time.Duration `env:"BLACKJACK_DEAL_DURATION"`
	TurnDuration   time.Duration `env:"BLACKJACK_TURN_DURATION"`
	PayoutDuration time.Duration `env:"BLACKJACK_PAYOUT_DURATION"`
	TickInterval   time.Duration `env:"BLACKJACK_TICK_INTERVAL"`
	Chips          []int64       `env:"BLACKJACK_CHIPS" envSeparator:","`
	RefillAmount   int64         `env:"BLACKJACK_REFILL_AMOUNT"`
}

// BalanceConfig selects the balance store. An empty Database keeps balances
// in memory.
type BalanceConfig struct {
	Database     string `env:"BLACKJACK_DATABASE"`
	StartingCash int64  `env:"BLACKJACK_STARTING_CASH"`
	LedgerQueue  int    `env:"BLACKJACK_LEDGER_QUEUE"`
}

// AuthConfig points at the identity service. An empty URL trusts client
// nicknames.
type AuthConfig struct {
	URL     string        `env:"BLACKJACK_AUTH_URL"`
	Secret  string        `env:"BLACKJACK_AUTH_SECRET"`
	Timeout time.Duration `env:"BLACKJACK_AUTH_TIMEOUT"`
}

// TelemetryConfig controls the telemetry log. An empty File writes to the
// server log.
type TelemetryConfig struct {
	Enabled bool   `env:"BLACKJACK_TELEMETRY"`
	File    string `env:"BLACKJACK_TELEMETRY_FILE"`
	Buffer  int    `env:"BLACKJACK_TELEMETRY_BUFFER"`
}

// Default returns the built-in configuration.
func Default() *Config {
	rc := room.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Address:  "localhost:8080",
			LogLevel: "info",
			Grace:    session.DefaultGrace,
		},
		Room: RoomConfig{
			MaxSeats:       rc.MaxSeats,
			Decks:          rc.Decks,
			Penetration:    rc.Penetration,
			BetDuration:    rc.BetDuration,
			DealDuration:   rc.DealDuration,
			TurnDuration:   rc.TurnDuration,
			PayoutDuration: rc.PayoutDuration,
			TickInterval:   rc.TickInterval,
			Chips:          rc.Chips,
		},
		Balance: BalanceConfig{
			StartingCash: lobby.DefaultStartingCash,
			LedgerQueue:  4096,
		},
		Auth: AuthConfig{
			Timeout: auth.DefaultTimeout,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Buffer:  1024,
		},
	}
}

// Load reads filename over the defaults, then applies the environment. A
// missing file is not an error.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		if err := cfg.loadFile(filename); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// fileConfig mirrors the HCL layout. Every block and attribute is optional;
// unset values keep their defaults.
type fileConfig struct {
	Server    *serverBlock    `hcl:"server,block"`
	Room      *roomBlock      `hcl:"room,block"`
	Balance   *balanceBlock   `hcl:"balance,block"`
	Auth      *authBlock      `hcl:"auth,block"`
	Telemetry *telemetryBlock `hcl:"telemetry,block"`
}

type serverBlock struct {
	Address  *string `hcl:"address,optional"`
	LogLevel *string `hcl:"log_level,optional"`
	Grace    *string `hcl:"grace,optional"`
	MaxRooms *int    `hcl:"max_rooms,optional"`
}

type roomBlock struct {
	MaxSeats       *int     `hcl:"max_seats,optional"`
	Decks          *int     `hcl:"decks,optional"`
	Penetration    *float64 `hcl:"penetration,optional"`
	BetDuration    *string  `hcl:"bet_duration,optional"`
	DealDuration   *string  `hcl:"deal_duration,optional"`
	TurnDuration   *string  `hcl:"turn_duration,optional"`
	PayoutDuration *string  `hcl:"payout_duration,optional"`
	TickInterval   *string  `hcl:"tick_interval,optional"`
	Chips          []int64  `hcl:"chips,optional"`
	RefillAmount   *int64   `hcl:"refill_amount,optional"`
}

type balanceBlock struct {
	Database     *string `hcl:"database,optional"`
	StartingCash *int64  `hcl:"starting_cash,optional"`
	LedgerQueue  *int    `hcl:"ledger_queue,optional"`
}

type authBlock struct {
	URL     *string `hcl:"url,optional"`
	Secret  *string `hcl:"secret,optional"`
	Timeout *string `hcl:"timeout,optional"`
}

type telemetryBlock struct {
	Enabled *bool   `hcl:"enabled,optional"`
	File    *string `hcl:"file,optional"`
	Buffer  *int    `hcl:"buffer,optional"`
}

func (c *Config) loadFile(filename string) error {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var fc fileConfig
	diags = gohcl.DecodeBody(file.Body, nil, &fc)
	if diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}
	return c.merge(&fc)
}

func (c *Config) merge(fc *fileConfig) error {
	var errs []error
	duration := func(dst *time.Duration, src *string, name string) {
		if src == nil {
			return
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}

	if b := fc.Server; b != nil {
		set(&c.Server.Address, b.Address)
		set(&c.Server.LogLevel, b.LogLevel)
		duration(&c.Server.Grace, b.Grace, "server.grace")
		set(&c.Server.MaxRooms, b.MaxRooms)
	}
	if b := fc.Room; b != nil {
		set(&c.Room.MaxSeats, b.MaxSeats)
		set(&c.Room.Decks, b.Decks)
		set(&c.Room.Penetration, b.Penetration)
		duration(&c.Room.BetDuration, b.BetDuration, "room.bet_duration")
		duration(&c.Room.DealDuration, b.DealDuration, "room.deal_duration")
		duration(&c.Room.TurnDuration, b.TurnDuration, "room.turn_duration")
		duration(&c.Room.PayoutDuration, b.PayoutDuration, "room.payout_duration")
		duration(&c.Room.TickInterval, b.TickInterval, "room.tick_interval")
		if b.Chips != nil {
			c.Room.Chips = b.Chips
		}
		set(&c.Room.RefillAmount, b.RefillAmount)
	}
	if b := fc.Balance; b != nil {
		set(&c.Balance.Database, b.Database)
		set(&c.Balance.StartingCash, b.StartingCash)
		set(&c.Balance.LedgerQueue, b.LedgerQueue)
	}
	if b := fc.Auth; b != nil {
		set(&c.Auth.URL, b.URL)
		set(&c.Auth.Secret, b.Secret)
		duration(&c.Auth.Timeout, b.Timeout, "auth.timeout")
	}
	if b := fc.Telemetry; b != nil {
		set(&c.Telemetry.Enabled, b.Enabled)
		set(&c.Telemetry.File, b.File)
		set(&c.Telemetry.Buffer, b.Buffer)
	}
	return errors.Join(errs...)
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server address is required")
	}
	if _, err := log.ParseLevel(c.Server.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.Server.LogLevel)
	}
	if c.Server.Grace <= 0 {
		return fmt.Errorf("grace period must be positive")
	}
	if c.Server.MaxRooms < 0 {
		return fmt.Errorf("max rooms must not be negative")
	}

	r := c.Room
	if r.MaxSeats < 1 || r.MaxSeats > 7 {
		return fmt.Errorf("room: max seats must be between 1 and 7")
	}
	if r.Decks < 1 || r.Decks > 8 {
		return fmt.Errorf("room: decks must be between 1 and 8")
	}
	if r.Penetration <= 0 || r.Penetration > 1 {
		return fmt.Errorf("room: penetration must be in (0, 1]")
	}
	for name, d := range map[string]time.Duration{
		"bet_duration":    r.BetDuration,
		"deal_duration":   r.DealDuration,
		"turn_duration":   r.TurnDuration,
		"payout_duration": r.PayoutDuration,
		"tick_interval":   r.TickInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("room: %s must be positive", name)
		}
	}
	if len(r.Chips) == 0 {
		return fmt.Errorf("room: at least one chip denomination is required")
	}
	for i, chip := range r.Chips {
		if chip <= 0 {
			return fmt.Errorf("room: chip %d must be positive", i)
		}
		if i > 0 && chip <= r.Chips[i-1] {
			return fmt.Errorf("room: chips must be in increasing order")
		}
	}
	if r.RefillAmount < 0 {
		return fmt.Errorf("room: refill amount must not be negative")
	}

	if c.Balance.StartingCash <= 0 {
		return fmt.Errorf("balance: starting cash must be positive")
	}
	if c.Balance.LedgerQueue <= 0 {
		return fmt.Errorf("balance: ledger queue must be positive")
	}
	if c.Auth.URL != "" && c.Auth.Timeout <= 0 {
		return fmt.Errorf("auth: timeout must be positive")
	}
	if c.Telemetry.Enabled && c.Telemetry.Buffer <= 0 {
		return fmt.Errorf("telemetry: buffer must be positive")
	}
	return nil
}

// RoomSettings converts the room section for room.New.
func (c *Config) RoomSettings() room.Config {
	r := c.Room
	return room.Config{
		MaxSeats:       r.MaxSeats,
		Decks:          r.Decks,
		Penetration:    r.Penetration,
		BetDuration:    r.BetDuration,
		DealDuration:   r.DealDuration,
		TurnDuration:   r.TurnDuration,
		PayoutDuration: r.PayoutDuration,
		TickInterval:   r.TickInterval,
		Chips:          append([]int64(nil), r.Chips...),
		RefillAmount:   r.RefillAmount,
	}
}

// LobbySettings converts the configuration for lobby.New.
func (c *Config) LobbySettings() lobby.Config {
	return lobby.Config{
		Room:         c.RoomSettings(),
		StartingCash: c.Balance.StartingCash,
		MaxRooms:     c.Server.MaxRooms,
	}
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.Server.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
