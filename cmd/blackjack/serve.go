package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/lox/blackjack/internal/auth"
	"github.com/lox/blackjack/internal/balance"
	"github.com/lox/blackjack/internal/balance/sqlite"
	"github.com/lox/blackjack/internal/config"
	"github.com/lox/blackjack/internal/fileutil"
	"github.com/lox/blackjack/internal/lobby"
	"github.com/lox/blackjack/internal/randutil"
	"github.com/lox/blackjack/internal/server"
	"github.com/lox/blackjack/internal/statistics"
	"github.com/lox/blackjack/internal/telemetry"
)

// ServeCmd runs the WebSocket server.
type ServeCmd struct {
	Config    string `kong:"short='c',default='blackjack.hcl',help='Path to the HCL config file'"`
	Addr      string `kong:"help='Listen address (overrides config)'"`
	Database  string `kong:"help='SQLite balance database (overrides config; empty keeps balances in memory)'"`
	Debug     bool   `kong:"help='Enable debug logging'"`
	Seed      *int64 `kong:"help='Deterministic RNG seed for shoes (optional)'"`
	StatsFile string `kong:"help='Write the round statistics summary to this JSON file on exit'"`
}

func (c *ServeCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Address = c.Addr
	}
	if c.Database != "" {
		cfg.Balance.Database = c.Database
	}
	if c.Debug {
		cfg.Server.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg.Level())

	var seed int64
	if c.Seed != nil {
		seed = *c.Seed
		logger.Info("Using deterministic seed", "seed", seed)
	} else {
		seed = time.Now().UnixNano()
		logger.Info("Using random seed", "seed", seed)
	}

	ctx := setupSignalHandler(logger)

	store, closeStore, err := openStore(ctx, cfg.Balance.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	collector := statistics.NewCollector(statistics.DefaultWindow)
	sinks := []telemetry.Sink{collector}
	var logSink *telemetry.LogSink
	if cfg.Telemetry.Enabled {
		tlogger, closeTelemetry, err := telemetryLogger(cfg.Telemetry.File, logger)
		if err != nil {
			return err
		}
		defer closeTelemetry()
		logSink = telemetry.NewLogSink(tlogger, cfg.Telemetry.Buffer)
		sinks = append(sinks, logSink)
	}
	sink := telemetry.NewMultiSink(sinks...)

	ledger := balance.NewLedger(store, logger,
		balance.WithQueueSize(cfg.Balance.LedgerQueue),
		balance.WithLedgerSink(sink),
	)

	hub := server.NewHub(logger)
	lb := lobby.New(cfg.LobbySettings(), logger,
		lobby.WithStore(store),
		lobby.WithLedger(ledger),
		lobby.WithSink(sink),
		lobby.WithRandSource(randutil.NewSource(seed)),
		lobby.WithSubscriber(hub),
		lobby.WithSubscriber(collector),
		lobby.WithGrace(cfg.Server.Grace),
	)

	var validator auth.Validator = auth.NewNoopValidator()
	if cfg.Auth.URL != "" {
		validator = auth.NewHTTPValidator(cfg.Auth.URL,
			auth.WithSecret(cfg.Auth.Secret),
			auth.WithTimeout(cfg.Auth.Timeout),
		)
		logger.Info("Validating tokens", "url", cfg.Auth.URL)
	} else {
		logger.Warn("No auth URL configured, trusting client nicknames")
	}
	srv := server.NewServer(lb, hub, logger, server.WithValidator(validator), server.WithStats(collector))

	logger.Info("Starting blackjack server",
		"address", cfg.Server.Address,
		"max_seats", cfg.Room.MaxSeats,
		"decks", cfg.Room.Decks,
		"chips", cfg.Room.Chips,
		"grace", cfg.Server.Grace,
		"database", cfg.Balance.Database,
	)

	// Workers outlive the listener so that balance changes made while the
	// rooms wind down still reach the store.
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ledger.Run(workerCtx)
	})
	if logSink != nil {
		g.Go(func() error {
			return logSink.Run(workerCtx)
		})
	}
	g.Go(func() error {
		defer stopWorkers()
		err := srv.ListenAndServe(gctx, cfg.Server.Address)
		lb.Close()
		return err
	})

	err = g.Wait()
	stats := ledger.Stats()
	summary := collector.Summary()
	logger.Info("Server stopped",
		"rounds", summary.Rounds,
		"house_edge", fmt.Sprintf("%.4f", summary.HouseEdge),
		"ledger_applied", stats.Applied,
		"ledger_failed", stats.Failed,
		"ledger_dropped", stats.Dropped,
		"errors", summary.Errors,
	)
	if c.StatsFile != "" {
		if werr := fileutil.WriteJSONAtomic(c.StatsFile, summary, 0o644); werr != nil {
			logger.Error("Failed to write stats file", "file", c.StatsFile, "error", werr)
		} else {
			logger.Info("Wrote stats file", "file", c.StatsFile)
		}
	}
	return err
}

// openStore opens the SQLite store at path, or a memory store when path is
// empty.
func openStore(ctx context.Context, path string, logger *log.Logger) (balance.Store, func(), error) {
	if path == "" {
		logger.Warn("No database configured, balances are kept in memory")
		return balance.NewMemoryStore(), func() {}, nil
	}
	store, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}, nil
}

// telemetryLogger returns the logger telemetry records are written to: a
// JSON file when path is set, otherwise the server log.
func telemetryLogger(path string, logger *log.Logger) (*log.Logger, func(), error) {
	if path == "" {
		return logger, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open telemetry file: %w", err)
	}
	tlogger := log.NewWithOptions(f, log.Options{
		Formatter:       log.JSONFormatter,
		ReportTimestamp: true,
	})
	return tlogger, func() { _ = f.Close() }, nil
}
