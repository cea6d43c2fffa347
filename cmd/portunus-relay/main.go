package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/BrandonDHaskell/Portunus/relay/internal/archive"
	archivesqlite "github.com/BrandonDHaskell/Portunus/relay/internal/archive/sqlite"
	"github.com/BrandonDHaskell/Portunus/relay/internal/authtable"
	"github.com/BrandonDHaskell/Portunus/relay/internal/config"
	"github.com/BrandonDHaskell/Portunus/relay/internal/db"
	"github.com/BrandonDHaskell/Portunus/relay/internal/eventlog"
	"github.com/BrandonDHaskell/Portunus/relay/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/relay/internal/link"
	"github.com/BrandonDHaskell/Portunus/relay/internal/link/stub"
	"github.com/BrandonDHaskell/Portunus/relay/internal/logging"
	"github.com/BrandonDHaskell/Portunus/relay/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/relay/internal/mode"
	"github.com/BrandonDHaskell/Portunus/relay/internal/relay"
	"github.com/BrandonDHaskell/Portunus/relay/internal/rpc"
)

var (
	app       *cli.App
	gitCommit string
	gitTag    string
)

var (
	configFileFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "TOML config file overlaid on PORTUNUS_* environment",
		EnvVars: []string{"PORTUNUS_CONFIG"},
	}
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
)

func init() {
	app = cli.NewApp()
	app.Name = "portunus-relay"
	app.Usage = "RFID relay controller: authorization table, event log and radio link"
	app.Flags = []cli.Flag{
		configFileFlag,
		debugFlag,
	}
	app.Commands = []*cli.Command{
		{
			Name:  "version",
			Usage: "Print version information",
			Action: func(*cli.Context) error {
				fmt.Println(version())
				return nil
			},
		},
	}
	app.Action = run
}

func version() string {
	v := gitTag
	if v == "" {
		v = "dev"
	}
	if gitCommit != "" {
		v += "-" + gitCommit
	}
	return v
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String(configFileFlag.Name))
	if err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	if c.Bool(debugFlag.Name) {
		level, _ = logging.ParseLevel("debug")
	}
	logger := logging.New("portunus-relay", level)
	metrics.RegisterMetrics()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()
	writer := db.NewWorker(conn)
	defer writer.Close()

	region, closeRegion, err := openRegion(ctx, cfg, conn, writer)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRegion(); err != nil {
			logger.Error().Err(err).Msg("close region")
		}
	}()

	table, err := authtable.New(region)
	if err != nil {
		return err
	}
	if cfg.Env == "dev" {
		if err := seedTags(table, cfg.SeedTags, logger); err != nil {
			return err
		}
	}

	events := eventlog.New()
	ticker := eventlog.NewTicker(events, cfg.TickPeriod, logger)
	ticker.Start(ctx)
	defer ticker.Stop()

	initial, err := initialState(cfg.InitialMode)
	if err != nil {
		return err
	}
	ctl := mode.NewController(initial)

	health := rpc.NewServer(logger)
	health.ObserveMode(ctl.State())

	apply := func(tr mode.Transition) {
		old, updated := ctl.Apply(tr)
		health.ObserveMode(updated)
		logger.Info().Str("transition", tr.String()).Str("from", old.String()).Str("to", updated.String()).
			Msg("mode transition")
	}

	archiveStore := archivesqlite.New(conn, writer)
	pruner := archive.NewPruner(archiveStore, archive.PrunerConfig{
		RetentionDays: cfg.ArchiveRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	relaySvc := relay.NewService(table, events, ctl, relay.LogActuator{Logger: logger, Duration: cfg.PulseDuration}, logger)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:   logger,
		Addr:     cfg.HTTPAddr,
		Relay:    relaySvc,
		Table:    table,
		Events:   events,
		Mode:     ctl,
		Exporter: archive.NewExporter(events, archiveStore, cfg.TickPeriod, logger),
		Archive:  archiveStore,

		OnModeChange: health.ObserveMode,
	})

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", cfg.GRPCAddr, err)
		}
		go func() {
			if err := health.Serve(lis); err != nil {
				logger.Error().Err(err).Msg("grpc server error")
				stop()
			}
		}()
	}

	linkDone := make(chan struct{})
	if cfg.StubTransport {
		handler := link.NewHandler(stub.New(), table, events,
			link.WithLogger(logger),
			link.WithReplyDelay(cfg.ReplyDelay),
			link.WithPollInterval(cfg.PollInterval),
			link.WithSyncTimeout(cfg.SyncTimeout),
			link.WithStateFunc(ctl.State),
		)
		go func() {
			defer close(linkDone)
			_ = handler.Serve(ctx, apply)
		}()
	} else {
		logger.Warn().Msg("no radio transport configured, link disabled")
		close(linkDone)
	}

	health.SetRunning(true)
	logger.Info().Str("version", version()).Str("mode", ctl.State().String()).Msg("relay started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	health.Shutdown()
	<-linkDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
