package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tally/config"
	"tally/core/state"
	"tally/observability/logging"
	telemetry "tally/observability/otel"
	"tally/rpc"
	"tally/storage"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "token":
			exit(runToken(os.Args[2:], os.Stdout))
		case "export":
			exit(runExport(os.Args[2:], os.Stdout))
		}
	}
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	allowMigrate := flag.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	flag.Parse()
	exit(run(*configFile, *allowMigrate))
}

func exit(err error) {
	if err == nil {
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, "tallyd:", err)
	os.Exit(1)
}

func run(configFile string, allowMigrate bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(logging.Options{
		Service:    "tallyd",
		Env:        cfg.Log.Env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "tallyd",
		Environment: cfg.Log.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	mgr := state.NewManager(db)
	if err := mgr.EnsureStateVersion(allowMigrate); err != nil {
		return err
	}

	n, err := newNode(cfg, mgr, logger)
	if err != nil {
		return err
	}
	defer n.close()

	serverOpts := []rpc.Option{rpc.WithLogger(logger)}
	if n.store != nil {
		serverOpts = append(serverOpts, rpc.WithArchive(n.store))
	}
	server, err := rpc.NewServer(n.engine, n.log, rpc.ServerConfig{
		JWTSecret:          cfg.JWTSecret(),
		JWTIssuer:          cfg.RPC.JWTIssuer,
		JWTAudience:        cfg.RPC.JWTAudience,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
		ReadTimeout:        time.Duration(cfg.RPC.ReadTimeoutSecs) * time.Second,
		WriteTimeout:       time.Duration(cfg.RPC.WriteTimeoutSecs) * time.Second,
	}, serverOpts...)
	if err != nil {
		return fmt.Errorf("init rpc: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sweeper interface{ Run(context.Context) error }
	if cfg.Keeper.Enabled {
		k, err := newKeeper(cfg, n.engine, logger)
		if err != nil {
			return fmt.Errorf("init keeper: %w", err)
		}
		sweeper = k
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return server.Serve(ctx, cfg.RPC.ListenAddress) })
	if sweeper != nil {
		group.Go(func() error { return sweeper.Run(ctx) })
	}
	logger.Info("tallyd started", slog.String("rpc", cfg.RPC.ListenAddress), slog.Bool("keeper", cfg.Keeper.Enabled))
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("tallyd stopped")
	return nil
}

func openDatabase(cfg config.Storage) (storage.Database, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(cfg.Path, nil)
	case "", "leveldb":
		return storage.NewLevelDB(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

