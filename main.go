package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freekieb7/blobhttp/admin"
	"github.com/freekieb7/blobhttp/asset"
	"github.com/freekieb7/blobhttp/config"
	"github.com/freekieb7/blobhttp/http"
	"github.com/freekieb7/blobhttp/scheduler"
	"github.com/freekieb7/blobhttp/telemetry"
)

const name = "github.com/freekieb7/blobhttp"

func usage() {
	fmt.Fprint(os.Stderr, ""+
		"Usage: blobhttp <address> <port> <threads>\n"+
		"Example:\n"+
		"    blobhttp 0.0.0.0 8080 1\n")
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if !errors.Is(err, config.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
		}
		usage()
		os.Exit(1)
	}

	// run reports its own failures
	if err := run(cfg); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// Handle SIGINT (CTRL+C) and SIGTERM by stopping the scheduler.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Export:      cfg.Telemetry.Export,
	})
	if err != nil {
		slog.Error("telemetry", "error", err)
		return fmt.Errorf("telemetry setup failed: %w", err)
	}

	logger := telemetry.NewLogger(name, os.Stdout, os.Stderr, providers.Logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry", "error", err)
		}
	}()

	static := http.NewStaticHandler(asset.Default(),
		http.WithServerName(cfg.Server.Name),
		http.WithStaticLogger(logger))

	sched := scheduler.New(cfg.Server.Threads, logger)

	server := http.NewServer(
		http.Chain(static.Handler(), http.RecoverMiddleware(logger)),
		http.WithSpawner(sched),
		http.WithLogger(logger),
		http.WithIdleTimeout(cfg.Server.IdleTimeout),
	)

	var listenErr error
	err = sched.Spawn("listener", func(ctx context.Context) {
		// Without a listener there is nothing left to run
		defer sched.Stop()

		if err := server.ListenAndServe(ctx, cfg.ServerAddress()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Already logged by the server
			listenErr = err
		}
	})
	if err != nil {
		logger.Error("spawn", "unit", "listener", "error", err)
		return err
	}

	if cfg.Admin.Addr != "" {
		diagnostics := admin.New(cfg.Admin.Addr, admin.StatsFunc{
			ServedFunc: static.Served,
			ActiveFunc: server.Active,
		}, logger)

		err = sched.Spawn("admin", func(ctx context.Context) {
			if err := diagnostics.Run(ctx); err != nil {
				logger.Error("admin", "error", err)
			}
		})
		if err != nil {
			logger.Error("spawn", "unit", "admin", "error", err)
			return err
		}
	}

	logger.Info("starting", "addr", cfg.ServerAddress(), "threads", sched.Workers())

	// Sessions are abandoned, not drained
	go func() {
		<-sched.Done()
		server.Close()
	}()

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler", "error", err)
		return err
	}

	logger.Info("stopped", "served", static.Served())
	if listenErr != nil {
		return fmt.Errorf("listener failed: %w", listenErr)
	}
	return nil
}
