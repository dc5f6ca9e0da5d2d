package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"tailscale.com/tsnet"

	"github.com/claude/fitcycle/internal/catalog"
	"github.com/claude/fitcycle/internal/clock"
	"github.com/claude/fitcycle/internal/config"
	"github.com/claude/fitcycle/internal/mcp"
	"github.com/claude/fitcycle/internal/sensorfeed"
	"github.com/claude/fitcycle/internal/server"
	"github.com/claude/fitcycle/internal/steps"
	"github.com/claude/fitcycle/internal/store"
	"github.com/claude/fitcycle/internal/workout"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit (postgres only)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("fitcycle starting", "version", Version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	if *migrateOnly {
		log.Info("migrate-only: exiting")
		return
	}

	cat, err := catalog.Load(cfg.Workout.CatalogPath)
	if err != nil {
		log.Error("failed to load workout catalog", "path", cfg.Workout.CatalogPath, "error", err)
		os.Exit(1)
	}

	clk := clock.System{}
	sched := clock.Ticker{}

	workouts := workout.New(workout.Deps{
		Store:     st,
		Clock:     clk,
		Scheduler: sched,
		Catalog:   cat,
		Logger:    log,
	}, workout.Config{
		DefaultGender: cfg.Workout.DefaultGender,
		DefaultLevel:  cfg.Workout.DefaultLevel,
		RolloverCheck: cfg.Workout.RolloverCheck,
	})

	feed := sensorfeed.New(clk, *cfg.Steps.SensorAvailable, log)
	stepEngine := steps.New(steps.Deps{
		Store:     st,
		Clock:     clk,
		Scheduler: sched,
		Sensor:    feed,
		Logger:    log,
	}, steps.Config{
		DefaultGoal:   cfg.Steps.DefaultGoal,
		RolloverCheck: cfg.Steps.RolloverCheck,
		HistoryDays:   cfg.Steps.HistoryDays,
	})

	workouts.Load(ctx)
	stepEngine.Load(ctx)
	workouts.Start(ctx)
	stepEngine.Start(ctx)
	// Catch up on anything that happened while the process was down.
	workouts.Resume()
	stepEngine.Resume(ctx)
	defer func() {
		workouts.Close()
		stepEngine.Close()
		log.Info("engines stopped")
	}()

	srv := server.New(workouts, stepEngine, feed, cfg.Auth.APIKey, log)
	mcpSrv := mcp.New(mcp.Engines{Workouts: workouts, StepCount: stepEngine}, Version, log)
	srv.MountMCP(mcpserver.NewStreamableHTTPServer(mcpSrv))

	// Start server: tsnet or plain HTTP
	var listener net.Listener
	if cfg.Tailscale.Enabled {
		tsServer := &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		lc, err := tsServer.LocalClient()
		if err != nil {
			log.Error("tsnet local client failed", "error", err)
			os.Exit(1)
		}
		srv.SetTailscale(lc)

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
	}

	httpSrv := &http.Server{Handler: srv}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
}

// openStore opens the configured state store. Postgres gets its migrations
// applied first; SQLite creates its table on open.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	if cfg.Store.Driver != config.DriverPostgres {
		st, err := store.OpenSQLite(cfg.Store.Dir)
		if err != nil {
			return nil, err
		}
		log.Info("sqlite store opened", "dir", cfg.Store.Dir)
		return st, nil
	}

	dsn := cfg.Store.Database.DSN()
	if err := store.RunMigrations(dsn, cfg.Store.Migrations); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	st, err := store.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	log.Info("database connected")
	return st, nil
}
