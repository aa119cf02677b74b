package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"script-executor/internal/api"
	"script-executor/internal/config"
	"script-executor/internal/engine"
	"script-executor/internal/engine/goeval"
	"script-executor/internal/executor"
	"script-executor/internal/monitor"
	"script-executor/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitor.NewMetrics()

	engines := engine.NewRegistry()
	goeval.Register(engines, goeval.Options{AllowedImports: cfg.Executor.AllowedImports})
	factory, err := engines.Get(cfg.Executor.Engine)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid executor.engine")
	}

	exec := executor.New(factory,
		executor.WithLogger(log.Logger),
		executor.WithTracer(monitor.NewTracer()),
	)

	// Database is optional; the service runs without an audit trail.
	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		} else {
			defer db.Close()
		}
	}

	var store api.AuditStore
	var auditWriter *storage.AuditWriter
	if db != nil {
		store = db
		auditWriter = storage.NewAuditWriter(db, cfg.Audit)
		auditWriter.OnDrop(metrics.AuditDropped.Inc)
		auditWriter.Start()
		defer auditWriter.Flush(cfg.Audit.DrainTimeout)
	}

	server := api.NewServer(cfg, exec, store, auditWriter, metrics)

	log.Info().
		Str("addr", cfg.Address()).
		Str("engine", cfg.Executor.Engine).
		Strs("script_roots", cfg.Executor.ScriptRoots).
		Bool("db_enabled", db != nil).
		Msg("server starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server failed")
		return
	}

	log.Info().Msg("server stopped")
}
