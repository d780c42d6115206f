package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/api"
	"github.com/BTreeMap/RecoveryCompanion/internal/config"
	"github.com/BTreeMap/RecoveryCompanion/internal/flow"
	"github.com/BTreeMap/RecoveryCompanion/internal/genai"
	"github.com/BTreeMap/RecoveryCompanion/internal/scheduler"
	"github.com/BTreeMap/RecoveryCompanion/internal/store"
	"github.com/BTreeMap/RecoveryCompanion/internal/util"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	genaiOpts := []genai.Option{genai.WithAPIKey(cfg.OpenAIAPIKey)}
	if cfg.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(cfg.OpenAIModel))
	}
	gaClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Error("Failed to create GenAI client", "error", err)
		os.Exit(1)
	}

	engine := flow.NewEngine(st, gaClient, flow.WithExtractionTimeout(cfg.ExtractionTimeout))

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.ScheduleAchievementSweep(st, engine.Achievements()); err != nil {
		slog.Error("Failed to schedule achievement sweep", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(engine, api.WithAddr(cfg.APIAddr))

	// Shut the server down cleanly on SIGINT/SIGTERM.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("Received shutdown signal", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	slog.Info("Bootstrapping RecoveryCompanion with configured modules")
	if err := server.Run(); err != nil {
		slog.Error("RecoveryCompanion failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("RecoveryCompanion exited successfully")
}

// initializeLogger sets up structured logging; DEBUG elevates verbosity.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// openStore selects the backend from the DSN shape: PostgreSQL connection
// strings get the Postgres store, anything else is treated as a SQLite
// file path.
func openStore(cfg *config.Config) (store.Store, error) {
	if store.DetectDSNType(cfg.DatabaseURL) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		return store.NewPostgresStore(store.WithDSN(cfg.DatabaseURL))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", cfg.DatabaseURL)
	return store.NewSQLiteStore(store.WithDSN(cfg.DatabaseURL))
}
