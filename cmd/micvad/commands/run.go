package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MrWong99/micvad/internal/app"
	"github.com/MrWong99/micvad/internal/config"
	"github.com/MrWong99/micvad/internal/observe"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture and classify until interrupted",
	Long: `Open the configured microphone source, set up the voice activity
classifier and report every frame classified as speech.

If the classifier cannot be set up, micvad waits restart.delay and restarts
itself (restart.mode exec) or exits with code 75 for a supervisor to restart
it (restart.mode exit).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runDetector(cmd.Context(), cfg)
	},
}

func runDetector(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	runID := uuid.NewString()
	slog.SetDefault(newLogger(cfg.Server.LogLevel, cfg.Server.LogFormat).With("run_id", runID))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observe.WithRunID(ctx, runID)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		InstanceID:     runID,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	engine, err := reg.CreateVAD(cfg.VAD)
	if err != nil {
		return fmt.Errorf("create vad engine: %w", err)
	}
	source, err := reg.CreateSource(ctx, cfg.Mic)
	if err != nil {
		return fmt.Errorf("open source %q: %w", cfg.Mic.Source, err)
	}

	slog.Info("micvad starting", append([]any{"config", configPath, "version", version}, config.StartupAttrs(cfg)...)...)

	application, err := app.New(cfg, source, engine)
	if err != nil {
		_ = source.Close()
		return err
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("goodbye")
	return nil
}
