package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoroom/internal/config"
	"github.com/nextlevelbuilder/nanoroom/internal/gateway"
	"github.com/nextlevelbuilder/nanoroom/internal/tracing"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the room gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// First run without credentials: env keys auto-onboard, otherwise the
	// wizard takes over.
	if !cfg.HasProviderKey() {
		if canAutoOnboard() {
			if !runAutoOnboard(cfgPath) {
				os.Exit(1)
			}
			cfg, err = config.Load(cfgPath)
			if err != nil {
				slog.Error("failed to reload config after onboarding", "error", err)
				os.Exit(1)
			}
		} else if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
			fmt.Println("No configuration found. Starting setup wizard...")
			fmt.Println()
			runOnboard()
			return
		} else {
			slog.Warn("no provider API key configured, bots will answer with onboarding guidance",
				"config", cfgPath)
		}
	}

	if err := os.MkdirAll(cfg.Workspace(), 0o755); err != nil {
		slog.Error("failed to create workspace", "path", cfg.Workspace(), "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without traces", "error", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	svc, err := gateway.New(ctx, cfg, cfgPath)
	if err != nil {
		slog.Error("gateway setup failed", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	slog.Info("nanoroom gateway starting",
		"version", Version,
		"workspace", cfg.Workspace(),
		"leader", cfg.Rooms.LeaderBot,
	)
	if err := svc.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}
