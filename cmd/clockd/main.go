// clockd runs the smart clock's core services: settings, alarm, light
// sensor, audio, volume, pet care, timetable and weather.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homeclock/clockd/internal/engine"
	"github.com/homeclock/clockd/internal/logging"
	"github.com/homeclock/clockd/internal/ui"
)

var version = "0.1.0"

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "clockd",
		Short: "Smart clock daemon",
		Long:  "Core services of the touchscreen smart clock: alarm, light-sensor theme switching, audio, volume, pet care, timetable and weather.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the clock services",
		RunE:  runClock,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the status of a freshly built, unstarted engine as JSON",
		Long: "Builds the services from the configuration without starting them and prints their status as JSON. " +
			"It does not query a running clockd: sensor and volume readings come from this process, " +
			"the light sensor and mixer are probed, and missing documents are created with defaults.",
		RunE: showStatus,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clockd v%s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/clockd/clockd.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*Config, *zap.Logger, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func runClock(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loop := ui.NewLoop(logger)
	eng, err := engine.New(ctx, cfg.engineConfig(), engine.Options{
		Post:   loop.Post,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	logger.Info("Starting clockd", zap.String("version", version), zap.String("config", configFile))
	if err := eng.Start(ctx); err != nil {
		_ = eng.Stop()
		return fmt.Errorf("failed to start engine: %w", err)
	}

	// the UI loop owns the main goroutine until a signal arrives
	loop.Run(ctx)
	logger.Info("Shutting down")

	if err := eng.Stop(); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ec := cfg.engineConfig()
	ec.DetectAudio = false
	eng, err := engine.New(cmd.Context(), ec, engine.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer func() { _ = eng.Stop() }()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(eng.Status())
}
