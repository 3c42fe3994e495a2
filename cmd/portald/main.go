package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"emergency-portal-backend/config"
)

const programName = "portald"

var (
	globalFlags = struct {
		debug bool
	}{}
	configFile string
	cfg        *config.Config
)

// setupLogger installs the default slog logger described by the config.
func setupLogger(logCfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logCfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if globalFlags.debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: globalFlags.debug}
	var handler slog.Handler
	if logCfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With("component", programName)
	slog.SetDefault(logger)
	return logger
}

func main() {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Emergency portal backend: earthquake push alerts and live membership updates",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", os.Getenv("CONFIG_PATH"), "path to config file (env CONFIG_PATH)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		setupLogger(cfg.Log)
		if configFile != "" {
			slog.Info("configuration loaded", "path", configFile)
		}
		return nil
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(checkCommand())
	rootCmd.AddCommand(vapidCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
