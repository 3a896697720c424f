// Package main is the entry point for the sibyl CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sibylhq/sibyl/internal/config"
	"github.com/sibylhq/sibyl/internal/core"
	"github.com/sibylhq/sibyl/internal/security"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// errConfig marks failures the operator fixes in the config file.
var errConfig = errors.New("configuration error")

// Exit codes let init systems tell the failures apart: 1 means bad
// configuration, 2 means the store could not be opened at startup.
func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sibyl:", err)
		if errors.Is(err, core.ErrStore) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sibyl",
		Short:         "A retrieval-augmented answer engine over your team's tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), startCmd(), configCmd(), serviceCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("sibyl %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the sibyl server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}

// loadConfig resolves and validates the configuration. A missing config
// file is not an error: defaults plus environment variables carry a
// containerized deployment. .env is folded into the environment first.
func loadConfig(cfgPath string) (*config.Config, error) {
	// Missing .env is the common case, not a failure.
	_ = godotenv.Load()

	if cfgPath == "" {
		cfgPath = findConfigFile()
	}

	var cfg *config.Config
	if cfgPath == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errConfig, err)
		}
		cfg = loaded
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}
	return cfg, nil
}

// findConfigFile searches the standard locations:
// $XDG_CONFIG_HOME/sibyl/sibyl.yaml → ~/.config/sibyl/sibyl.yaml → ./sibyl.yaml.
func findConfigFile() string {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "sibyl", "sibyl.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "sibyl", "sibyl.yaml"))
	}
	candidates = append(candidates, "sibyl.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// run wires the core and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	redactor := security.NewRedactor()

	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.Log.Level))

	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(security.NewRedactingHandler(inner, redactor))

	c, err := core.New(cfg, logger, redactor)
	if err != nil {
		return err
	}

	logger.Info("sibyl starting", "version", version, "bind", cfg.Server.BindAddr)
	return c.Run(ctx)
}
