package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sibylhq/sibyl/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(configCheckCmd(), configInitCmd())
	return cmd
}

func configCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return fmt.Errorf("%w: %v", errConfig, err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("%w: %v", errConfig, err)
			}
			fmt.Println("Configuration OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Interactively create a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := "sibyl.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", path)
			}

			cfg := config.Default()

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Listen address").
						Description("host:port the HTTP server binds to").
						Value(&cfg.Server.BindAddr),
					huh.NewInput().
						Title("Store path").
						Description("SQLite file for settings and transcripts").
						Value(&cfg.Store.URL),
					huh.NewInput().
						Title("Vector directory").
						Description("directory for the vector cache database").
						Value(&cfg.Vector.Dir),
					huh.NewSelect[string]().
						Title("Log level").
						Options(
							huh.NewOption("debug", "debug"),
							huh.NewOption("info", "info"),
							huh.NewOption("warn", "warn"),
							huh.NewOption("error", "error"),
						).
						Value(&cfg.Log.Level),
				),
			)
			if err := form.Run(); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				return err
			}

			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("%w: %v", errConfig, err)
			}

			raw, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, raw, 0o600); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}
