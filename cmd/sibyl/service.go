package main

import (
	"context"
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// program adapts the server loop to the service manager's start/stop calls.
type program struct {
	cfgPath string
	cancel  context.CancelFunc
	done    chan error
}

var _ service.Interface = (*program)(nil)

// Start implements service.Interface. Start must not block.
func (p *program) Start(service.Service) error {
	cfg, err := loadConfig(p.cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)

	go func() { p.done <- run(ctx, cfg) }()
	return nil
}

// Stop implements service.Interface.
func (p *program) Stop(service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "service [install|uninstall|start|stop|run]",
		Short:     "Run sibyl under the system service manager",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"install", "uninstall", "start", "stop", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")

			svc, err := service.New(&program{cfgPath: cfgPath}, &service.Config{
				Name:        "sibyl",
				DisplayName: "sibyl answer engine",
				Description: "Retrieval-augmented answer engine over team tools",
				Arguments:   []string{"service", "run"},
			})
			if err != nil {
				return err
			}

			switch args[0] {
			case "run":
				return svc.Run()
			case "install":
				if err := svc.Install(); err != nil {
					return err
				}
				fmt.Println("Installed service sibyl")
				return nil
			case "uninstall":
				if err := svc.Uninstall(); err != nil {
					return err
				}
				fmt.Println("Uninstalled service sibyl")
				return nil
			case "start":
				return svc.Start()
			case "stop":
				return svc.Stop()
			default:
				return fmt.Errorf("unknown service action %q", args[0])
			}
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}
