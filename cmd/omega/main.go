// Command omega is the single entrypoint: a small cobra surface over
// config load, gateway construction, and the background loops, with a
// signal-context/config-reload-restart outer loop around the TOML
// config. OS service packaging is outside this binary's concern — only
// the CLI boundary lives here.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"omega/internal/config"
	"omega/internal/obslog"

	_ "omega/internal/provider/anthropic"
	_ "omega/internal/provider/gemini"
	_ "omega/internal/provider/ollama"
	_ "omega/internal/provider/openai"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "omega",
		Short:         "OMEGA — a single-tenant personal AI agent gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to config.toml")

	root.AddCommand(newInitCmd(&configPath))
	root.AddCommand(newStartCmd(&configPath))
	root.AddCommand(newServiceCmd(&configPath))

	return root
}

// newInitCmd is a non-interactive stub: it only guarantees a config.toml
// exists with safe defaults so `omega start` has something to load,
// writing the defaults out explicitly instead of leaving the user to
// infer them.
func newInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config.toml (the interactive setup wizard is out of scope)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(*configPath); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists; leaving it alone.\n", *configPath)
				return nil
			}
			if err := writeStarterConfig(*configPath); err != nil {
				return fmt.Errorf("init: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s. Edit [provider] and [channel.*] before running `omega start`.\n", *configPath)
			return nil
		},
	}
}

func newStartCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the gateway until a shutdown signal, reloading on config changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runUntilShutdown(ctx, *configPath)
		},
	}
}

// runUntilShutdown keeps one watch channel open for the process
// lifetime, restarting runApp in place whenever the config file changes,
// exiting only on a real shutdown signal. A failed start is retried after
// 5s (or at once on a config change), never returned.
func runUntilShutdown(ctx context.Context, configPath string) error {
	reloadCh := config.Watch(ctx, configPath)

	for {
		err := runApp(ctx, configPath, reloadCh)
		if err != nil {
			obslog.Logger.Error().Err(err).Msg("gateway run failed; retrying in 5s")
			select {
			case <-ctx.Done():
				return nil
			case <-reloadCh:
				obslog.Logger.Info().Msg("config change detected while retrying; reloading immediately")
			case <-time.After(5 * time.Second):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		default:
			obslog.Logger.Info().Msg("config reloaded; restarting gateway")
		}
	}
}

func newServiceCmd(configPath *string) *cobra.Command {
	svc := &cobra.Command{
		Use:   "service",
		Short: "OS service management (packaging internals out of scope)",
	}
	svc.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Print how to run omega under an OS service manager (nothing is installed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), serviceStub("install", *configPath))
			return nil
		},
	})
	svc.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Print how to run omega under an OS service manager (nothing is removed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), serviceStub("uninstall", *configPath))
			return nil
		},
	})
	svc.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print whether omega is registered with the OS service manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "omega is not registered with an OS service manager on this build (packaging is out of scope).")
			return nil
		},
	})
	return svc
}

func serviceStub(action, configPath string) string {
	return fmt.Sprintf(
		"OS service packaging is out of scope for this build (%s). "+
			"Run `omega start --config %s` under your platform's supervisor "+
			"(systemd unit, launchd plist, or Windows service wrapper) instead.",
		action, configPath,
	)
}
