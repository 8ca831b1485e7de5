// Package cli implements the ridenotify command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/example/ride-notifier/internal/config"
	"github.com/example/ride-notifier/internal/logging"
)

// RootOptions holds global flags and the state every command shares once
// PersistentPreRunE has run.
type RootOptions struct {
	HTTPAddr string
	LogLevel string

	Config config.ServerConfig
	Logger *slog.Logger
}

// NewRootCommand creates the root command for the ridenotify CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ridenotify",
		Short: "Operator notifications for incoming ride requests",
		Long: `ridenotify keeps a live list of ride requests from a remote store,
notifies operators once per new request and writes accept/reject decisions
back to the store.

Configuration is read from the environment (FEED_BACKEND, KAFKA_BROKERS,
REDIS_ADDR, PG_DSN, ...). Flags override the matching variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			if opts.HTTPAddr != "" {
				cfg.HTTPAddr = opts.HTTPAddr
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
			}
			opts.Config = cfg
			opts.Logger = logging.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel).With("backend", cfg.Backend)
			slog.SetDefault(opts.Logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.HTTPAddr, "http-addr", "", "listen address (overrides HTTP_ADDR)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "debug|info|warn|error (overrides LOG_LEVEL)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRelayCommand(opts))
	cmd.AddCommand(NewSetStatusCommand(opts))

	return cmd
}
