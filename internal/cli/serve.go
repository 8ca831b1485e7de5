package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/ride-notifier/internal/dispatch"
	httpapi "github.com/example/ride-notifier/internal/http"
	"github.com/example/ride-notifier/internal/reconciler"
	"github.com/example/ride-notifier/internal/status"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the notifier and its operator API",
		Long: `Load the current rides, follow the live stream, notify once per new
ride request and serve the operator API until SIGINT or SIGTERM.

Example:
  FEED_BACKEND=redis REDIS_ADDR=localhost:6379 ridenotify serve
  FEED_BACKEND=sql SQL_DRIVER=sqlite3 SQLITE_PATH=rides.db KAFKA_BROKERS=localhost:9092 ridenotify serve --http-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, logger := opts.Config, opts.Logger

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open backend", err)
	}
	defer b.Close()
	if err := b.ping(ctx); err != nil {
		return WrapExitError(ExitCommandError, "backend not reachable", err)
	}

	ch := dispatch.InitChannel(dispatch.Channel{ID: cfg.NotifyChannelID, Name: cfg.NotifyChannelName})
	logger.Info("notification channel registered", "channel", ch.ID)

	hub := dispatch.NewWSHub(logger)
	notifier, err := buildDispatcher(ctx, cfg, hub, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build dispatchers", err)
	}
	defer notifier.Close()

	rec := reconciler.New(b.feed, notifier, reconciler.Options{Logger: logger, RefreshInterval: cfg.RefreshInterval})
	if err := rec.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to open live stream", err)
	}
	defer rec.Stop()

	api := httpapi.NewServer(httpapi.Options{
		Reconciler:    rec,
		Updater:       status.New(b.feed, logger),
		Creator:       b.creator,
		Notifications: hub,
		Logger:        logger,
	})
	defer api.Close()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("ride-notifier listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return WrapExitError(ExitFailure, "http server failed", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	return nil
}
