package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/example/ride-notifier/internal/ingest"
	"github.com/example/ride-notifier/internal/relay"
	"github.com/example/ride-notifier/internal/storage"
)

func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Mirror the Kafka ride-event topic into Redis",
		Long: `Consume ride events from KAFKA_TOPIC and write each ride into Redis,
then republish the event on REDIS_CHANNEL, so clients on the redis backend
see rides written through SQL or DynamoDB.

Metrics and health are served on --http-addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runRelay(ctx, rootOpts)
		},
	}
}

func runRelay(ctx context.Context, opts *RootOptions) error {
	cfg, logger := opts.Config, opts.Logger
	if len(cfg.KafkaBrokers) == 0 || cfg.RedisAddr == "" {
		return NewExitError(ExitCommandError, "relay needs KAFKA_BROKERS and REDIS_ADDR")
	}

	client := storage.DialRedis(cfg.RedisAddr, cfg.RedisPassword)
	defer client.Close()
	target := storage.NewRedisStore(client, cfg.RedisKeyPrefix, cfg.RedisChannel, logger)

	// start metrics and health server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		// readiness: check redis connectivity
		if err := target.Ping(r.Context()); err != nil {
			http.Error(w, "redis not ready", 503)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadTimeout: cfg.ReadTimeout}
	go func() {
		logger.Info("metrics/health listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	defer srv.Close()

	group := cfg.KafkaGroup
	if group == "" {
		group = "ride-notifier-relay"
	}
	stream := ingest.NewKafkaStream(cfg.KafkaBrokers, cfg.KafkaTopic, group, logger)
	logger.Info("relay listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", group)
	if err := relay.New(stream, target, logger).Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "relay stopped", err)
	}
	return nil
}
