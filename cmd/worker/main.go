package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ETAnderson/catalogsync/internal/channels"
	"github.com/ETAnderson/catalogsync/internal/channels/google"
	"github.com/ETAnderson/catalogsync/internal/channels/httpapi"
	"github.com/ETAnderson/catalogsync/internal/config"
	"github.com/ETAnderson/catalogsync/internal/execute"
	"github.com/ETAnderson/catalogsync/internal/logging"
	"github.com/ETAnderson/catalogsync/internal/metrics"
	"github.com/ETAnderson/catalogsync/internal/outbox"
	"github.com/ETAnderson/catalogsync/internal/state"
	"github.com/ETAnderson/catalogsync/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	base, err := logging.NewForEnv(cfg.Env, logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = base.Sync() }()
	logger := base.Named("worker")

	logger.Info("config",
		zap.String("env", cfg.Env),
		zap.String("state_backend", cfg.StateBackend),
		zap.Bool("dsn_set", cfg.DSN != ""),
		zap.String("channel", cfg.Channel.Name),
		zap.Bool("batch", cfg.Channel.Batch),
	)

	factoryRes, err := state.NewStore(context.Background(), state.FactoryConfig{
		Backend: cfg.StateBackend,
		DSN:     cfg.DSN,
	})
	if err != nil {
		logger.Fatal("state store init failed", zap.Error(err))
	}
	store := factoryRes.Store
	if factoryRes.DB != nil {
		defer factoryRes.DB.Close()
	}

	client, err := newChannelClient(cfg.Channel)
	if err != nil {
		logger.Fatal("channel client init failed", zap.String("channel", cfg.Channel.Name), zap.Error(err))
	}

	exec := execute.Executor{
		Store:    store,
		Registry: channels.NewRegistry(client),
		Channel:  client.Name(),
	}

	r := worker.Runner{
		Store:       store,
		Executor:    exec,
		Channel:     client.Name(),
		PollEvery:   cfg.Outbox.PollEvery,
		MaxPerClaim: cfg.Outbox.BatchSize,
		MaxRetries:  cfg.Outbox.MaxRetries,
		UseBatch:    cfg.Channel.Batch,
		Backoff:     worker.NewBackoff(cfg.Outbox.BackoffBase, cfg.Outbox.BackoffMax),

		Housekeeper: outbox.NewHousekeeper(store, logger.Named("housekeeping")),
		Housekeeping: outbox.HousekeepingConfig{
			StuckAfter: cfg.Outbox.StuckAfter,
			PurgeAfter: cfg.Outbox.PurgeAfter,
		},
		HousekeepingEvery: cfg.Outbox.HousekeepingEvery,

		Logger: logger,
	}

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		err := metricsServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("starting", zap.String("metrics_addr", cfg.MetricsAddr))

		err := r.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal("worker stopped", zap.Error(err))
		}
	}()

	waitForShutdown(logger, cancel, done, metricsServer)
}

// newChannelClient picks the payload format by channel name: "google" speaks
// the merchant feed format, anything else receives raw projections.
func newChannelClient(cfg config.ChannelConfig) (*httpapi.Client, error) {
	hc := httpapi.Config{
		Name:    cfg.Name,
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Timeout: cfg.Timeout,
		RPS:     cfg.RPS,
	}
	if cfg.Name == "google" {
		return google.New(hc, "")
	}
	return httpapi.New(hc)
}

func waitForShutdown(logger *zap.Logger, cancel func(), done <-chan struct{}, metricsServer *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("shutdown signal received")
	cancel()

	// The runner finishes its current cycle before returning.
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("worker did not stop in time")
	}

	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = metricsServer.Shutdown(ctx)

	logger.Info("shutdown complete")
}
