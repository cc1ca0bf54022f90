package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ETAnderson/catalogsync/internal/api"
	"github.com/ETAnderson/catalogsync/internal/api/auth"
	"github.com/ETAnderson/catalogsync/internal/config"
	"github.com/ETAnderson/catalogsync/internal/fusion"
	"github.com/ETAnderson/catalogsync/internal/ingest"
	"github.com/ETAnderson/catalogsync/internal/logging"
	"github.com/ETAnderson/catalogsync/internal/matching"
	"github.com/ETAnderson/catalogsync/internal/migrate"
	"github.com/ETAnderson/catalogsync/internal/outbox"
	"github.com/ETAnderson/catalogsync/internal/readiness"
	"github.com/ETAnderson/catalogsync/internal/rules"
	"github.com/ETAnderson/catalogsync/internal/state"
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
	logger := base.Named("api")

	ctx := context.Background()

	factoryRes, err := state.NewStore(ctx, state.FactoryConfig{
		Backend: cfg.StateBackend,
		DSN:     cfg.DSN,
	})
	if err != nil {
		logger.Fatal("state store init failed", zap.String("backend", cfg.StateBackend), zap.Error(err))
	}
	store := factoryRes.Store
	if factoryRes.DB != nil {
		defer factoryRes.DB.Close()
	}

	if cfg.RunMigrations && factoryRes.DB != nil {
		if err := migrate.ApplyDir(ctx, factoryRes.DB, cfg.MigrationsPath(), migrate.Options{
			Dialect: string(factoryRes.Dialect),
			Logger:  logger.Named("migrate"),
		}); err != nil {
			logger.Fatal("migrations failed", zap.String("dir", cfg.MigrationsPath()), zap.Error(err))
		}
	}

	catalog, err := rules.Load(cfg.RulesFile)
	if err != nil {
		logger.Fatal("rules load failed", zap.String("file", cfg.RulesFile), zap.Error(err))
	}

	fusionSvc := fusion.NewService(store, logger.Named("fusion"))
	gate := readiness.NewGate(store, logger.Named("readiness"))
	emitter := outbox.NewEmitter(store, gate, cfg.Channel.Name, logger.Named("outbox"))
	engine := matching.NewEngine(store, catalog, logger.Named("matching"))
	importer := ingest.NewImporter(store, catalog, engine, fusionSvc, gate, emitter, logger.Named("ingest"))
	housekeeper := outbox.NewHousekeeper(store, logger.Named("outbox"))

	if err := rules.Seed(ctx, catalog, store, gate); err != nil {
		logger.Fatal("seeding rules failed", zap.Error(err))
	}

	var pub *rsa.PublicKey
	if cfg.JWTPublicKeyPEM != "" {
		pub, err = auth.ParseRSAPublicKeyPEM(cfg.JWTPublicKeyPEM)
		if err != nil {
			logger.Fatal("invalid JWT_PUBLIC_KEY_PEM", zap.Error(err))
		}
	} else if !strings.EqualFold(cfg.Env, "dev") {
		logger.Fatal("JWT_PUBLIC_KEY_PEM is required outside dev", zap.String("env", cfg.Env))
	}

	handler := api.NewRouter(api.Deps{
		Env:         cfg.Env,
		PublicKey:   pub,
		Logger:      logger.Named("http"),
		Store:       store,
		DB:          factoryRes.DB,
		Importer:    importer,
		Fusion:      fusionSvc,
		Gate:        gate,
		Publisher:   emitter,
		Housekeeper: housekeeper,
		MaxRetries:  cfg.Outbox.MaxRetries,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting",
			zap.String("env", cfg.Env),
			zap.String("addr", server.Addr),
			zap.String("state_backend", cfg.StateBackend),
			zap.String("channel", cfg.Channel.Name),
		)

		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	waitForShutdown(logger, server)
}

func waitForShutdown(logger *zap.Logger, server *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
