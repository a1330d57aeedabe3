package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/auction-backend/internal/config"
	"github.com/DoyleJ11/auction-backend/internal/engine"
	"github.com/DoyleJ11/auction-backend/internal/httpapi"
	"github.com/DoyleJ11/auction-backend/internal/hub"
	"github.com/DoyleJ11/auction-backend/internal/importer"
	"github.com/DoyleJ11/auction-backend/internal/metrics"
	"github.com/DoyleJ11/auction-backend/internal/session"
	"github.com/DoyleJ11/auction-backend/internal/store"
	"github.com/DoyleJ11/auction-backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProd() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()

	// Sessions outlive the signal context so shutdown can save them.
	h := hub.NewHub(context.Background(), session.Options{
		Store:           st,
		Logger:          logger,
		Metrics:         m,
		ReplayLogSize:   cfg.Auction.ReplayLogSize,
		SaveMaxAttempts: cfg.Auction.SaveMaxAttempts,
		SaveBackoff:     cfg.Auction.SaveBackoff,
	})

	resolver := importer.NewChannelResolver()
	auth := ws.NewAuthenticator(cfg.JWTSecret)
	if auth.DevMode() {
		logger.Warn("JWT_SECRET not set: websocket roles are taken from query parameters")
	}

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(httpapi.Deps{
		Hub:      h,
		Importer: importer.New(resolver, importer.Options{Timeout: cfg.Auction.DecisionTimeout, Logger: logger}),
		Resolver: resolver,
		Metrics:  m,
		Logger:   logger,
		Rules:    engine.Rules{MinIncrement: cfg.Auction.MinIncrement, BidWindow: cfg.Auction.BidWindow},
		WS: ws.Options{
			Auth:           auth,
			OriginPatterns: cfg.Server.AllowedOrigins,
			ClientBuffer:   cfg.Auction.ClientBuffer,
			Logger:         logger,
			Metrics:        m,
		},
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("env", cfg.Server.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		// Stop sessions first: that closes client outboxes, which ends the
		// websocket handlers the http server would otherwise wait on.
		if err := h.Shutdown(shutdownCtx); err != nil {
			logger.Warn("hub shutdown", zap.Error(err))
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Warn("DATABASE_DSN not set: auctions are kept in memory only")
		return store.NewMemoryStore(), func() {}, nil
	}
	gs, err := store.OpenPostgres(ctx, cfg.DB.DSN, store.PoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	return gs, func() {
		if err := gs.Close(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}, nil
}
