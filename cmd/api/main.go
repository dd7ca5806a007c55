package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stormcast/stormcast-backend/internal/api"
	"github.com/stormcast/stormcast-backend/internal/betting"
	"github.com/stormcast/stormcast-backend/internal/config"
	"github.com/stormcast/stormcast-backend/internal/jobs"
	"github.com/stormcast/stormcast-backend/internal/linera"
	"github.com/stormcast/stormcast-backend/internal/localstore"
	"github.com/stormcast/stormcast-backend/internal/log"
	"github.com/stormcast/stormcast-backend/internal/markets"
	"github.com/stormcast/stormcast-backend/internal/metrics"
	"github.com/stormcast/stormcast-backend/internal/resolver"
	"github.com/stormcast/stormcast-backend/internal/ws"
	"github.com/stormcast/stormcast-backend/pkg/kv"

	_ "github.com/stormcast/stormcast-backend/pkg/kv/memory"
	_ "github.com/stormcast/stormcast-backend/pkg/kv/postgres"
	_ "github.com/stormcast/stormcast-backend/pkg/kv/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting Stormcast API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"version", "v1.0.0",
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("stormcast-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	// Local store for demo markets and bet history
	store, err := kv.NewStoreFromConfig(cfg.KV(storeLogFunc(logger, metricsObj)))
	if err != nil {
		logger.Fatalw("Failed to setup local store", "backend", cfg.Store.Backend, "error", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repo := localstore.New(store, logger)
	if err := repo.Ping(ctx); err != nil {
		logger.Warnw("Local store ping failed", "backend", cfg.Store.Backend, "error", err)
	} else {
		logger.Infow("Local store ready", "backend", cfg.Store.Backend)
	}

	// Ledger client and background probes
	ledger := linera.NewClient(cfg.LineraClient(), logger, linera.WithObserver(metricsObj))
	proberCfg := cfg.HealthProber()
	prober := jobs.NewHealthProber(ledger, logger, proberCfg)
	poller := jobs.NewMarketPoller(ledger, cfg.Polling.MarketsInterval, logger)

	if !cfg.ServiceConfigured() {
		logger.Warnw("Ledger application id not set; serving demo markets", "serviceURL", cfg.Linera.ServiceURL)
	}

	// Setup services
	seeds := markets.NewSeedBook(time.Now)
	views := resolver.NewService(ledger, prober, poller, repo, seeds, logger,
		resolver.WithModeObserver(metricsObj))
	bets := betting.NewService(ledger, views, repo, seeds, betting.NewGate(), logger,
		betting.WithObserver(metricsObj))

	// Setup stream hub
	wsHub := ws.NewHub(logger, metricsObj, cfg.Security.CORSAllowedOrigins)

	// Setup API handler and middleware
	handler := api.NewHandler(views, bets, repo, wsHub, api.ServiceInfo{
		ServiceURL:   cfg.Linera.ServiceURL,
		ChainID:      cfg.Linera.ChainID,
		AppID:        cfg.Linera.AppID,
		Configured:   cfg.ServiceConfigured(),
		ProbeSkipped: proberCfg.Skip(),
	}, cfg.Polling.MarketInterval, logger)
	middleware := api.NewMiddleware(logger, metricsObj)

	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM, metricsHandler)

	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Create context for background services
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go wsHub.Run(bgCtx)
	handler.WatchFeeds(bgCtx, poller, prober)

	go func() {
		if err := prober.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("Health prober error", "error", err)
		}
	}()
	if cfg.ServiceConfigured() {
		go func() {
			if err := poller.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorw("Market poller error", "error", err)
			}
		}()
	}

	// Setup HTTP server. No WriteTimeout: streaming routes hold the
	// connection open and the rest run under the router's own timeout.
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		// Stop probes and close stream subscribers before draining requests
		bgCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}

// storeLogFunc logs failover events and counts switches between the primary
// and in-memory stores.
func storeLogFunc(logger *zap.SugaredLogger, m *metrics.Metrics) kv.LogFunc {
	logf := log.KVLogFunc(logger)
	return func(msg string, fields ...any) {
		logf(msg, fields...)
		for i := 0; i+1 < len(fields); i += 2 {
			if fields[i] != "reason" {
				continue
			}
			switch fields[i+1] {
			case "primary_unavailable":
				m.RecordStoreSwitch(context.Background(), "fallback")
			case "primary_healthy":
				m.RecordStoreSwitch(context.Background(), "primary")
			}
		}
	}
}
