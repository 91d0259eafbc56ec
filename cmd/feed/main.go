package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joonwoo-kim/upbit-feed/internal/cache"
	"github.com/joonwoo-kim/upbit-feed/internal/config"
	"github.com/joonwoo-kim/upbit-feed/internal/quote"
	"github.com/joonwoo-kim/upbit-feed/internal/ratelimit"
	"github.com/joonwoo-kim/upbit-feed/internal/router"
	"github.com/joonwoo-kim/upbit-feed/internal/store"
	"github.com/joonwoo-kim/upbit-feed/internal/stream"
	"github.com/joonwoo-kim/upbit-feed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/feed.local.yaml", "path to config file")
	healthAddr := flag.String("health", ":8080", "health endpoint listen address")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"rest_url", cfg.Exchange.RestURL,
		"ws_url", cfg.Exchange.WSURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Rate limiter shared by the stream pipeline and the REST client
	limiter := ratelimit.New(cfg.RateGroups, logger)

	// Optional candle store
	var candleStore router.CandleStore
	if cfg.Database.Postgres.Host != "" {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"database", cfg.Database.Postgres.Name,
		)
		st, err := store.Connect(ctx, cfg.Database.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		candleStore = st
		defer st.Close()
		logger.Info("database connected")
	}

	// REST client; Remaining-Req header hints feed the limiter
	quoteClient := quote.NewClient(
		cfg.Exchange.RestURL,
		quote.WithLogger(logger),
		quote.WithTimeout(cfg.Exchange.Timeout),
		quote.WithRetries(cfg.Exchange.MaxRetries, time.Second),
		quote.WithRateHint(func(group string, remaining int) {
			limiter.ApplyHint(group, remaining)
		}),
	)

	// Stream connection manager
	streamCfg := stream.DefaultManagerConfig()
	streamCfg.Name = cfg.Instance.ID
	streamCfg.WSURL = cfg.Exchange.WSURL
	streamCfg.DebounceDelay = cfg.Stream.DebounceDelay
	streamCfg.MaxTypesPerTicket = cfg.Stream.MaxTypesPerTicket
	streamCfg.ReconnectBaseWait = cfg.Stream.ReconnectBaseDelay
	streamCfg.ReconnectMaxWait = cfg.Stream.ReconnectMaxDelay
	streamCfg.PingInterval = cfg.Stream.PingInterval
	streamCfg.WriteTimeout = cfg.Stream.WriteTimeout
	streamCfg.PayloadBufferSize = cfg.Stream.BufferSize
	streamManager := stream.NewManager(streamCfg, limiter, logger)

	// Router
	routerCfg := router.DefaultConfig()
	routerCfg.MaxTypesPerTicket = cfg.Stream.MaxTypesPerTicket
	rt := router.New(
		routerCfg,
		limiter,
		streamManager,
		quoteClient,
		cache.New(cfg.Cache.TTL, cfg.Cache.MaxEntries),
		candleStore,
		logger,
	)

	if err := rt.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	// Health endpoint
	healthServer := &http.Server{
		Addr:    *healthAddr,
		Handler: createHealthHandler(rt, streamManager, limiter),
	}
	go func() {
		logger.Info("starting health server", "addr", *healthAddr)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("feed running", "instance_id", cfg.Instance.ID)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	healthServer.Shutdown(shutdownCtx)
	if err := rt.Stop(shutdownCtx); err != nil {
		logger.Warn("router stop", "error", err)
	}

	logger.Info("feed stopped")
}

// createHealthHandler exposes router, stream, and limiter state as JSON.
func createHealthHandler(rt *router.Router, sm stream.Manager, limiter *ratelimit.Limiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		streamHealth := sm.Health()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["stream"] = streamHealth
		health.Components["router"] = rt.Stats()
		if !streamHealth.Connected {
			health.Status = "degraded"
		}

		groups := make(map[string]any)
		for _, name := range limiter.Groups() {
			if stats, ok := limiter.Stats(name); ok {
				groups[name] = stats
			}
		}
		health.Components["rate_groups"] = groups

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
