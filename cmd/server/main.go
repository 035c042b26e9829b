package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/trendify/trading-engine/internal/config"
	"github.com/trendify/trading-engine/internal/feed"
	"github.com/trendify/trading-engine/internal/ledger"
	"github.com/trendify/trading-engine/internal/metrics"
	"github.com/trendify/trading-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	hub := ledger.NewHub()
	go hub.Run()

	// --- Price feed ---
	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()

	if cfg.Feed.BaseURL != "" {
		client := feed.NewClient(cfg.Feed.BaseURL, cfg.Feed.APIKey, cfg.Feed.Timeout)
		poller := feed.NewPoller(client, st, hub, cfg.Feed.Symbols, cfg.Feed.Interval)

		if cfg.Feed.Backfill {
			if err := poller.Backfill(feedCtx); err != nil {
				slog.Error("history backfill failed", "err", err)
				os.Exit(1)
			}
		}
		go poller.Run(feedCtx)
		slog.Info("price feed started", "symbols", cfg.Feed.Symbols, "interval", cfg.Feed.Interval.String())
	} else {
		slog.Warn("feed.base_url not set, price feed disabled")
	}

	// --- Ledger service ---
	exec := ledger.NewExecutor(st)
	svc := ledger.NewService(exec, st, hub, cfg.InitialBalance())

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time quote/trade updates.
		r.Get("/ws", hub.HandleWS)

		// Trade execution.
		r.Post("/buy", svc.Buy)
		r.Post("/sell", svc.Sell)

		// Accounts.
		r.Post("/accounts", svc.CreateAccount)
		r.Post("/accounts/{userID}/deposit", svc.Deposit)

		// Portfolio & transaction views.
		r.Get("/portfolio/{userID}", svc.GetPortfolio)
		r.Get("/transactions/{userID}", svc.GetTransactions)

		// Market data. The static routes must register before the
		// {symbol} routes or chi would shadow them.
		r.Get("/stocks", svc.ListStocks)
		r.Get("/stocks/latest", svc.GetAllLatest)
		r.Get("/stocks/history", svc.GetAllHistory)
		r.Get("/stocks/{symbol}/latest", svc.GetLatest)
		r.Get("/stocks/{symbol}/history", svc.GetHistory)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trading-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopFeed()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}
