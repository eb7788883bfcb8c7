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
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/candlz/market-engine/internal/api"
	"github.com/candlz/market-engine/internal/config"
	"github.com/candlz/market-engine/internal/engine"
	"github.com/candlz/market-engine/internal/market"
	"github.com/candlz/market-engine/internal/metrics"
	"github.com/candlz/market-engine/internal/model"
	"github.com/candlz/market-engine/internal/portfolio"
	"github.com/candlz/market-engine/internal/pricing"
	"github.com/candlz/market-engine/internal/store"
	"github.com/candlz/market-engine/internal/trading"
)

func main() {
	// Load .env if present; real env vars win.
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Simulation components ---
	seed := cfg.Engine.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	noise := pricing.NewNoise(seed)

	generator := pricing.NewGenerator(noise, pricing.Params{
		ClampMin:     cfg.Pricing.ClampMin.Decimal,
		ClampMax:     cfg.Pricing.ClampMax.Decimal,
		BulkClampMin: cfg.Pricing.BulkClampMin.Decimal,
		BulkClampMax: cfg.Pricing.BulkClampMax.Decimal,
		PriceFloor:   cfg.Pricing.PriceFloor.Decimal,
	})
	aggregator := pricing.NewAggregator(
		pricing.NewTable(cfg.Pricing.Correlations, cfg.Pricing.DefaultCorrelation),
		noise,
	)
	phases := market.NewPhases(noise)

	catalogue := make([]market.EventWeight, 0, len(cfg.Events.Catalogue))
	for _, w := range cfg.Events.Catalogue {
		catalogue = append(catalogue, market.EventWeight{Type: w.Type, Title: w.Title, Weight: w.Weight})
	}
	scheduler := market.NewScheduler(st, noise, market.SchedulerParams{
		Probability:   cfg.EventTickProbability(),
		MaxConcurrent: cfg.Events.MaxConcurrent,
		Catalogue:     catalogue,
		PriceFloor:    cfg.Pricing.PriceFloor.Decimal,
	}, logger)

	trader := trading.NewEngine(st, cfg.Engine.CommissionRate.Decimal, logger)

	tiers := make([]portfolio.Tier, 0, len(cfg.WealthTiers))
	for _, t := range cfg.WealthTiers {
		tiers = append(tiers, portfolio.Tier{Name: t.Tier, Threshold: t.Threshold.Decimal})
	}
	classifier := portfolio.NewClassifier(st, tiers, logger)
	valuer := portfolio.NewValuer(st, logger)

	coordinator := engine.New(engine.Deps{
		Store:      st,
		Generator:  generator,
		Aggregator: aggregator,
		Phases:     phases,
		Scheduler:  scheduler,
		Trader:     trader,
		Valuer:     valuer,
		Classifier: classifier,
		Logger:     logger,
		Interval:   cfg.Engine.TickInterval,
	})

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()
	coordinator.SetBroadcaster(wsHub)

	// --- HTTP router ---
	volatilities := make(map[model.AssetType]decimal.Decimal, len(cfg.Pricing.BaseVolatilities))
	for t, v := range cfg.Pricing.BaseVolatilities {
		volatilities[t] = v.Decimal
	}
	svc := api.NewService(st, coordinator, trader, classifier, volatilities, logger)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
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

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		h := coordinator.Health(req.Context())
		status := http.StatusOK
		if h.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		api.WriteJSON(w, status, h)
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		svc.Routes(r, wsHub)
	})

	// Start the simulation loop.
	coordinator.Start()

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down market-engine...")
	coordinator.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-engine stopped")
}

// loadConfig reads CONFIG_PATH when set, falling back to defaults with
// environment overrides.
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	config.ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
