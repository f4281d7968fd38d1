package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pharmasentinel/orchestrator/internal/agents"
	"github.com/pharmasentinel/orchestrator/internal/circuitbreaker"
	"github.com/pharmasentinel/orchestrator/internal/config"
	"github.com/pharmasentinel/orchestrator/internal/db"
	"github.com/pharmasentinel/orchestrator/internal/health"
	"github.com/pharmasentinel/orchestrator/internal/llm"
	_ "github.com/pharmasentinel/orchestrator/internal/metrics" // Import for side effects
	"github.com/pharmasentinel/orchestrator/internal/notify"
	"github.com/pharmasentinel/orchestrator/internal/pipeline"
	"github.com/pharmasentinel/orchestrator/internal/risk"
	"github.com/pharmasentinel/orchestrator/internal/scheduler"
	"github.com/pharmasentinel/orchestrator/internal/sources"
	"github.com/pharmasentinel/orchestrator/internal/statecache"
	"github.com/pharmasentinel/orchestrator/internal/tracing"
)

func main() {
	once := flag.Bool("once", false, "run one full pipeline pass and exit")
	intervalMinutes := flag.Int("interval", 0, "override the periodic run interval in minutes")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if *intervalMinutes > 0 {
		cfg.Pipeline.IntervalMinutes = *intervalMinutes
	}

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		logger.Fatal("Failed to load drug catalog", zap.Error(err))
	}
	logger.Info("Drug catalog loaded",
		zap.String("path", cfg.CatalogPath),
		zap.Int("drugs", len(catalog.Drugs)),
	)

	// Start circuit breaker metrics collection
	circuitbreaker.StartMetricsCollection()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without traces", zap.Error(err))
	}

	dbClient, err := db.NewClient(&db.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbClient.Close()

	// The cache is an optimization: without it quick runs escalate to
	// full runs, so a failed connection is not fatal.
	cache, err := statecache.New(statecache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		logger.Warn("State cache unavailable, quick runs will escalate to full", zap.Error(err))
		cache = nil
	} else {
		defer cache.Close()
	}

	reasoner := llm.NewClient(llm.Config{
		BaseURL: cfg.Reasoning.BaseURL,
		APIKey:  cfg.Reasoning.APIKey,
		Model:   cfg.Reasoning.Model,
		Timeout: cfg.Reasoning.Timeout,
	}, logger)

	riskConfig := riskConfigFrom(cfg)
	deps := &agents.Deps{
		Store:      db.NewStore(dbClient),
		Reasoner:   reasoner,
		FDA:        sources.NewFDAClient(cfg.Sources.FDABaseURL, cfg.Sources.RequestTimeout, cfg.Sources.RatePerSecond, logger),
		News:       sources.NewNewsClient(cfg.Sources.NewsBaseURL, cfg.Sources.NewsAPIKey, cfg.Sources.RequestTimeout, cfg.Sources.RatePerSecond, logger),
		Catalog:    catalog,
		RiskConfig: riskConfig,
		Logger:     logger,
	}
	overseer := risk.NewOverseer(riskConfig, catalog.Ranks(), logger)
	coordinator := pipeline.NewCoordinator(deps, overseer, cache, dbClient, logger)

	if *once {
		runOnce(coordinator, logger)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startAdminServers(ctx, cfg, dbClient, cache, reasoner, logger)

	// Hot-reload lets operators adjust risk thresholds without a restart;
	// structural settings (DB, ports) still need one.
	watcher, err := config.NewWatcher(configPath(), logger)
	if err != nil {
		logger.Warn("Config watcher unavailable", zap.Error(err))
	} else {
		watcher.OnChange(func(newCfg *config.Config) {
			coordinator.UpdateRiskConfig(riskConfigFrom(newCfg), catalog.Ranks())
			logger.Info("Risk thresholds updated from config")
		})
		watcher.Start(ctx)
		defer watcher.Close()
	}

	events := startNotifySource(ctx, cfg, logger)

	pool := scheduler.NewPool(cfg.Pipeline.Workers, logger)
	sched := scheduler.New(scheduler.Config{
		Interval:    time.Duration(cfg.Pipeline.IntervalMinutes) * time.Minute,
		MinInterval: cfg.Pipeline.DebounceInterval,
		Table:       cfg.Pipeline.NotifyTable,
	}, coordinator, pool, events, logger)

	// Initial full pass so a fresh deployment has a risk picture before
	// the first tick.
	pool.Submit(func() {
		if _, err := coordinator.RunFull(ctx, "startup"); err != nil {
			logger.Error("Startup run failed", zap.Error(err))
		}
	})

	sched.Run(ctx)
	logger.Info("Shutdown complete")
}

// runOnce executes a single full run for cron-style deployments. Any task
// failure exits non-zero so the invoking scheduler notices.
func runOnce(coordinator *pipeline.Coordinator, logger *zap.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := coordinator.RunFull(ctx, "manual")
	if err != nil {
		logger.Error("Run failed", zap.Error(err))
		os.Exit(1)
	}
	if errs := run.TaskErrors(); len(errs) > 0 {
		for _, e := range errs {
			logger.Error("Task error", zap.Error(e))
		}
		os.Exit(1)
	}
	logger.Info("Run complete", zap.String("status", run.Status))
}

// startNotifySource picks the realtime transport: a websocket when
// REALTIME_WS_URL is set, Postgres LISTEN/NOTIFY otherwise.
func startNotifySource(ctx context.Context, cfg *config.Config, logger *zap.Logger) <-chan notify.Notification {
	var source notify.Source
	if wsURL := os.Getenv("REALTIME_WS_URL"); wsURL != "" {
		source = notify.NewWSSource(wsURL, os.Getenv("REALTIME_API_KEY"), cfg.Pipeline.NotifyTable, logger)
	} else {
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
			cfg.Database.Password, cfg.Database.Database, cfg.Database.SSLMode)
		source = notify.NewPGSource(dsn, cfg.Pipeline.NotifyChannel, logger)
	}

	go func() {
		if err := source.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Notification source stopped", zap.Error(err))
		}
		source.Close()
	}()
	return source.Notifications()
}

// startAdminServers serves health probes and Prometheus metrics.
func startAdminServers(ctx context.Context, cfg *config.Config, dbClient *db.Client, cache *statecache.Cache, reasoner *llm.Client, logger *zap.Logger) {
	hm := health.NewManager(logger)
	if err := hm.RegisterChecker(health.NewStoreChecker(dbClient)); err != nil {
		logger.Warn("Failed to register store checker", zap.Error(err))
	}
	if cache != nil {
		if err := hm.RegisterChecker(health.NewCacheChecker(cache)); err != nil {
			logger.Warn("Failed to register cache checker", zap.Error(err))
		}
	}
	if err := hm.RegisterChecker(health.NewReasoningChecker(reasoner.Healthy)); err != nil {
		logger.Warn("Failed to register reasoning checker", zap.Error(err))
	}

	healthMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(healthMux)
	serveHTTP(ctx, cfg.Admin.HealthPort, healthMux, "health", logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	serveHTTP(ctx, cfg.Admin.MetricsPort, metricsMux, "metrics", logger)
}

func serveHTTP(ctx context.Context, port int, handler http.Handler, name string, logger *zap.Logger) {
	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening",
			zap.String("server", name), zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin HTTP server failed",
				zap.String("server", name), zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func riskConfigFrom(cfg *config.Config) risk.Config {
	return risk.Config{
		CriticalBurnDays:   cfg.Risk.CriticalBurnDays,
		HighBurnDays:       cfg.Risk.HighBurnDays,
		MediumBurnDays:     cfg.Risk.MediumBurnDays,
		SafetyStockDays:    cfg.Risk.SafetyStockDays,
		TopCriticalityRank: cfg.Risk.TopCriticalityRank,
		ConfidenceFloor:    cfg.Risk.ConfidenceFloor,
		DefaultOrderQty:    cfg.Risk.DefaultOrderQty,
	}
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/pharmasentinel.yaml"
}
