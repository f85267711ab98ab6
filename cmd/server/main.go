// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cafeops/replenish/internal/api"
	"github.com/cafeops/replenish/internal/cache"
	"github.com/cafeops/replenish/internal/config"
	"github.com/cafeops/replenish/internal/exogenous"
	"github.com/cafeops/replenish/internal/feedback"
	"github.com/cafeops/replenish/internal/forecast"
	"github.com/cafeops/replenish/internal/history"
	"github.com/cafeops/replenish/internal/replenish"
	"github.com/cafeops/replenish/internal/repository/postgres"
	"github.com/cafeops/replenish/internal/scheduler"
	"github.com/cafeops/replenish/internal/service"
	"github.com/cafeops/replenish/pkg/logger"
)

func main() {
	cfg := config.Load()

	logger.SetLevel(cfg.Server.Mode)
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := postgres.NewDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	consumptionRepo := postgres.NewConsumptionRepository(db)
	supplierRepo := postgres.NewSupplierRepository(db)
	stockRepo := postgres.NewStockRepository(db)
	factorRepo := postgres.NewFactorRepository(db)
	auditRepo := postgres.NewForecastAuditRepository(db)

	aggregator := history.NewAggregator(consumptionRepo, cfg.Engine.MinHistoryDays)
	adjuster := exogenous.NewAdjuster(factorRepo)
	models := forecast.NewManager(aggregator, adjuster, auditRepo, forecast.Config{
		TrainingWindowDays: cfg.Engine.TrainingWindowDays,
		MinHistoryDays:     cfg.Engine.MinHistoryDays,
		MaxModelAge:        cfg.Engine.MaxModelAge,
		BoundsZ:            cfg.Engine.ServiceLevelZ,
		Trees:              cfg.Engine.EnsembleTrees,
		MaxDepth:           cfg.Engine.EnsembleMaxDepth,
	})
	optimizer := replenish.NewOptimizer(models, stockRepo, supplierRepo, replenish.Config{
		ReviewPeriodDays: cfg.Engine.ReviewPeriodDays,
		ServiceLevelZ:    cfg.Engine.ServiceLevelZ,
		StockFreshness:   cfg.Engine.StockFreshness,
	})
	reconciler := feedback.NewReconciler(auditRepo, consumptionRepo, models, feedback.Config{
		MAPEThreshold: cfg.Engine.MAPEThreshold,
		Window:        cfg.Engine.ReconcileWindow,
	})

	recCache, err := cache.NewRecommendationCache(cfg.Cache)
	if err != nil {
		// A broken cache must never block the engine; answers are the
		// same with caching off, only slower.
		logger.Log.Warn().Err(err).Msg("Cache unavailable, continuing without it")
		recCache = cache.NewNoopRecommendationCache()
	}

	engine := service.NewEngine(models, optimizer, reconciler, auditRepo, recCache)

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	go func() {
		sched := scheduler.New(scheduler.Options{
			Interval:     cfg.Scheduler.ReconcileInterval,
			StartupDelay: cfg.Scheduler.StartupDelay,
		})
		if err := sched.Run(rootCtx, func(ctx context.Context) error {
			return engine.ReconcileAll(ctx)
		}); err != nil && err != context.Canceled {
			logger.Log.Error().Err(err).Msg("Reconciliation scheduler stopped")
		}
	}()

	router := api.NewRouter(engine, cfg.Server.AllowedOrigins)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info().Msg("Shutting down server...")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Log.Info().Msg("Server exiting")
}
