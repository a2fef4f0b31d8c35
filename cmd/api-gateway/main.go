package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/kvnlabs/timetable-exchange-api/api/swagger"
	"github.com/kvnlabs/timetable-exchange-api/internal/handler"
	"github.com/kvnlabs/timetable-exchange-api/internal/middleware"
	"github.com/kvnlabs/timetable-exchange-api/internal/models"
	"github.com/kvnlabs/timetable-exchange-api/internal/repository"
	"github.com/kvnlabs/timetable-exchange-api/internal/service"
	"github.com/kvnlabs/timetable-exchange-api/pkg/cache"
	"github.com/kvnlabs/timetable-exchange-api/pkg/config"
	"github.com/kvnlabs/timetable-exchange-api/pkg/database"
	"github.com/kvnlabs/timetable-exchange-api/pkg/jobs"
	"github.com/kvnlabs/timetable-exchange-api/pkg/logger"
	corsmiddleware "github.com/kvnlabs/timetable-exchange-api/pkg/middleware/cors"
	reqidmiddleware "github.com/kvnlabs/timetable-exchange-api/pkg/middleware/requestid"
)

// @title Timetable Exchange API
// @version 1.0.0
// @description Timetable slot resolution and class-swap exchange engine
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, week grid caching disabled", zap.Error(err))
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	timetableRepo := repository.NewTimetableRepository(db)
	periodRepo := repository.NewPeriodRepository(db)
	breakRepo := repository.NewBreakRepository(db)
	slotRepo := repository.NewSlotRepository(db)
	swapRepo := repository.NewSwapRequestRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "timetable-exchange-api",
	})

	calendarSvc := service.NewCalendarService(timetableRepo, periodRepo, breakRepo, slotRepo,
		cacheRepo, logr, cfg.Timetable.GridCacheTTL).WithMetrics(metricsSvc)

	notificationSvc := service.NewNotificationService(nil, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	}, logr)
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	swapSvc := service.NewSwapService(slotRepo, swapRepo, userRepo, periodRepo, breakRepo,
		validate, logr, service.ExchangeSettings{
			AllowResubmit: cfg.Exchange.AllowResubmit,
			RequestTTL:    cfg.Exchange.RequestTTL,
		}).
		WithMetrics(metricsSvc).
		WithNotifier(notificationSvc).
		WithGridInvalidator(calendarSvc)

	go swapSvc.RunExpirySweeper(ctx, cfg.Exchange.SweepInterval)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		exportSvc = service.NewExportService(calendarSvc, logr, nil, nil)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	timetableHandler := handler.NewTimetableHandler(calendarSvc, exportSvc)
	swapHandler := handler.NewSwapHandler(swapSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	timetable := api.Group("/timetable", middleware.JWT(authSvc))
	timetable.GET("/cells", timetableHandler.ResolveCell)
	timetable.GET("/classes/:id/week", timetableHandler.Week)
	timetable.GET("/classes/:id/export",
		middleware.Audit(userRepo, models.AuditActionTimetableView, "timetable"),
		timetableHandler.Export)

	slots := api.Group("/slots", middleware.JWT(authSvc))
	slots.GET("/:id/swap-candidates", swapHandler.Candidates)

	swaps := api.Group("/swap-requests", middleware.JWT(authSvc))
	swaps.POST("", swapHandler.Create)
	swaps.GET("", swapHandler.List)
	swaps.GET("/statistics", swapHandler.Statistics)
	swaps.GET("/pending-count", swapHandler.PendingCount)
	swaps.GET("/:id", swapHandler.Get)
	swaps.POST("/:id/respond", swapHandler.Respond)
	swaps.POST("/:id/cancel", swapHandler.Cancel)
	swaps.POST("/:id/admin-decision",
		middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin),
		swapHandler.AdminDecision)

	admin := api.Group("/admin", middleware.JWT(authSvc),
		middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	admin.GET("/swap-requests", swapHandler.AdminList)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
