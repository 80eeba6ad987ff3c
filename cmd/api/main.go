package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/acadly/remedial-api/api/swagger"
	"github.com/acadly/remedial-api/internal/handler"
	"github.com/acadly/remedial-api/internal/middleware"
	"github.com/acadly/remedial-api/internal/models"
	"github.com/acadly/remedial-api/internal/repository"
	"github.com/acadly/remedial-api/internal/service"
	"github.com/acadly/remedial-api/pkg/cache"
	"github.com/acadly/remedial-api/pkg/config"
	"github.com/acadly/remedial-api/pkg/database"
	"github.com/acadly/remedial-api/pkg/jobs"
	"github.com/acadly/remedial-api/pkg/logger"
	corsmiddleware "github.com/acadly/remedial-api/pkg/middleware/cors"
	reqidmiddleware "github.com/acadly/remedial-api/pkg/middleware/requestid"
)

// @title Remedial Attendance API
// @version 1.0.0
// @description Makeup class scheduling and code-based attendance tracking
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, cfg.JWT, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, validate, logr)

	notificationSvc := service.NewNotificationService(notificationRepo, courseRepo, metricsSvc, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		Logger:     logr,
	}, logr)

	codeGen := service.NewCodeGenerator(sessionRepo, cfg.Codes.MaxGenerateAttempts)
	statsSvc := service.NewStatsService(sessionRepo, attendanceRepo, courseRepo, cacheRepo, cfg.Stats.CacheTTL, logr)
	sessionSvc := service.NewSessionService(sessionRepo, courseRepo, codeGen, notificationSvc, metricsSvc, cfg.Codes.ExpiryGrace, validate, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, sessionRepo, courseRepo, notificationSvc, statsSvc, metricsSvc, validate, logr)
	insightSvc := service.NewInsightService(courseRepo, attendanceRepo, sessionRepo, cacheRepo, cfg.Insights.CacheTTL, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc, statsSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)
	insightHandler := handler.NewInsightHandler(insightSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db, redisClient)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

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

	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	{
		authed.GET("/auth/me", authHandler.Me)

		authed.GET("/courses", courseHandler.List)
		authed.GET("/courses/:id", courseHandler.Get)
		authed.POST("/courses", middleware.RequireRoles(models.RoleFaculty), courseHandler.Create)
		authed.GET("/courses/:id/students", middleware.RequireRoles(models.RoleFaculty), courseHandler.Students)
		authed.POST("/courses/enroll", middleware.RequireRoles(models.RoleStudent), courseHandler.Enroll)

		authed.GET("/sessions", sessionHandler.List)
		authed.GET("/sessions/:id", sessionHandler.Get)
		authed.GET("/sessions/:id/stats", sessionHandler.Stats)

		faculty := authed.Group("", middleware.RequireRoles(models.RoleFaculty))
		{
			faculty.POST("/sessions", sessionHandler.Create)
			faculty.DELETE("/sessions/:id", sessionHandler.Delete)
			faculty.POST("/sessions/:id/activate", sessionHandler.Activate)
			faculty.POST("/sessions/:id/deactivate", sessionHandler.Deactivate)
			faculty.POST("/sessions/:id/complete", sessionHandler.Complete)
			faculty.POST("/sessions/:id/regenerate-code", sessionHandler.RegenerateCode)
			faculty.GET("/sessions/:id/attendance", sessionHandler.Attendance)
			faculty.POST("/sessions/:id/attendance", attendanceHandler.MarkManual)
			faculty.GET("/sessions/:id/attendance/export", sessionHandler.Export)
		}

		student := authed.Group("", middleware.RequireRoles(models.RoleStudent))
		{
			student.POST("/attendance/redeem", attendanceHandler.Redeem)
			student.GET("/attendance/mine", attendanceHandler.Mine)
		}

		if cfg.Insights.Enabled {
			insights := authed.Group("/courses/:id/insights", middleware.RequireRoles(models.RoleFaculty))
			{
				insights.GET("/prediction", insightHandler.Prediction)
				insights.GET("/slots", insightHandler.Slots)
				insights.GET("/patterns", insightHandler.Patterns)
			}
		}

		authed.GET("/notifications", notificationHandler.List)
		authed.GET("/notifications/unread-count", notificationHandler.UnreadCount)
		authed.POST("/notifications/read-all", notificationHandler.MarkAllRead)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Notifications.Enabled {
		notificationSvc.Start(ctx)
		defer notificationSvc.Stop()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
