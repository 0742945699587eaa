package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/unitrack/attendance-api/api/swagger"
	"github.com/unitrack/attendance-api/internal/handler"
	"github.com/unitrack/attendance-api/internal/middleware"
	"github.com/unitrack/attendance-api/internal/models"
	"github.com/unitrack/attendance-api/internal/repository"
	"github.com/unitrack/attendance-api/internal/service"
	"github.com/unitrack/attendance-api/pkg/cache"
	"github.com/unitrack/attendance-api/pkg/config"
	"github.com/unitrack/attendance-api/pkg/database"
	"github.com/unitrack/attendance-api/pkg/logger"
	corsmiddleware "github.com/unitrack/attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/unitrack/attendance-api/pkg/middleware/requestid"
)

// @title UniTrack Attendance API
// @version 1.0.0
// @description QR-code attendance session protocol for academic courses
// @BasePath /api/v1
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The API stays up without Redis; analytics just run uncached.
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	sessionRepo := repository.NewSessionRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	userRepo := repository.NewUserRepository(db)

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Analytics.CacheTTL, logr, cfg.Analytics.CacheEnabled)
	}

	authSvc := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	sessionSvc := service.NewSessionService(sessionRepo, auditRepo, validate, logr, cfg.Attendance.DefaultQRExpiry)
	attendanceSvc := service.NewAttendanceService(sessionRepo, attendanceRepo, auditRepo, cacheSvc, metricsSvc, validate, logr, cfg.Attendance.LateAfter)
	analyticsSvc := service.NewAnalyticsService(analyticsRepo, cacheSvc, logr, cfg.Attendance.ShortageThreshold)
	exportSvc := service.NewExportService(analyticsSvc, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)
	analyticsHandler := handler.NewAnalyticsHandler(analyticsSvc, exportSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	sessions := authed.Group("/sessions")
	sessions.POST("", middleware.RequireRoles(models.RoleFaculty, models.RoleAdmin), sessionHandler.Create)
	sessions.GET("", middleware.RequireRoles(models.RoleFaculty, models.RoleAdmin), sessionHandler.List)
	sessions.GET("/:id", sessionHandler.Get)
	sessions.POST("/:id/qr", middleware.RequireRoles(models.RoleFaculty), sessionHandler.IssueQR)
	sessions.POST("/:id/close", middleware.RequireRoles(models.RoleFaculty), sessionHandler.Close)

	attendance := authed.Group("/attendance")
	attendance.POST("", middleware.RequireRoles(models.RoleStudent), attendanceHandler.Scan)
	attendance.GET("", attendanceHandler.List)
	attendance.PATCH("/:id", middleware.RequireRoles(models.RoleAdmin), attendanceHandler.Override)
	attendance.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), attendanceHandler.Delete)

	analytics := authed.Group("/analytics")
	analytics.Use(middleware.RequireRoles(models.RoleFaculty, models.RoleAdmin))
	analytics.GET("/attendance", analyticsHandler.Cohort)
	analytics.GET("/attendance/users/:id", analyticsHandler.Summary)
	analytics.GET("/attendance/export", analyticsHandler.Export)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
