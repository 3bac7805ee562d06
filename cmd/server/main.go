// Package main runs the blind test HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/blindtest-party/backend/config"
	"github.com/blindtest-party/backend/internal/auth"
	"github.com/blindtest-party/backend/internal/game"
	"github.com/blindtest-party/backend/internal/metrics"
	"github.com/blindtest-party/backend/internal/middleware"
	"github.com/blindtest-party/backend/internal/proxy"
	"github.com/blindtest-party/backend/internal/realtime"
	"github.com/blindtest-party/backend/internal/sessions"
	"github.com/blindtest-party/backend/internal/worker"
	"github.com/blindtest-party/backend/pkg/database"
	"github.com/blindtest-party/backend/pkg/queue"
	"github.com/blindtest-party/backend/pkg/redis"
	"github.com/blindtest-party/backend/pkg/response"
	"github.com/blindtest-party/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.PhotosBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheus(registry)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	store := sessions.NewPGStore(pool)

	manager := sessions.NewManager(sessions.Config{
		Game: game.Options{
			Cooldown:        game.CooldownPolicy{Threshold: cfg.Game.CooldownThreshold, Duration: cfg.Game.CooldownDuration()},
			BuzzLockTimeout: cfg.Game.BuzzLockTimeout(),
		},
		TickInterval: cfg.Game.TickInterval(),
	}, store, hub, jobQueue, recorder, logger)
	restored, err := manager.Restore(ctx)
	if err != nil {
		logger.Error("restore sessions", zap.Error(err))
	}
	logger.Info("sessions restored", zap.Int("count", restored))
	hub.SetPresenceHandler(manager.OnPresence)
	hub.SetCommandHandler(manager)

	var photos sessions.PhotoSigner
	if s3Client != nil {
		photos = s3Client
	}
	sessionHandler := sessions.NewHandler(manager, jwtService, photos, cfg.Server.PublicBaseURL, logger)

	automation := proxy.NewAutomation(cfg.Automation, nil, logger)
	automationHandler := proxy.NewAutomationHandler(automation, jobQueue, logger)
	music := proxy.NewMusic(cfg.Music, logger)

	joinLimiter := middleware.NewKeyedRateLimiter(rate.Limit(float64(cfg.Server.JoinRatePerMinute)/60), max(cfg.Server.JoinRatePerMinute/6, 1))
	buzzLimiter := middleware.NewKeyedRateLimiter(rate.Limit(cfg.Server.BuzzRatePerSecond), max(cfg.Server.BuzzRatePerSecond, 1))
	proxyLimiter := middleware.NewKeyedRateLimiter(rate.Limit(1), 5)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		if !rdb.Healthy(c.Request.Context()) {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		if err := pool.Ping(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok", "liveSessions": manager.Live()})
	})
	router.GET("/metrics", gin.WrapH(recorder.Handler()))

	sessionHandler.Register(router, sessions.Routes{
		Tokens:    jwtService,
		JoinLimit: middleware.RateLimit(joinLimiter),
		BuzzLimit: middleware.RateLimit(buzzLimiter),
	})
	automationHandler.Register(router, middleware.RateLimit(proxyLimiter))
	music.Register(router, middleware.RateLimit(proxyLimiter))

	// WebSocket (token in query; tokenless clients are spectators)
	router.GET("/ws", realtime.ServeWs(hub, logger, manager.Authenticator(jwtService)))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// In-process job worker (results archive, automation delivery)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Server.EmbeddedWorker {
		var uploader worker.ResultsUploader
		if s3Client != nil {
			uploader = s3Client
		}
		processor := worker.NewProcessor(store, uploader, automation, jobQueue, logger)
		go processor.Run(workerCtx)
		logger.Info("embedded worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	manager.Shutdown()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
