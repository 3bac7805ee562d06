// Package main runs the background job worker (results archive, automation webhooks).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blindtest-party/backend/config"
	"github.com/blindtest-party/backend/internal/proxy"
	"github.com/blindtest-party/backend/internal/sessions"
	"github.com/blindtest-party/backend/internal/worker"
	"github.com/blindtest-party/backend/pkg/database"
	"github.com/blindtest-party/backend/pkg/queue"
	"github.com/blindtest-party/backend/pkg/redis"
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

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var uploader worker.ResultsUploader
	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.PhotosBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		uploader = s3Client
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	automation := proxy.NewAutomation(cfg.Automation, nil, logger)
	processor := worker.NewProcessor(sessions.NewPGStore(pool), uploader, automation, jobQueue, logger)

	if waiting, dead, err := jobQueue.Depth(ctx); err == nil {
		logger.Info("queue depth", zap.Int64("waiting", waiting), zap.Int64("dead", dead))
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started", zap.Bool("automation", automation.Enabled()), zap.Bool("archive", uploader != nil))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
