package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/worawit/docflow/internal/api"
	"github.com/worawit/docflow/internal/compositor"
	"github.com/worawit/docflow/internal/config"
	"github.com/worawit/docflow/internal/database"
	"github.com/worawit/docflow/internal/flow"
	"github.com/worawit/docflow/internal/logger"
	"github.com/worawit/docflow/internal/profile"
	"github.com/worawit/docflow/internal/queue"
	"github.com/worawit/docflow/internal/repository"
	"github.com/worawit/docflow/internal/s3storage"
	"github.com/worawit/docflow/internal/signing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	zlog, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal("connect database", zap.Error(err))
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		zlog.Fatal("ensure schema", zap.Error(err))
	}

	store, err := s3storage.New(cfg)
	if err != nil {
		zlog.Fatal("init storage", zap.Error(err))
	}
	if err := store.EnsureBucket(ctx); err != nil {
		zlog.Fatal("ensure bucket", zap.Error(err))
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer asynqClient.Close()

	docs := repository.NewDocumentRepository(pool)
	tasks := repository.NewAssignmentRepository(pool)
	comp := compositor.NewClient(cfg.CompositorURL, cfg.CompositorTimeout, cfg.CompositorRetries, zlog)
	profiles := profile.NewClient(cfg.ProfileURL, cfg.ProfileTimeout)
	dispatch := queue.NewDispatcher(asynqClient)
	signer := signing.NewSigner(cfg.SigningSecret)

	svc := flow.NewService(docs, tasks, store, comp, profiles, dispatch, zlog, cfg.OverrideIDs)
	server := api.New(cfg, svc, docs, store, signer, zlog)

	if err := server.Run(ctx); err != nil {
		zlog.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
