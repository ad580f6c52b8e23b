package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"policyengine.dev/core/common/id"
	"policyengine.dev/core/common/logger"
	"policyengine.dev/core/core/config"
	"policyengine.dev/core/core/db"
	"policyengine.dev/core/internal/httpapi"
	"policyengine.dev/core/internal/llmclient"
	"policyengine.dev/core/internal/notify"
	"policyengine.dev/core/internal/obs"
	"policyengine.dev/core/internal/policy/task"
	"policyengine.dev/core/internal/queue"
	"policyengine.dev/core/internal/store"
)

func main() {
	fmt.Println(banner)
	ctx := context.Background()

	cfg := config.Load()

	telemetry, err := obs.Setup(ctx, cfg.OTel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up telemetry: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg)
	slog.InfoContext(ctx, "policyd starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	var snapshots *store.Store
	if cfg.DB.DSN != "" {
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()
		snapshots = store.New(database.Pool())
		slog.InfoContext(ctx, "snapshot store connected")
	} else {
		slog.InfoContext(ctx, "snapshot store disabled (DATABASE_URL not set); tasks will not survive a restart")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.Stream)
	} else {
		slog.InfoContext(ctx, "redis disabled (REDIS_URL not set); notifications and the request queue are inactive")
	}

	notifier := notify.New(redisClient)

	var llmClient llmclient.Client
	if cfg.LLM.APIKey != "" {
		oaiClient, err := llmclient.NewOpenAIClient(llmclient.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to construct llm client", "error", err)
			os.Exit(1)
		}
		llmClient = oaiClient
	} else {
		slog.InfoContext(ctx, "llm client disabled (OPENAI_API_KEY not set); context condensation is skipped")
	}

	registry := newTaskRegistry(snapshots, llmClient)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := &httpapi.Handler{Snapshots: snapshots, Redis: redisClient}
	engine := httpapi.NewEngine(handler, httpapi.Config{OTelServiceName: cfg.OTel.ServiceName})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "debug http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	consumeCtx, stopConsuming := context.WithCancel(ctx)
	var consumeWG sync.WaitGroup

	if redisClient != nil {
		consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
			Stream:       cfg.Queue.Stream,
			Group:        cfg.Queue.Group,
			Consumer:     cfg.Queue.Consumer,
			DLQStream:    cfg.Queue.DLQStream,
			BatchSize:    cfg.Queue.BatchSize,
			Block:        time.Duration(cfg.Queue.BlockSeconds) * time.Second,
			MaxAttempts:  cfg.Queue.MaxAttempts,
			RequeueDelay: 0,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to start queue consumer", "error", err)
			os.Exit(1)
		}
		producer := queue.NewRedisProducer(redisClient)

		worker := &requestWorker{
			consumer: consumer,
			producer: producer,
			registry: registry,
			notifier: notifier,
			cfg:      cfg.Queue,
		}

		consumeWG.Add(1)
		go func() {
			defer consumeWG.Done()
			worker.run(consumeCtx)
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")
	stopConsuming()
	consumeWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.ErrorContext(shutdownCtx, "redis shutdown error", "error", err)
		}
	}

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "telemetry shutdown error", "error", err)
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

const banner = `
██████╗  ██████╗ ██╗     ██╗ ██████╗██╗   ██╗██████╗
██╔══██╗██╔═══██╗██║     ██║██╔════╝╚██╗ ██╔╝██╔══██╗
██████╔╝██║   ██║██║     ██║██║      ╚████╔╝ ██║  ██║
██╔═══╝ ██║   ██║██║     ██║██║       ╚██╔╝  ██║  ██║
██║     ╚██████╔╝███████╗██║╚██████╗   ██║   ██████╔╝
╚═╝      ╚═════╝ ╚══════╝╚═╝ ╚═════╝   ╚═╝   ╚═════╝
`
