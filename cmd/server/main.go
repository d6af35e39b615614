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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"omnibox.app/ingest/common/id"
	"omnibox.app/ingest/common/logger"
	"omnibox.app/ingest/common/otel"
	"omnibox.app/ingest/core/config"
	"omnibox.app/ingest/core/db"
	"omnibox.app/ingest/internal/fanout"
	"omnibox.app/ingest/internal/http/handler"
	"omnibox.app/ingest/internal/http/middleware"
	httprouter "omnibox.app/ingest/internal/http/router"
	"omnibox.app/ingest/internal/ingest"
	"omnibox.app/ingest/internal/platform"
	"omnibox.app/ingest/internal/queue"
	"omnibox.app/ingest/internal/service"
	"omnibox.app/ingest/internal/store/postgres"
	"omnibox.app/ingest/internal/store/redislease"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet, OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "ingest server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.Stream)

	taskProducer := queue.NewRedisProducer(redisClient, cfg.Redis.Stream, slog.Default())
	defer taskProducer.Close()

	stores := postgres.NewProvider(database)
	txRunner := postgres.NewTxRunner(database)
	lease := redislease.New(redisClient)

	registry, err := platform.Default()
	if err != nil {
		slog.ErrorContext(ctx, "failed to build platform registry", "error", err)
		os.Exit(1)
	}

	hub := fanout.NewHub(cfg.Fanout.SubscriberQueueDepth, slog.Default())

	pipeline := ingest.NewPipeline(
		ingest.NewNormalizer(registry),
		ingest.NewDeduplicator(lease, stores.Messages(), cfg.Ingest.ReservationTTL, slog.Default()),
		ingest.NewConversationResolver(),
		txRunner,
		hub,
		taskProducer,
		slog.Default(),
	)

	dispatcher := ingest.NewDispatcher(pipeline, registry.Platforms(), ingest.DispatcherConfig{
		WorkersPerPlatform:    cfg.Ingest.WorkersPerPlatform,
		QueueDepthPerPlatform: cfg.Ingest.QueueDepthPerPlatform,
		RunTimeout:            cfg.Ingest.RunTimeout,
	}, slog.Default())
	dispatcher.Start()
	defer dispatcher.Stop()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, dispatcher, hub, service.NewHistoryService(stores))
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, dispatcher *ingest.Dispatcher, hub *fanout.Hub, history service.HistoryService) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, httprouter.Handlers{
		Webhook:   handler.NewWebhookHandler(dispatcher, cfg.Webhook.SharedSecret),
		History:   handler.NewHistoryHandler(history),
		Subscribe: handler.NewSubscribeHandler(hub),
	})

	return router
}

const banner = `
 ██████╗ ███╗   ███╗███╗   ██╗██╗██████╗  ██████╗ ██╗  ██╗
██╔═══██╗████╗ ████║████╗  ██║██║██╔══██╗██╔═══██╗╚██╗██╔╝
██║   ██║██╔████╔██║██╔██╗ ██║██║██████╔╝██║   ██║ ╚███╔╝
██║   ██║██║╚██╔╝██║██║╚██╗██║██║██╔══██╗██║   ██║ ██╔██╗
╚██████╔╝██║ ╚═╝ ██║██║ ╚████║██║██████╔╝╚██████╔╝██╔╝ ██╗
 ╚═════╝ ╚═╝     ╚═╝╚═╝  ╚═══╝╚═╝╚═════╝  ╚═════╝ ╚═╝  ╚═╝
`
