package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/campus-tools/canvaswatch/internal/canvas"
	"github.com/campus-tools/canvaswatch/internal/config"
	"github.com/campus-tools/canvaswatch/internal/database"
	"github.com/campus-tools/canvaswatch/internal/handler"
	"github.com/campus-tools/canvaswatch/internal/middleware"
	"github.com/campus-tools/canvaswatch/internal/router"
	"github.com/campus-tools/canvaswatch/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.AppName))
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

	client := canvas.NewClient(cfg.BaseURL, cfg.AccessToken, nil, logger)

	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 30*time.Second)
	user, err := client.GetSelf(probeCtx)
	cancelProbe()
	if err != nil {
		var apiErr *canvas.APIError
		if errors.As(err, &apiErr) && apiErr.Unauthorized() {
			log.Fatalf("canvas rejected the configured access token; generate a new one and update the configuration")
		}
		log.Fatalf("failed to reach canvas at %s: %v", cfg.BaseURL, err)
	}
	logger.Info().Str("user", user.Name).Str("base_url", cfg.BaseURL).Msg("canvas credential validated")

	store := service.NewSnapshotStore(redisClient, logger)
	pollCtx, stopPolling := context.WithCancel(context.Background())
	defer stopPolling()
	if store.Restore(pollCtx) {
		logger.Info().Msg("serving persisted snapshot until the first refresh completes")
	}

	snapshotService := service.NewSnapshotService(client, cfg.SchoolName, cfg.StudentName, logger)
	optionsSource := service.NewStaticOptionsSource(cfg)
	poller := service.NewPoller(snapshotService, optionsSource, store, natsConn, cfg.NATSSubject, cfg.PollInterval, logger)

	go poller.Start(pollCtx)

	snapshotHandler := handler.NewSnapshotHandler(store, cfg.HideEmpty, logger)
	streamHandler := handler.NewStreamHandler(poller, store, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		Store:           store,
		SnapshotHandler: snapshotHandler,
		StreamHandler:   streamHandler,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, stopPolling)
}

func waitForShutdown(app *fiber.App, stopPolling context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	stopPolling()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
