package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/quarter-sensor-simulator/internal/api/http"
	"github.com/i474232898/quarter-sensor-simulator/internal/config"
	"github.com/i474232898/quarter-sensor-simulator/internal/noise"
	"github.com/i474232898/quarter-sensor-simulator/internal/publisher"
	"github.com/i474232898/quarter-sensor-simulator/internal/scheduler"
	"github.com/i474232898/quarter-sensor-simulator/internal/sink"
	"github.com/i474232898/quarter-sensor-simulator/internal/store"
	"github.com/i474232898/quarter-sensor-simulator/internal/weather"
	"github.com/i474232898/quarter-sensor-simulator/internal/weather/providers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	provider := providers.NewWeatherstackProvider(httpClient, providers.WeatherstackConfig{
		BaseURL:    cfg.WeatherstackBaseURL,
		APIKey:     cfg.WeatherstackAPIKey,
		Query:      cfg.WeatherQuery,
		MaxRetries: cfg.ProviderMaxRetries,
	})

	// The cell is the only state shared between the refresh and publish jobs.
	cell := store.NewGroundTruthCell()
	service := weather.NewService(provider, cell)

	cache := store.NewSnapshotCache()
	opts := []publisher.Option{publisher.WithCache(cache)}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := sink.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				log.Printf("ERROR: closing kafka writer: %v", err)
			}
		}()
		opts = append(opts, publisher.WithMirror(kafkaSink))
		log.Printf("INFO: mirroring readings to kafka topic %s", cfg.KafkaTopic)
	}

	pub := publisher.New(publisher.Paths{
		Registry:   cfg.RegistryPath,
		Snapshot:   cfg.SnapshotPath,
		Partition1: cfg.Partition1Path,
		Partition2: cfg.Partition2Path,
	}, store.NewFileStore(nil), cell, noise.NewGenerator(), opts...)

	coordinator := scheduler.New(scheduler.Config{
		LongInterval:  cfg.LongInterval,
		ShortInterval: cfg.ShortInterval,
	}, service, pub)

	app := fiber.New(fiber.Config{
		AppName:               "quarter-sensor-simulator",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, httpapi.Deps{
		GroundTruth: service,
		Snapshots:   cache,
		State:       coordinator,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coordinator.Run(ctx); err != nil {
		if errors.Is(err, scheduler.ErrTerminal) {
			log.Printf("ERROR: coordinator stopped after a fatal error: %v", err)
		} else {
			log.Printf("ERROR: coordinator failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
