package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpapi "github.com/i474232898/live-weather-tracker/internal/api/http"
	"github.com/i474232898/live-weather-tracker/internal/config"
	"github.com/i474232898/live-weather-tracker/internal/feed"
	"github.com/i474232898/live-weather-tracker/internal/logging"
	"github.com/i474232898/live-weather-tracker/internal/metrics"
	"github.com/i474232898/live-weather-tracker/internal/push"
	"github.com/i474232898/live-weather-tracker/internal/push/mqtt"
	"github.com/i474232898/live-weather-tracker/internal/push/socketio"
	"github.com/i474232898/live-weather-tracker/internal/scheduler"
	"github.com/i474232898/live-weather-tracker/internal/store"
	"github.com/i474232898/live-weather-tracker/internal/weather"
	"github.com/i474232898/live-weather-tracker/internal/weather/remote"
)

const appName = "live-weather-tracker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(os.Stdout, cfg, appName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("tracker stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	// Shared HTTP client for the tracker REST API.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	api, err := remote.NewClient(httpClient, cfg.APIBaseURL, remote.BackoffConfig{
		MaxRetries:      cfg.LoadMaxRetries,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(reg)

	records := store.NewMemoryStore(cfg.StoreMaxRecords)
	bus := push.NewDispatcher(logger)

	transport, err := newTransport(cfg, bus, logger)
	if err != nil {
		return err
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	if err := transport.Connect(connectCtx); err != nil {
		logger.Warn("push channel unavailable; live updates are off", "transport", cfg.PushTransport, "error", err)
	}
	cancel()
	defer func() {
		if err := transport.Close(); err != nil {
			logger.Warn("failed to close push channel", "error", err)
		}
	}()

	service := weather.NewService(api, bus, records, weather.Options{
		DedupInserts: cfg.DedupInserts,
		Logger:       logger,
		Metrics:      recorder,
	})
	if err := service.Start(ctx); err != nil {
		logger.Error("initial load failed; the list stays empty until the next resync", "error", err)
	}
	defer service.Stop()

	deps := httpapi.Deps{Cities: api}
	if cfg.FeedURL != "" {
		listener := feed.NewListener(cfg.FeedURL, cfg.FeedMaxItems, logger)
		if err := listener.Start(ctx); err != nil {
			logger.Warn("feed listener not started", "error", err)
		}
		defer listener.Close()
		deps.Feed = listener
	}

	sched := scheduler.New(cfg.ResyncInterval, cfg.HTTPTimeout, service, logger)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.HTTPTimeout + 5*time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		events, handlers := bus.Stats()
		return c.JSON(fiber.Map{
			"status":         "ok",
			"service":        appName,
			"push_connected": transport.IsConnected(),
			"push_events":    events,
			"push_handlers":  handlers,
			"records":        len(service.Records()),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	httpapi.RegisterRoutes(app, service, deps)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("fiber server stopped", "error", err)
		}
	}()
	logger.Info("tracker started", "port", cfg.Port, "api", cfg.APIBaseURL, "transport", cfg.PushTransport)

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("error during shutdown", "error", err)
	}
	return nil
}

func newTransport(cfg *config.AppConfig, sink push.Sink, logger *slog.Logger) (push.Transport, error) {
	switch cfg.PushTransport {
	case config.TransportMQTT:
		return mqtt.NewSubscriber(mqtt.Config{
			Broker:      cfg.MQTTBroker,
			Port:        cfg.MQTTPort,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, sink, logger), nil
	default:
		return socketio.NewClient(cfg.PushURL, sink, logger)
	}
}
