package main

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"coursedrip/catalog"
	"coursedrip/config"
	"coursedrip/middleware"
	"coursedrip/routes"
	"coursedrip/store"
	"coursedrip/transport"
	"coursedrip/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.LogFile != "" {
		logger.SetOutput(&lumberjack.Logger{
			Filename:   config.AppConfig.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Fatalf("Failed to initialize Sentry: %v", err)
		}
		defer sentry.Flush(5 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Load the immutable sequence catalog; malformed definitions fail here,
	// never at dispatch time
	cat, err := catalog.Load(config.AppConfig.SequenceDir)
	if err != nil {
		logger.Fatalf("Failed to load sequence catalog: %v", err)
	}
	logger.WithField("sequences", cat.IDs()).Info("Sequence catalog loaded")

	subscriberStore := store.NewSubscriberStore(config.DB, logger)

	// Transports: SMTP for primary direct messages when configured, console
	// in development; the community feed is persisted in-app
	transports := transport.Registry{
		catalog.ChannelFeed: transport.NewFeedTransport(config.DB),
	}
	if config.AppConfig.SMTPHost != "" {
		transports[catalog.ChannelDirectMessage] = transport.NewMailTransport(
			config.DB,
			config.AppConfig.SMTPHost,
			config.AppConfig.SMTPPort,
			config.AppConfig.SMTPUsername,
			config.AppConfig.SMTPPassword,
			config.AppConfig.FromEmail,
			config.AppConfig.FromName,
		)
	} else {
		transports[catalog.ChannelDirectMessage] = transport.NewConsoleTransport(logger, catalog.ChannelDirectMessage)
	}

	workerCfg := worker.Config{
		TickInterval:    config.AppConfig.TickInterval,
		Workers:         config.AppConfig.DispatchWorkers,
		CatchUpPerTick:  config.AppConfig.CatchUpPerTick,
		MaxSendAttempts: config.AppConfig.MaxSendAttempts,
		RetryBackoff:    config.AppConfig.RetryBackoff,
		SendTimeout:     config.AppConfig.SendTimeout,
	}
	clock := worker.SystemClock{}
	pool := worker.NewPool(workerCfg.Workers)
	primary := worker.NewPrimaryDispatcher(subscriberStore, transports, clock, logger, workerCfg)
	secondary := worker.NewSecondaryDispatcher(subscriberStore, transports, clock, logger, workerCfg)
	driver := worker.NewDriver(subscriberStore, cat, primary, secondary, pool, clock, logger, workerCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go driver.Start(ctx)

	// Create Fiber app
	app := fiber.New()
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, subscriberStore, cat, logger)

	// Health check endpoint
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	logger.Printf("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
