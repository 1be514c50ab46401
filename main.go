package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"salesreach/config"
	"salesreach/middleware"
	"salesreach/routes"
	"salesreach/utils"
	"salesreach/worker"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			log.Fatalf("Failed to initialize Sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if err := config.ConnectDB(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	app := fiber.New()
	app.Use(middleware.CORS())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Credit service doubles as the billing gate and the midnight counter reset
	creditService := utils.NewCreditService(config.DB, log)
	go creditService.ResetDailyCounters()

	generator := utils.NewOpenAIGenerator(
		config.AppConfig.OpenAIAPIKey,
		config.AppConfig.OpenAIBaseURL,
		config.AppConfig.OpenAIModel,
	)
	mailer := utils.NewSMTPMailer(
		config.AppConfig.SMTPHost,
		config.AppConfig.SMTPPort,
		config.AppConfig.SMTPUsername,
		config.AppConfig.SMTPPassword,
		config.AppConfig.FromEmail,
		config.AppConfig.FromName,
	)

	schedulerWorker := worker.NewSchedulerWorker(config.DB, generator, mailer, creditService, log)
	schedulerWorker.Interval = config.AppConfig.SchedulerInterval
	schedulerWorker.Location = config.SendLocation()
	go schedulerWorker.Start(ctx)

	if config.AppConfig.IMAPHost != "" {
		reconciler := utils.NewStatusReconciler(config.DB, log)
		replyWorker := worker.NewReplyWorker(
			config.DB,
			reconciler,
			log,
			config.AppConfig.IMAPHost,
			config.AppConfig.IMAPPort,
			config.AppConfig.IMAPUsername,
			config.AppConfig.IMAPPassword,
		)
		go replyWorker.Start(ctx)
	} else {
		log.Warn("IMAP_HOST not set, reply detection disabled")
	}

	routes.SetupRoutes(app, config.DB, log)

	// Shut the workers down before closing the listener
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("Shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	log.Printf("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
