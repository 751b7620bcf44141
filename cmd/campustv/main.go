package main

import (
	"context"
	"time"

	"campustv/internal/cloudflare"
	"campustv/internal/handlers"
	"campustv/internal/metering"
	"campustv/internal/notify"
	"campustv/internal/payments"
	"campustv/internal/reconciler"
	"campustv/internal/store"
	"campustv/internal/ws"
	"campustv/pkg/config"
	"campustv/pkg/database"
	"campustv/pkg/email"
	"campustv/pkg/logging"
	"campustv/pkg/monitoring"
	"campustv/pkg/server"
	"campustv/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("campustv")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting CampusTV streaming engine")

	dbURL := config.RequireEnv("DATABASE_URL")
	cfAccountID := config.RequireEnv("CLOUDFLARE_ACCOUNT_ID")
	cfAPIToken := config.RequireEnv("CLOUDFLARE_API_TOKEN")
	mollieAPIKey := config.RequireEnv("MOLLIE_API_KEY")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("campustv", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("campustv", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":          dbURL,
		"CLOUDFLARE_ACCOUNT_ID": cfAccountID,
	}))

	// Stores and external clients
	st := store.New(db)

	streamClient := cloudflare.NewClient(cloudflare.Config{
		AccountID: cfAccountID,
		APIToken:  cfAPIToken,
	})

	gateway, err := payments.NewMollieGateway(payments.Config{
		APIKey: mollieAPIKey,
		Logger: logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create payment gateway")
	}

	var sender *email.Sender
	if smtpHost := config.GetEnv("SMTP_HOST", ""); smtpHost != "" {
		sender = email.NewSender(email.Config{
			Host:     smtpHost,
			Port:     config.GetEnv("SMTP_PORT", "587"),
			User:     config.GetEnv("SMTP_USER", ""),
			Password: config.GetEnv("SMTP_PASSWORD", ""),
			From:     config.GetEnv("SMTP_FROM", "no-reply@campustv.local"),
			FromName: "CampusTV",
		})
	} else {
		logger.Warn("SMTP_HOST not set, stream key emails disabled")
	}

	// Realtime hub and notification fan-out
	hub := ws.NewHub(logger)
	go hub.Run()
	notifier := notify.NewService(db, hub, sender, logger)

	// Reconciliation loops
	engineMetrics := reconciler.NewMetrics(metricsCollector)
	meter := metering.NewMeter(st.Packages, logger)
	finalizer := reconciler.NewFinalizer(st, streamClient, meter, notifier, logger).
		WithMetrics(engineMetrics)

	scheduler := reconciler.NewScheduler(st, streamClient, notifier, logger,
		time.Duration(config.GetEnvInt("SCHEDULER_INTERVAL_SECONDS", 30))*time.Second,
		time.Duration(config.GetEnvInt("READY_LEAD_MINUTES", 5))*time.Minute).
		WithMetrics(engineMetrics)

	monitor := reconciler.NewMonitor(st, streamClient, finalizer, notifier, logger,
		time.Duration(config.GetEnvInt("MONITOR_INTERVAL_SECONDS", 5))*time.Second,
		time.Duration(config.GetEnvInt("LATE_START_GRACE_MINUTES", 5))*time.Minute,
		time.Duration(config.GetEnvInt("LATE_START_SWEEP_MINUTES", 2))*time.Minute).
		WithMetrics(engineMetrics)

	adLoop := reconciler.NewAdLoop(st, meter, notifier, logger,
		time.Duration(config.GetEnvInt("AD_INTERVAL_SECONDS", 10))*time.Second).
		WithMetrics(engineMetrics)

	orderLoop := reconciler.NewOrderLoop(st, gateway, notifier, logger,
		time.Duration(config.GetEnvInt("ORDER_INTERVAL_SECONDS", 60))*time.Second,
		time.Duration(config.GetEnvInt("ORDER_EXPIRY_MINUTES", 5))*time.Minute).
		WithMetrics(engineMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go scheduler.Start(ctx)
	go monitor.Start(ctx)
	go adLoop.Start(ctx)
	go orderLoop.Start(ctx)

	logger.Info("Reconciliation loops started")

	// Initialize handlers
	handlers.Init(st, finalizer, orderLoop, gateway, hub, logger)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "campustv", healthChecker, metricsCollector)
	handlers.RegisterRoutes(router)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("campustv", config.GetEnv("PORT", "8080"))
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
