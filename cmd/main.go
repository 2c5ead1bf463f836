package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	chainclient "dkey-backend/pkg/clients/chain"
	"dkey-backend/pkg/clients/market"
	"dkey-backend/pkg/clients/pinner"

	"dkey-backend/pkg/chainconfig"
	"dkey-backend/pkg/encryption"
	"dkey-backend/pkg/httpServer"
	profilesRepository "dkey-backend/pkg/repositories/profiles"
	bidsService "dkey-backend/pkg/services/bids"
	listingsService "dkey-backend/pkg/services/listings"
	profilesService "dkey-backend/pkg/services/profiles"
	"dkey-backend/pkg/services/session"
	viewsService "dkey-backend/pkg/services/views"
	"dkey-backend/pkg/workers"
	dkeysworker "dkey-backend/pkg/workers/dkeys"
	sessionsworker "dkey-backend/pkg/workers/sessions"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() (err error) {
	// Tools
	config := loadConfig()
	if config == nil {
		os.Stderr.WriteString("failed to load configuration\n")
		return
	}

	logLevel := slog.LevelInfo
	if level, ok := logLevels[config.System.LogLevel]; ok {
		logLevel = level
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	// Metrics
	dbRequestsCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Metrics.Namespace,
			Subsystem: config.Metrics.DbSubsystem,
			Name:      "db_requests_count",
			Help:      "Db requests count",
		},
		[]string{"method", "error"},
	)

	dbRequestsDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Metrics.Namespace,
			Subsystem: config.Metrics.DbSubsystem,
			Name:      "db_requests_duration",
			Help:      "Db requests duration",
		},
		[]string{"method", "error"},
	)

	workersRunCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Metrics.Namespace,
			Subsystem: config.Metrics.WorkersSubsystem,
			Name:      "workers_requests_count",
			Help:      "Workers requests count",
		},
		[]string{"method", "error"},
	)

	workersRunDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Metrics.Namespace,
			Subsystem: config.Metrics.WorkersSubsystem,
			Name:      "workers_requests_duration",
			Help:      "Workers requests duration",
		},
		[]string{"method", "error"},
	)

	prometheus.MustRegister(
		dbRequestsCount,
		dbRequestsDuration,
		workersRunCount,
		workersRunDuration,
	)

	// Postgres
	connPool, err := connectPostgres(context.Background(), config, logger)
	if err != nil {
		logger.Error("failed to connect to Postgres", slog.String("error", err.Error()))
		return
	}

	// Database
	profilesRepo := profilesRepository.NewRepository(connPool)
	profilesRepo = profilesRepository.NewMetrics(dbRequestsCount, dbRequestsDuration, profilesRepo)

	// Clients
	resolver := chainconfig.NewResolver(logger)
	chainC := chainclient.NewClient(logger)

	marketC, err := market.NewClient(config.Chain.Contracts, config.Chain.WalletKey, logger)
	if err != nil {
		logger.Error("failed to create market client", slog.String("error", err.Error()))
		return
	}

	var pinnerC pinner.Client = pinner.NewClient(config.Pinning.NodeURL)
	pinnerC = pinner.NewCacheMiddleware(pinnerC)

	prover := encryption.NewProver(config.Pinning.ProverParamsPath, logger)
	encryptor := encryption.NewEncryptor(prover)

	// Services
	store := session.NewStore(profilesRepo, logger)

	profilesSvc := profilesService.NewService(store, resolver, marketC, config.System.Origin, logger)

	listingsSvc := listingsService.NewService(
		store,
		resolver,
		chainC,
		pinnerC,
		marketC,
		encryptor,
		config.System.Origin,
		config.System.BaseURL,
		logger,
	)

	viewsSvc := viewsService.NewService(store, resolver, marketC, pinnerC, config.System.Origin, logger)

	bidsSvc := bidsService.NewService(store, resolver, marketC, viewsSvc, config.System.Origin, logger)

	// Workers
	dkeysWorker := dkeysworker.NewWorker(store, marketC, logger)
	dkeysWorker = dkeysworker.NewMetrics(workersRunCount, workersRunDuration, dkeysWorker)

	sessionsWorker := sessionsworker.NewWorker(listingsSvc, config.System.SessionLifetime, logger)

	// Start workers
	cancelCtx, cancel := context.WithCancel(context.Background())
	workers := workers.NewWorkers(dkeysWorker, sessionsWorker, logger)
	go func() {
		if wErr := workers.Start(cancelCtx); wErr != nil {
			logger.Error("failed to start workers", slog.String("error", wErr.Error()))
			err = wErr
			return
		}
	}()

	// HTTP Server
	adminAuthTokens := strings.Split(config.System.AdminAuthTokens, ",")
	app := fiber.New(fiber.Config{BodyLimit: 1024 * 1024 * 1024})
	server := httpServer.New(
		app,
		profilesSvc,
		listingsSvc,
		viewsSvc,
		bidsSvc,
		adminAuthTokens,
		config.Metrics.Namespace,
		config.Metrics.ServerSubsystem,
		logger,
	)

	server.RegisterRoutes()

	go func() {
		if err := app.Listen(":" + config.System.Port); err != nil {
			logger.Error("error starting server", slog.String("err", err.Error()))
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	<-signalChan
	cancel()

	err = app.ShutdownWithTimeout(time.Second * 5)
	if err != nil {
		logger.Error("server shut down error", slog.String("err", err.Error()))
		return err
	}

	return err
}
