package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/app"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/clock"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/config"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/gateway"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/storage/postgres"
	transporthttp "github.com/ebfarnell/podcastflow-pro-sub013/internal/transport/http"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/worker"
	"github.com/ebfarnell/podcastflow-pro-sub013/migrations"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := config.NewLogger(cfg.LogLevel)

	startupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("connect to db")
	}
	defer pool.Close()

	if err := pool.Ping(startupCtx); err != nil {
		logger.WithError(err).Fatal("db ping")
	}
	if err := migrations.Apply(startupCtx, pool); err != nil {
		logger.WithError(err).Fatal("apply migrations")
	}

	clk := clock.NewSystem()

	inventoryRepo := postgres.NewInventoryRepository(pool)
	reservationRepo := postgres.NewReservationRepository(pool)
	campaignRepo := postgres.NewCampaignRepository(pool)
	triggerRepo := postgres.NewTriggerRepository(pool)
	notificationRepo := postgres.NewNotificationRepository(pool)
	directoryRepo := postgres.NewDirectoryRepository(pool)

	inventorySvc := app.NewInventoryService(inventoryRepo, clk, logger)
	conflictSvc := app.NewConflictService(campaignRepo, clk)

	mail := gateway.NewLogMailGateway(logger)
	webhooks := gateway.NewWebhookClient(10 * time.Second)
	notificationSvc := app.NewNotificationService(notificationRepo, directoryRepo, mail, webhooks, clk, logger,
		app.WithQueueMaxAttempts(cfg.QueueMaxAttempts),
	)

	triggerSvc := app.NewTriggerService(triggerRepo, directoryRepo, notificationSvc, campaignRepo, clk, logger)
	reservationSvc := app.NewReservationService(reservationRepo, inventorySvc, conflictSvc, clk, logger,
		app.WithHoldHours(cfg.HoldDurationHours),
		app.WithEventSink(triggerSvc),
	)
	triggerSvc.SetReservationCreator(reservationSvc)

	processor := worker.NewQueueProcessor(notificationRepo, notificationSvc, clk, logger, cfg.QueueBatchSize, cfg.QueueRetryDelay)
	sweeper := worker.NewExpirySweeper(reservationSvc, logger)

	scheduler := cron.New(cron.WithSeconds())
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	if _, err := scheduler.AddFunc("@every "+cfg.QueuePollInterval.String(), func() {
		if _, err := processor.ProcessOnce(workerCtx); err != nil {
			logger.WithError(err).Error("queue pass")
		}
	}); err != nil {
		logger.WithError(err).Fatal("schedule queue processor")
	}
	if _, err := scheduler.AddFunc("@every "+cfg.ExpirySweepInterval.String(), func() {
		sweeper.SweepOnce(workerCtx)
	}); err != nil {
		logger.WithError(err).Fatal("schedule expiry sweeper")
	}
	scheduler.Start()
	defer scheduler.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", transporthttp.HealthHandler)
	mux.Handle("/inventory", transporthttp.HandleEnsureInventory(inventorySvc))
	mux.Handle("/reservations", transporthttp.HandleCreateReservation(reservationSvc))
	mux.Handle("/reservations/confirm", transporthttp.HandleConfirmReservation(reservationSvc))
	mux.Handle("/reservations/release", transporthttp.HandleReleaseReservation(reservationSvc))
	mux.Handle("/reservations/convert", transporthttp.HandleConvertReservation(reservationSvc))
	mux.Handle("/schedules/commit", transporthttp.HandleCommitSchedule(reservationSvc))
	mux.Handle("/events", transporthttp.HandleIngestEvent(triggerSvc, clk))
	mux.Handle("/admin/notifications/failed", transporthttp.HandleAdminFailedNotifications(notificationSvc))
	mux.Handle("/admin/inventory/alerts", transporthttp.HandleAdminInventoryAlerts(inventorySvc))
	mux.Handle("/", transporthttp.NotFoundHandler())

	handler := transporthttp.RequestLogger(transporthttp.CORS(cfg.CORSOrigins, mux), logger)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	logger.WithField("port", cfg.Port).Info("api listening")

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server error")
		}
	case <-stopCtx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	stopWorkers()
	<-scheduler.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("server shutdown error")
	}
	logger.Info("server stopped")
}
