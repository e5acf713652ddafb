package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config load error: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.Env)
	logger.WithFields(logrus.Fields{
		"env":      cfg.Env,
		"schedule": cfg.WorkerSchedule,
		"timezone": cfg.Location.String(),
	}).Info("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Expiry never creates bookings, so it needs neither the slot lock nor a
	// notification transport.
	repo := appointment.NewPgRepository(pgPool, cfg.Location)
	svc := appointment.NewService(repo, nil, nil, cfg,
		appointment.WithLogger(logger),
	)

	// Run once at startup
	runOnce(rootCtx, svc, logger)

	cronLogger := cron.PrintfLogger(logger)
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := c.AddFunc(cfg.WorkerSchedule, func() { runOnce(rootCtx, svc, logger) }); err != nil {
		logger.Fatalf("invalid WORKER_SCHEDULE %q: %v", cfg.WorkerSchedule, err)
	}
	c.Start()

	<-rootCtx.Done()
	logger.Info("shutdown signal received, stopping expiry worker")
	<-c.Stop().Done()
}

func runOnce(ctx context.Context, svc *appointment.Service, logger *logrus.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.ExpirePendingAppointments(runCtx)
	if err != nil {
		logger.WithError(err).Error("expiry run failed")
		return
	}
	logger.WithFields(logrus.Fields{
		"auto_rejected": n,
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Info("expiry run complete")
}
