package main

import (
	"time"

	"crawlfleet/internal/jobs"
	"crawlfleet/pkg/autoscaler"
	"crawlfleet/pkg/logger"
)

const (
	retentionInterval = 24 * time.Hour
	retentionLockKey  = "crawlfleet:cleanup:activation-retention-lock"
)

func (app *Application) initJobs() error {
	if app.mysqlRepo == nil {
		logger.InfoCtx(app.ctx, "Activation history disabled, skipping background task registration")
		return nil
	}

	manager := jobs.NewManager(app.ctx, nil)

	// Prevents multiple replicas from purging simultaneously; without Redis the lock runs in single-instance mode
	retentionLock := autoscaler.NewRedisDistributedLock(app.rawRedisClient(), retentionLockKey, time.Hour)

	manager.Register(jobs.NewActivationRetentionJob(
		retentionInterval,
		app.config.MySQL.RetentionDays,
		app.mysqlRepo.ActivationEvent,
		retentionLock,
		nil,
	))

	app.jobsManager = manager
	return nil
}
