package jobs

import (
	"context"
	"time"

	"crawlfleet/pkg/logger"

	"github.com/benbjohnson/clock"
)

// EventPurger deletes history older than a cutoff
type EventPurger interface {
	DeleteOldEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// Locker is the subset of a distributed lock a job needs to run on one replica only
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// ActivationRetentionJob deletes activation events older than the retention window
type ActivationRetentionJob struct {
	interval      time.Duration
	retentionDays int
	purger        EventPurger
	lock          Locker
	clock         clock.Clock
}

// NewActivationRetentionJob creates the retention job. lock may be nil.
func NewActivationRetentionJob(interval time.Duration, retentionDays int, purger EventPurger, lock Locker, clk clock.Clock) *ActivationRetentionJob {
	if clk == nil {
		clk = clock.New()
	}
	return &ActivationRetentionJob{
		interval:      interval,
		retentionDays: retentionDays,
		purger:        purger,
		lock:          lock,
		clock:         clk,
	}
}

func (j *ActivationRetentionJob) Name() string { return "activation-event-retention" }

func (j *ActivationRetentionJob) Interval() time.Duration { return j.interval }

func (j *ActivationRetentionJob) AlignToInterval() bool { return true }

func (j *ActivationRetentionJob) Run(ctx context.Context) error {
	if j.purger == nil || j.retentionDays <= 0 {
		return nil
	}

	if j.lock != nil {
		acquired, err := j.lock.TryLock(ctx)
		if err != nil || !acquired {
			logger.DebugCtx(ctx, "another instance is running activation retention, skipping this cycle")
			return nil
		}
		defer j.lock.Unlock(ctx)
	}

	before := j.clock.Now().AddDate(0, 0, -j.retentionDays)
	rows, err := j.purger.DeleteOldEvents(ctx, before)
	if err != nil {
		return err
	}
	if rows > 0 {
		logger.InfoCtx(ctx, "cleaned up %d activation events (older than %d days)", rows, j.retentionDays)
	}
	return nil
}
