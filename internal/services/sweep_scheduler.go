package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduled job names, also used as lock names
const (
	JobExpireHolds          = "expire-holds"
	JobSweepStalePayments   = "sweep-stale-payments"
	JobBackfillPackageGrant = "backfill-package-grants"
)

// SweepSchedulerConfig holds cron specs (with seconds field) for each job
type SweepSchedulerConfig struct {
	HoldExpirySchedule    string
	StalePaymentSchedule  string
	GrantBackfillSchedule string
	LockTTL               time.Duration
}

// SweepScheduler runs the maintenance jobs on every replica's cron; the
// sweep lock lets only one replica act on each tick
type SweepScheduler struct {
	cron       *cron.Cron
	holds      *HoldService
	reconciler *ReconciliationService
	lock       SweepLock
	config     SweepSchedulerConfig
	logger     *logrus.Logger
	jobs       map[string]func(ctx context.Context) error
}

// NewSweepScheduler creates a new scheduler
func NewSweepScheduler(
	holds *HoldService,
	reconciler *ReconciliationService,
	lock SweepLock,
	config SweepSchedulerConfig,
	logger *logrus.Logger,
) *SweepScheduler {
	if config.LockTTL <= 0 {
		config.LockTTL = 2 * time.Minute
	}
	if lock == nil {
		lock = NoopSweepLock{}
	}

	// Seconds precision; a tick is skipped while the previous run is still going
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	s := &SweepScheduler{
		cron:       c,
		holds:      holds,
		reconciler: reconciler,
		lock:       lock,
		config:     config,
		logger:     logger,
	}
	s.jobs = map[string]func(ctx context.Context) error{
		JobExpireHolds:          s.expireHoldsJob,
		JobSweepStalePayments:   s.sweepStalePaymentsJob,
		JobBackfillPackageGrant: s.backfillGrantsJob,
	}
	return s
}

// Start registers all jobs and starts the cron
func (s *SweepScheduler) Start() error {
	schedules := []struct {
		spec string
		name string
	}{
		{s.config.HoldExpirySchedule, JobExpireHolds},
		{s.config.StalePaymentSchedule, JobSweepStalePayments},
		{s.config.GrantBackfillSchedule, JobBackfillPackageGrant},
	}

	for _, sched := range schedules {
		if sched.spec == "" {
			s.logger.WithField("job", sched.name).Warn("Job has no schedule; not registered")
			continue
		}
		name := sched.name
		if _, err := s.cron.AddFunc(sched.spec, func() { s.run(name) }); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", name, err)
		}
		s.logger.WithFields(logrus.Fields{"job": name, "schedule": sched.spec}).Info("Scheduled job")
	}

	s.cron.Start()
	s.logger.Info("Sweep scheduler started")
	return nil
}

// Stop stops the cron and waits for running jobs to finish
func (s *SweepScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Sweep scheduler stopped")
}

// RunOnce runs a job immediately under the lock, for tooling and tests.
// It reports false when another replica held the lock.
func (s *SweepScheduler) RunOnce(ctx context.Context, name string) (bool, error) {
	job, ok := s.jobs[name]
	if !ok {
		return false, fmt.Errorf("unknown job %q", name)
	}

	release, acquired, err := s.lock.Acquire(ctx, name, s.config.LockTTL)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		// Release with a fresh context so a cancelled job still frees the lease
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			s.logger.WithField("job", name).WithError(err).Warn("Failed to release sweep lock")
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, s.config.LockTTL)
	defer cancel()
	return true, job(jobCtx)
}

// GetJobStatus returns the status of scheduled jobs
func (s *SweepScheduler) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}

func (s *SweepScheduler) run(name string) {
	log := s.logger.WithField("job", name)
	start := time.Now()

	ran, err := s.RunOnce(context.Background(), name)
	switch {
	case err != nil:
		log.WithError(err).Error("[CRON] Job failed")
	case !ran:
		log.Debug("[CRON] Lock held elsewhere; skipping tick")
	default:
		log.WithField("duration", time.Since(start).String()).Debug("[CRON] Job finished")
	}
}

func (s *SweepScheduler) expireHoldsJob(ctx context.Context) error {
	_, err := s.holds.ExpireHolds(ctx, s.holds.now())
	return err
}

func (s *SweepScheduler) sweepStalePaymentsJob(ctx context.Context) error {
	_, err := s.reconciler.SweepStalePayments(ctx)
	return err
}

func (s *SweepScheduler) backfillGrantsJob(ctx context.Context) error {
	_, err := s.reconciler.BackfillPackageGrants(ctx, 0)
	return err
}
