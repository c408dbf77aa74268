package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixelcredit/internal/clock"
	ledgerdomain "github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/pixelcredit/internal/observability/metrics"
	"github.com/smallbiznis/pixelcredit/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobReservationSweep = "reservation_sweep"
	JobSessionCleanup   = "session_cleanup"

	lockKeyPrefix = "pixelcredit:scheduler:"
)

var ErrInvalidConfig = errors.New("scheduler: invalid config")

// Locker guards a job so only one instance runs it at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// SessionPurger removes expired login sessions.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	LedgerSvc ledgerdomain.Service
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    Config            `optional:"true"`
	Locker    *ratelimit.Locker `optional:"true"`
	Sessions  SessionPurger     `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	ledgerSvc ledgerdomain.Service
	locker    Locker
	sessions  SessionPurger
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.LedgerSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		ledgerSvc: p.LedgerSvc,
		sessions:  p.Sessions,
	}
	if p.Locker != nil {
		s.locker = p.Locker
	}
	return s, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := s.withLock(ctx, name, fn)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errors == 0 && !errors.Is(err, obsmetrics.ErrSchedulerLockHeld) {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	schedMetrics.IncJobError(name, err)
	if errors.Is(err, obsmetrics.ErrSchedulerLockHeld) {
		log.Debug("job skipped, lock held by another instance")
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the rest
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// withLock runs fn under the distributed job lock. Without redis every instance runs the job;
// the ledger's conditional transitions keep concurrent sweeps safe.
func (s *Scheduler) withLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	key := lockKeyPrefix + name
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, ratelimit.ErrLockNotConfigured) {
			return fn(ctx)
		}
		s.logger(ctx).Warn("scheduler lock unavailable, running unlocked", zap.String("job", name), zap.Error(err))
		return fn(ctx)
	}
	if !ok {
		return obsmetrics.ErrSchedulerLockHeld
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.logger(ctx).Warn("failed to release scheduler lock", zap.String("job", name), zap.Error(err))
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobReservationSweep, s.ReservationSweepJob},
		{JobSessionCleanup, s.SessionCleanupJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ReservationSweepJob settles reservations left in reserved state by crashed or
// abandoned generations. It drains batches until a short batch comes back.
func (s *Scheduler) ReservationSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReservationSweep, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	var jobErr error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		result, err := s.ledgerSvc.ResolveStale(ctx, s.cfg.StaleAfter, s.cfg.BatchSize)
		if err != nil {
			s.logJobError(ctx, run, "reservation sweep failed", err)
			return errors.Join(jobErr, err)
		}

		for outcome, count := range map[string]int{
			"committed": result.Committed,
			"refunded":  result.Refunded,
			"skipped":   result.Skipped,
			"failed":    result.Failed,
		} {
			run.Add(outcome, count)
			schedMetrics.AddBatchProcessed(JobReservationSweep, outcome, count)
		}
		if result.Failed > 0 {
			failedErr := fmt.Errorf("%d reservations could not be settled", result.Failed)
			s.logJobError(ctx, run, "reservation sweep incomplete", failedErr, zap.Int("scanned", result.Scanned))
			jobErr = errors.Join(jobErr, failedErr)
			// failures stay reserved; looping again would rescan them
			return jobErr
		}
		if result.Scanned < s.cfg.BatchSize {
			return jobErr
		}
	}
}

func (s *Scheduler) SessionCleanupJob(ctx context.Context) error {
	if s.sessions == nil {
		return nil
	}
	ctx, run, owner := s.ensureJobRun(ctx, JobSessionCleanup, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	purged, err := s.sessions.PurgeExpired(ctx)
	if err != nil {
		s.logJobError(ctx, run, "session cleanup failed", err)
		return err
	}
	run.Add("purged", int(purged))
	obsmetrics.Scheduler().AddBatchProcessed(JobSessionCleanup, "purged", int(purged))
	return nil
}
