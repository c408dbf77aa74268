package scheduler

import (
	"context"
	"sort"
	"time"

	obscontext "github.com/smallbiznis/pixelcredit/internal/observability/context"
	obslogger "github.com/smallbiznis/pixelcredit/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pixelcredit/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun accumulates what one job invocation did, keyed by outcome
// ("committed", "refunded", "purged", ...), for the finish log line.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time
	outcomes  map[string]int
	errors    int
}

type jobRunKey struct{}

func (r *jobRun) Add(outcome string, count int) {
	if r == nil || count <= 0 {
		return
	}
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[outcome] += count
}

func (r *jobRun) IncError() {
	if r != nil {
		r.errors++
	}
}

func (r *jobRun) fields() []zap.Field {
	keys := make([]string, 0, len(r.outcomes))
	for k := range r.outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Int(k, r.outcomes[k]))
	}
	return out
}

// ensureJobRun reuses a run already on ctx so a job called from runJob
// logs start and finish once. The bool reports whether this call owns the run.
func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing, ok := ctx.Value(jobRunKey{}).(*jobRun); ok && existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithActor(ctx, obscontext.ActorTypeSystem, "scheduler:"+job)
	return ctx, run, true
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Debug("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

// logJobFinish stays at debug for idle runs so a quiet sweeper does not flood logs.
func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := append([]zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Duration("elapsed", s.clock.Now().Sub(run.startedAt)),
		zap.Int("errors", run.errors),
	}, run.fields()...)

	log := s.logger(ctx)
	switch {
	case run.errors > 0:
		log.Warn("scheduler.job.finish", fields...)
	case len(run.outcomes) == 0:
		log.Debug("scheduler.job.finish", fields...)
	default:
		log.Info("scheduler.job.finish", fields...)
	}
}

func (s *Scheduler) logJobError(ctx context.Context, run *jobRun, msg string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()
	fields = append(fields,
		zap.String("job", run.job),
		zap.String("error_type", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Error(err),
	)
	s.logger(ctx).Error(msg, fields...)
}
