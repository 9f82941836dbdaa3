package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	"github.com/smallbiznis/greenpm/internal/clock"
	leasedomain "github.com/smallbiznis/greenpm/internal/lease/domain"
	obscontext "github.com/smallbiznis/greenpm/internal/observability/context"
	obslogger "github.com/smallbiznis/greenpm/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/greenpm/internal/observability/metrics"
	"github.com/smallbiznis/greenpm/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobExpireLeases   = "expire_leases"
	JobPurgeAuditLogs = "purge_audit_logs"

	runLockKey = "greenpm:scheduler:run"
)

type leaseExpirer interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

type auditPurger interface {
	PurgeExpired(ctx context.Context, limit int) (int64, error)
}

type runLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Leases  leasedomain.Service
	Audit   auditdomain.Service
	Locker  *ratelimit.Locker   `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
	Clock   clock.Clock         `optional:"true"`
	Config  Config              `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *obsmetrics.Metrics
	leases  leaseExpirer
	audit   auditPurger
	locker  runLocker
}

func New(p Params) (*Scheduler, error) {
	if p.Leases == nil || p.Audit == nil {
		return nil, errors.New("scheduler: lease and audit services are required")
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	s := &Scheduler{
		log:     p.Log.Named("scheduler"),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   clk,
		metrics: p.Metrics,
		leases:  p.Leases,
		audit:   p.Audit,
	}
	// A nil *Locker must not become a non-nil interface.
	if p.Locker != nil {
		s.locker = p.Locker
	}
	return s, nil
}

type jobRun struct {
	job            string
	runID          string
	batchSize      int
	startedAt      time.Time
	processedCount int
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	run := &jobRun{
		job:       name,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	log.Info("scheduler.job.start", zap.Int("batch_size", batchSize))

	err := fn(ctx, run)
	fields := []zap.Field{
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
	}
	if err == nil {
		s.metrics.RecordSchedulerJob(ctx, name, "success")
		log.Info("scheduler.job.finish", fields...)
		return nil
	}

	// Deadline is a soft timeout; the next tick picks up where this one stopped.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.RecordSchedulerJob(ctx, name, "timeout")
		log.Warn("job timed out", append(fields, zap.Duration("timeout", s.cfg.JobTimeout), zap.Error(err))...)
		return nil
	}

	s.metrics.RecordSchedulerJob(ctx, name, "error")
	log.Warn("scheduler.job.finish", append(fields, zap.Error(err))...)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(parent, runLockKey, s.cfg.LockTTL)
		switch {
		case err != nil:
			s.log.Warn("scheduler lock unavailable, running unlocked", zap.Error(err))
		case !ok:
			s.log.Debug("scheduler run held by another instance")
			return nil
		default:
			defer func() {
				if err := s.locker.Release(context.Background(), runLockKey, token); err != nil {
					s.log.Warn("failed to release scheduler lock", zap.Error(err))
				}
			}()
		}
	}

	jobs := []struct {
		Name string
		Run  func(context.Context, *jobRun) error
	}{
		{JobExpireLeases, s.ExpireLeasesJob},
		{JobPurgeAuditLogs, s.PurgeAuditLogsJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, job.Run))
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

func (s *Scheduler) ExpireLeasesJob(ctx context.Context, run *jobRun) error {
	expired, err := s.leases.ExpireDue(ctx, run.batchSize)
	run.AddProcessed(expired)
	return err
}

func (s *Scheduler) PurgeAuditLogsJob(ctx context.Context, run *jobRun) error {
	removed, err := s.audit.PurgeExpired(ctx, run.batchSize)
	run.AddProcessed(int(removed))
	return err
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// If EnabledJobs is empty, all jobs are enabled by default.
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
