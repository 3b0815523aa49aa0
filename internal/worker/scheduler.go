package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zk-express/agent-engine/internal/config"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/service"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	jobPerformanceRefresh = "performance_refresh"
	jobRetentionArchive   = "retention_archive"

	defaultJobTimeout = 10 * time.Minute
)

// PerformanceRefresher 伙伴绩效快照刷新
type PerformanceRefresher interface {
	RefreshPerformance(ctx context.Context, days int) (int, error)
}

// RetentionArchiver 过期分配记录归档
type RetentionArchiver interface {
	ArchiveExpired(ctx context.Context) (*service.RetentionReport, error)
}

type scheduledJob struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

// Scheduler 定时维护任务（秒级 cron 表达式）
type Scheduler struct {
	name       string
	cron       *cron.Cron
	jobs       []scheduledJob
	log        *zap.SugaredLogger
	jobTimeout time.Duration

	mu      sync.Mutex
	baseCtx context.Context
}

// NewScheduler 按维护配置注册任务，表达式为空的任务不注册
func NewScheduler(cfg config.MaintenanceConfig, refresher PerformanceRefresher, retention RetentionArchiver) (*Scheduler, error) {
	s := &Scheduler{
		name:       "scheduler",
		log:        logger.Component("scheduler"),
		jobTimeout: defaultJobTimeout,
		baseCtx:    context.Background(),
	}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger.StdLogger()))),
	)

	if refresher != nil && strings.TrimSpace(cfg.PerformanceRefreshSpec) != "" {
		days := cfg.PerformanceWindowDays
		s.jobs = append(s.jobs, scheduledJob{
			name: jobPerformanceRefresh,
			spec: cfg.PerformanceRefreshSpec,
			run: func(ctx context.Context) error {
				refreshed, err := refresher.RefreshPerformance(ctx, days)
				if err != nil {
					return err
				}
				logger.Infow("scheduler_performance_refreshed", "partners", refreshed, "days", days)
				return nil
			},
		})
	}
	if retention != nil && strings.TrimSpace(cfg.RetentionSpec) != "" {
		s.jobs = append(s.jobs, scheduledJob{
			name: jobRetentionArchive,
			spec: cfg.RetentionSpec,
			run: func(ctx context.Context) error {
				report, err := retention.ArchiveExpired(ctx)
				if err != nil {
					return err
				}
				logger.Infow("scheduler_retention_archived",
					"scanned", report.Scanned,
					"archived", report.Archived,
					"capacity_released", report.CapacityReleased,
					"truncated", report.BatchesTruncated,
				)
				return nil
			},
		})
	}
	if len(s.jobs) == 0 {
		return nil, errors.New("no maintenance jobs configured")
	}

	for _, job := range s.jobs {
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() { s.runJob(job) }); err != nil {
			return nil, fmt.Errorf("register job %s (%q): %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

// Name 服务名称
func (s *Scheduler) Name() string {
	if s == nil || s.name == "" {
		return "scheduler"
	}
	return s.name
}

// Start 启动调度并阻塞到 ctx 结束
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil || s.cron == nil {
		return errors.New("scheduler not initialized")
	}
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		s.log.Infow("scheduler_job_registered", "entry_id", entry.ID, "next", entry.Next)
	}
	<-ctx.Done()
	return nil
}

// Stop 停止调度，等待运行中的任务结束
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil || s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) runJob(job scheduledJob) {
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.jobTimeout)
	defer cancel()

	started := time.Now()
	if err := job.run(ctx); err != nil {
		s.log.Errorw("scheduler_job_failed", "job", job.name, "error", err, "elapsed", time.Since(started))
		return
	}
	s.log.Debugw("scheduler_job_finished", "job", job.name, "elapsed", time.Since(started))
}
