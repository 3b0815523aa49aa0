package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zk-express/agent-engine/internal/config"
	"github.com/zk-express/agent-engine/internal/service"
)

type countingRefresher struct {
	mu    sync.Mutex
	days  []int
	err   error
	calls int
}

func (r *countingRefresher) RefreshPerformance(_ context.Context, days int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.days = append(r.days, days)
	return 3, r.err
}

func (r *countingRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type stubRetention struct {
	calls int
}

func (s *stubRetention) ArchiveExpired(context.Context) (*service.RetentionReport, error) {
	s.calls++
	return &service.RetentionReport{Scanned: 4, Archived: 4}, nil
}

func TestNewSchedulerRegistersConfiguredJobs(t *testing.T) {
	cfg := config.MaintenanceConfig{
		PerformanceRefreshSpec: "0 0 * * * *",
		PerformanceWindowDays:  14,
		RetentionSpec:          "",
	}
	refresher := &countingRefresher{}
	s, err := NewScheduler(cfg, refresher, &stubRetention{})
	if err != nil {
		t.Fatalf("new scheduler failed: %v", err)
	}
	if len(s.jobs) != 1 || s.jobs[0].name != jobPerformanceRefresh {
		t.Fatalf("empty retention spec must disable that job, got %+v", s.jobs)
	}
	if len(s.cron.Entries()) != 1 {
		t.Fatalf("expected one cron entry, got %d", len(s.cron.Entries()))
	}

	s.runJob(s.jobs[0])
	if refresher.count() != 1 || refresher.days[0] != 14 {
		t.Fatalf("refresh should run with the configured window, got %+v", refresher.days)
	}
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	cfg := config.MaintenanceConfig{RetentionSpec: "every night"}
	if _, err := NewScheduler(cfg, nil, &stubRetention{}); err == nil {
		t.Fatalf("invalid cron spec must be rejected")
	}
	if _, err := NewScheduler(config.MaintenanceConfig{}, nil, nil); err == nil {
		t.Fatalf("scheduler without jobs must be rejected")
	}
}

func TestSchedulerJobFailureIsContained(t *testing.T) {
	refresher := &countingRefresher{err: errors.New("db down")}
	retention := &stubRetention{}
	s, err := NewScheduler(config.MaintenanceConfig{
		PerformanceRefreshSpec: "0 0 * * * *",
		RetentionSpec:          "0 30 3 * * *",
	}, refresher, retention)
	if err != nil {
		t.Fatalf("new scheduler failed: %v", err)
	}
	for _, job := range s.jobs {
		s.runJob(job)
	}
	if refresher.count() != 1 || retention.calls != 1 {
		t.Fatalf("both jobs should run once, got refresh=%d retention=%d", refresher.count(), retention.calls)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	refresher := &countingRefresher{}
	s, err := NewScheduler(config.MaintenanceConfig{PerformanceRefreshSpec: "* * * * * *"}, refresher, nil)
	if err != nil {
		t.Fatalf("new scheduler failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for refresher.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("start returned error: %v", err)
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if refresher.count() == 0 {
		t.Fatalf("every-second job should have fired at least once")
	}
}
