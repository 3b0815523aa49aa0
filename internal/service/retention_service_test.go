package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zk-express/agent-engine/internal/cache"
	"github.com/zk-express/agent-engine/internal/constants"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/repository"
)

type recordingArchiver struct {
	batches [][]models.OrderAllocation
	err     error
}

func (a *recordingArchiver) ArchiveAllocations(_ context.Context, batchID string, records []models.OrderAllocation) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.batches = append(a.batches, records)
	return fmt.Sprintf("s3://archive/%s.jsonl", batchID), nil
}

func TestArchiveExpiredMarksOnlyOldTerminalRecords(t *testing.T) {
	db := setupEngineDB(t)
	ctx := context.Background()
	repo := repository.NewAllocationRepository(db)
	partners := NewPartnerService(repository.NewPartnerRepository(db), cache.NewMemoryCapacityStore())
	lifecycle := NewAllocationLifecycleService(repo, partners, nil, 0)

	old := time.Now().Add(-120 * 24 * time.Hour)
	lifecycle.now = func() time.Time { return old }
	delivered, _ := lifecycle.CreateAllocation(ctx, testDecision("old-delivered", "p"))
	stale, _ := lifecycle.CreateAllocation(ctx, testDecision("old-stale", "p"))
	if _, err := lifecycle.CreateAllocation(ctx, testDecision("old-open", "p")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := lifecycle.UpdateStatus(ctx, delivered.ID, UpdateAllocationStatusInput{Status: constants.AllocationStatusFailed}); err != nil {
		t.Fatalf("fail allocation: %v", err)
	}
	// 模拟容量释放遗漏
	if _, err := repo.TransitionStatus(stale.ID, constants.AllocationStatusAllocated, map[string]interface{}{"status": constants.AllocationStatusReturned}); err != nil {
		t.Fatalf("raw transition failed: %v", err)
	}
	lifecycle.now = time.Now
	recent, _ := lifecycle.CreateAllocation(ctx, testDecision("recent", "p"))
	if _, err := lifecycle.UpdateStatus(ctx, recent.ID, UpdateAllocationStatusInput{Status: constants.AllocationStatusReturned}); err != nil {
		t.Fatalf("return allocation: %v", err)
	}
	if got := capacityOf(t, partners, "p"); got != 2 {
		t.Fatalf("expected open and stale in flight, got %d", got)
	}

	archiver := &recordingArchiver{}
	svc := NewRetentionService(repo, lifecycle, archiver, 90, 0)
	report, err := svc.ArchiveExpired(ctx)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if report.Scanned != 2 || report.Archived != 2 || report.CapacityReleased != 1 || report.BatchesTruncated {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Locations) != 1 || len(archiver.batches) != 1 {
		t.Fatalf("expected one uploaded batch, got %v", report.Locations)
	}
	if got := capacityOf(t, partners, "p"); got != 1 {
		t.Fatalf("stale capacity should be reconciled, got %d", got)
	}
	stored, _ := repo.GetByID(recent.ID)
	if stored.ArchivedAt != nil {
		t.Fatalf("recent record must not be archived")
	}

	again, err := svc.ArchiveExpired(ctx)
	if err != nil || again.Scanned != 0 {
		t.Fatalf("second run should find nothing: %+v %v", again, err)
	}
}

func TestArchiveExpiredUploadFailureLeavesRecordsUnmarked(t *testing.T) {
	db := setupEngineDB(t)
	ctx := context.Background()
	repo := repository.NewAllocationRepository(db)
	lifecycle := NewAllocationLifecycleService(repo, NewPartnerService(repository.NewPartnerRepository(db), cache.NewMemoryCapacityStore()), nil, 0)
	lifecycle.now = func() time.Time { return time.Now().Add(-200 * 24 * time.Hour) }
	allocation, _ := lifecycle.CreateAllocation(ctx, testDecision("old", "p"))
	if _, err := lifecycle.UpdateStatus(ctx, allocation.ID, UpdateAllocationStatusInput{Status: constants.AllocationStatusFailed}); err != nil {
		t.Fatalf("fail allocation: %v", err)
	}

	uploadErr := errors.New("bucket unreachable")
	svc := NewRetentionService(repo, lifecycle, &recordingArchiver{err: uploadErr}, 90, 10)
	if _, err := svc.ArchiveExpired(ctx); !errors.Is(err, uploadErr) {
		t.Fatalf("expected upload error, got %v", err)
	}
	stored, _ := repo.GetByID(allocation.ID)
	if stored.ArchivedAt != nil {
		t.Fatalf("failed upload must not mark records")
	}
}
