package service

import (
	"context"
	"fmt"
	"time"

	"github.com/zk-express/agent-engine/internal/archive"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/repository"

	"github.com/google/uuid"
)

const (
	defaultRetentionDays      = 90
	defaultRetentionBatchSize = 500
	maxRetentionBatches       = 20
)

// RetentionReport 一次归档执行的结果
type RetentionReport struct {
	Cutoff           time.Time `json:"cutoff"`
	Scanned          int       `json:"scanned"`
	Archived         int64     `json:"archived"`
	CapacityReleased int       `json:"capacity_released"`
	Locations        []string  `json:"locations,omitempty"`
	BatchesTruncated bool      `json:"batches_truncated"`
}

// RetentionService 终态分配记录的归档（只标记不删除）
type RetentionService struct {
	repo      repository.AllocationRepository
	lifecycle *AllocationLifecycleService
	archiver  archive.Archiver
	days      int
	batchSize int
	now       func() time.Time
}

// NewRetentionService 创建归档服务
func NewRetentionService(repo repository.AllocationRepository, lifecycle *AllocationLifecycleService, archiver archive.Archiver, days, batchSize int) *RetentionService {
	if archiver == nil {
		archiver = archive.NoopArchiver{}
	}
	if days <= 0 {
		days = defaultRetentionDays
	}
	if batchSize <= 0 {
		batchSize = defaultRetentionBatchSize
	}
	return &RetentionService{
		repo:      repo,
		lifecycle: lifecycle,
		archiver:  archiver,
		days:      days,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// ArchiveExpired 归档超出保留期的终态记录；先上传再标记，上传失败时本批不标记
func (s *RetentionService) ArchiveExpired(ctx context.Context) (*RetentionReport, error) {
	report := &RetentionReport{Cutoff: s.now().Add(-time.Duration(s.days) * 24 * time.Hour)}
	repo := s.repo.WithContext(ctx)
	for batch := 0; batch < maxRetentionBatches; batch++ {
		records, err := repo.ListArchivable(report.Cutoff, TerminalAllocationStatuses(), s.batchSize)
		if err != nil {
			return report, err
		}
		if len(records) == 0 {
			return report, nil
		}
		report.Scanned += len(records)

		// 补做遗漏的容量释放
		if s.lifecycle != nil {
			for i := range records {
				released, err := s.lifecycle.ReleaseCapacity(ctx, &records[i])
				if err != nil {
					return report, err
				}
				if released {
					report.CapacityReleased++
				}
			}
		}

		location, err := s.archiver.ArchiveAllocations(ctx, uuid.NewString(), records)
		if err != nil {
			return report, fmt.Errorf("archive batch: %w", err)
		}
		if location != "" {
			report.Locations = append(report.Locations, location)
		}
		ids := make([]string, 0, len(records))
		for i := range records {
			ids = append(ids, records[i].ID)
		}
		marked, err := repo.MarkArchived(ids, s.now())
		if err != nil {
			return report, err
		}
		report.Archived += marked
		logger.Infow("retention_batch_archived",
			"records", len(records),
			"marked", marked,
			"location", location,
		)
		if len(records) < s.batchSize {
			return report, nil
		}
	}
	report.BatchesTruncated = true
	return report, nil
}
