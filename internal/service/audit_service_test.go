package service

import (
	"context"
	"testing"

	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/repository"
)

func TestAuditServiceRecordAndList(t *testing.T) {
	db := setupEngineDB(t)
	svc := NewAuditService(repository.NewAuditLogRepository(db))
	ctx := context.Background()

	target := uint(7)
	inputs := []AuditRecordInput{
		{ActorID: 1, ActorUsername: " root ", Action: AuditActionOperatorRoles, TargetOperatorID: &target, Detail: models.JSON{"roles": []string{"viewer"}}},
		{ActorID: 1, ActorUsername: "root", Action: AuditActionPartnerStatus, PartnerID: "basic-delivery", Method: "put"},
		{ActorID: 2, ActorUsername: "ops", Action: AuditActionMaintenanceArchive},
		// 缺少操作人时忽略
		{Action: AuditActionPolicyGrant},
		{ActorID: 3, Action: "  "},
	}
	for _, input := range inputs {
		if err := svc.Record(ctx, input); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	all, total, err := svc.List(ctx, repository.AuditLogListFilter{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("expected 3 audit rows, got total=%d len=%d", total, len(all))
	}
	if all[0].Action != AuditActionMaintenanceArchive {
		t.Fatalf("newest entry should come first, got %s", all[0].Action)
	}

	mine, total, err := svc.List(ctx, repository.AuditLogListFilter{ActorID: 1, PartnerID: "basic-delivery"})
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if total != 1 || mine[0].Method != "PUT" {
		t.Fatalf("unexpected filtered rows: %+v", mine)
	}

	byTarget, _, err := svc.List(ctx, repository.AuditLogListFilter{TargetOperatorID: target})
	if err != nil {
		t.Fatalf("target list failed: %v", err)
	}
	if len(byTarget) != 1 || byTarget[0].ActorUsername != "root" {
		t.Fatalf("unexpected target rows: %+v", byTarget)
	}
}
