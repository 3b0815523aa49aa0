package service

import (
	"context"
	"errors"
	"testing"

	"github.com/zk-express/agent-engine/internal/constants"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/repository"
)

func setupLedgerService(t *testing.T) (*LedgerService, *repository.GormLedgerRepository) {
	t.Helper()
	db := setupEngineDB(t)
	repo := repository.NewLedgerRepository(db)
	return NewLedgerService(repo, 0), repo
}

func TestAdjustReputationClampsAtZero(t *testing.T) {
	svc, _ := setupLedgerService(t)
	ctx := context.Background()

	if _, err := svc.AdjustReputation(ctx, AdjustReputationInput{UserID: "u1", Delta: 10}); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	receipt, err := svc.AdjustReputation(ctx, AdjustReputationInput{UserID: "u1", Delta: -25})
	if err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if receipt.Reputation != 0 || !receipt.Clamped || receipt.Applied != -10 || receipt.Previous != 10 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	current, err := svc.GetUserReputation(ctx, "u1")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if current != 0 {
		t.Fatalf("expected 0, got %d", current)
	}
}

func TestAdjustReputationZeroDeltaIsNoop(t *testing.T) {
	svc, repo := setupLedgerService(t)
	receipt, err := svc.AdjustReputation(context.Background(), AdjustReputationInput{UserID: "u2", Delta: 0})
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if receipt.Applied != 0 || receipt.EntryID != "" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	account, err := repo.GetAccount("u2")
	if err != nil {
		t.Fatalf("get account failed: %v", err)
	}
	if account != nil {
		t.Fatalf("zero delta must not create an account")
	}
	entries, err := repo.ListEntries("u2", 10)
	if err != nil {
		t.Fatalf("list entries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("zero delta must not write ledger entries, got %d", len(entries))
	}
}

func TestAdjustReputationReferenceIsIdempotent(t *testing.T) {
	svc, _ := setupLedgerService(t)
	ctx := context.Background()
	input := AdjustReputationInput{UserID: "u3", Delta: 15, Reference: "order-9:order_completed"}

	first, err := svc.AdjustReputation(ctx, input)
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	second, err := svc.AdjustReputation(ctx, input)
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if !second.Duplicate || second.EntryID != first.EntryID || second.Reputation != 15 {
		t.Fatalf("expected duplicate receipt, got %+v", second)
	}
	current, _ := svc.GetUserReputation(ctx, "u3")
	if current != 15 {
		t.Fatalf("reference replay changed reputation: %d", current)
	}
}

func TestLedgerOrderTransitions(t *testing.T) {
	svc, _ := setupLedgerService(t)
	ctx := context.Background()

	order, created, err := svc.CreateOrder(ctx, CreateLedgerOrderInput{
		OrderID:     "o-1",
		UserID:      "u4",
		OrderValue:  models.NewMoneyFromFloat(99.5),
		Destination: "Lagos",
	})
	if err != nil || !created {
		t.Fatalf("create order failed: %v created=%v", err, created)
	}
	if order.Status != constants.LedgerOrderStatusCreated || !order.IsActive {
		t.Fatalf("unexpected new order: %+v", order)
	}

	failed, err := svc.RecordDeliveryFailure(ctx, "o-1", "customer_absent")
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	failed, err = svc.RecordDeliveryFailure(ctx, "o-1", "")
	if err != nil {
		t.Fatalf("record second failure: %v", err)
	}
	if failed.DeliveryAttempts != 2 || failed.FailureReason != constants.FailureReasonOther || failed.IsActive {
		t.Fatalf("unexpected failed order: %+v", failed)
	}
	if _, err := svc.MarkCompleted(ctx, "o-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := svc.RecordDeliveryFailure(ctx, "o-1", "NONE"); !errors.Is(err, ErrValidation) {
		t.Fatalf("NONE is not a failure reason, got %v", err)
	}

	if _, _, err := svc.CreateOrder(ctx, CreateLedgerOrderInput{OrderID: "o-2", UserID: "u4", Destination: "Kano"}); err != nil {
		t.Fatalf("create second order: %v", err)
	}
	if _, err := svc.MarkCompleted(ctx, "o-2"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := svc.RecordProductReturn(ctx, "o-2", "damaged"); err != nil {
		t.Fatalf("return after completion: %v", err)
	}
	if _, err := svc.MarkCompleted(ctx, "o-2"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("returned order must be terminal, got %v", err)
	}
	if _, err := svc.MarkCompleted(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	stats, err := svc.GetUserBehaviorStats(ctx, "u4")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalOrders != 2 || stats.ReturnedOrders != 1 || stats.DeliveryFailures != 1 || stats.CompletedOrders != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(stats.RecentOrders) != 2 {
		t.Fatalf("expected recent orders, got %d", len(stats.RecentOrders))
	}
}

func TestCreateOrderDuplicate(t *testing.T) {
	svc, _ := setupLedgerService(t)
	ctx := context.Background()
	input := CreateLedgerOrderInput{OrderID: "dup", UserID: "u5", Destination: "Kano"}
	if _, _, err := svc.CreateOrder(ctx, input); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	again, created, err := svc.CreateOrder(ctx, input)
	if err != nil || created || again.OrderID != "dup" {
		t.Fatalf("duplicate should return existing order, got %+v created=%v err=%v", again, created, err)
	}
	input.UserID = "someone-else"
	if _, _, err := svc.CreateOrder(ctx, input); !errors.Is(err, ErrOrderExists) {
		t.Fatalf("expected order exists, got %v", err)
	}
}
