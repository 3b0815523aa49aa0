package service

import (
	"context"
	"errors"
	"testing"

	"github.com/zk-express/agent-engine/internal/cache"
	"github.com/zk-express/agent-engine/internal/constants"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/queue"
	"github.com/zk-express/agent-engine/internal/repository"
)

type workflowFixture struct {
	workflow *OrderWorkflowService
	ledger   *LedgerService
	partners *PartnerService
	notifier *recordingNotifier
}

func setupWorkflow(t *testing.T) workflowFixture {
	t.Helper()
	db := setupEngineDB(t)
	ctx := context.Background()
	ledger := NewLedgerService(repository.NewLedgerRepository(db), 0)
	partners := NewPartnerService(repository.NewPartnerRepository(db), cache.NewMemoryCapacityStore())
	if _, err := partners.SeedDefaultPartners(ctx); err != nil {
		t.Fatalf("seed partners failed: %v", err)
	}
	notifier := &recordingNotifier{}
	lifecycle := NewAllocationLifecycleService(repository.NewAllocationRepository(db), partners, notifier, 0)
	queueClient, err := queue.NewClient(nil)
	if err != nil {
		t.Fatalf("queue client failed: %v", err)
	}
	workflow := NewOrderWorkflowService(
		ledger,
		NewDecisionEngine(ledger, nil),
		NewAllocationEngine(ledger, partners, nil),
		lifecycle,
		queueClient,
	)
	return workflowFixture{workflow: workflow, ledger: ledger, partners: partners, notifier: notifier}
}

func TestWorkflowOrderLifecycle(t *testing.T) {
	f := setupWorkflow(t)
	ctx := context.Background()
	input := CreateOrderInput{
		OrderID:         "wf-1",
		UserID:          "buyer",
		OrderValue:      models.NewMoneyFromFloat(250),
		ProductCategory: "books",
		Destination:     "Pune",
	}

	created, err := f.workflow.CreateOrder(ctx, input)
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if !created.Created || created.Reputation == nil || created.Reputation.Receipt == nil {
		t.Fatalf("expected synchronous reputation receipt: %+v", created)
	}
	if created.Reputation.Score.ReputationChange != 8 || created.Reputation.Receipt.Reputation != 8 {
		t.Fatalf("purchase fallback should award 8, got %+v", created.Reputation.Score)
	}
	if created.Allocation == nil || created.Allocation.PartnerID != "basic-delivery" {
		t.Fatalf("expected basic-delivery allocation, got %+v", created.Allocation)
	}
	if created.Allocation.Method != constants.AllocationMethodRuleFallback || created.Allocation.UserReputation != 8 {
		t.Fatalf("unexpected allocation: %+v", created.Allocation)
	}

	repeated, err := f.workflow.CreateOrder(ctx, input)
	if err != nil {
		t.Fatalf("repeat create failed: %v", err)
	}
	if repeated.Created || repeated.Allocation == nil || repeated.Allocation.ID != created.Allocation.ID || repeated.Reputation != nil {
		t.Fatalf("repeat must return stored allocation without rescoring: %+v", repeated)
	}
	if reputation, _ := f.ledger.GetUserReputation(ctx, "buyer"); reputation != 8 {
		t.Fatalf("repeat must not change reputation, got %d", reputation)
	}
	if got := capacityOf(t, f.partners, "basic-delivery"); got != 1 {
		t.Fatalf("expected one in-flight order, got %d", got)
	}

	completed, err := f.workflow.CompleteOrder(ctx, CompleteInput{
		OrderID:  "wf-1",
		UserID:   "buyer",
		Feedback: &AllocationFeedback{CustomerRating: float64Ptr(5)},
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if completed.Reputation.Receipt.Reputation != 33 {
		t.Fatalf("expected reputation 33, got %d", completed.Reputation.Receipt.Reputation)
	}
	if completed.Allocation.Status != constants.AllocationStatusDelivered || completed.Order.Status != constants.LedgerOrderStatusCompleted {
		t.Fatalf("unexpected states: order=%s allocation=%s", completed.Order.Status, completed.Allocation.Status)
	}
	if got := capacityOf(t, f.partners, "basic-delivery"); got != 0 {
		t.Fatalf("delivered allocation must release capacity, got %d", got)
	}
	if f.notifier.count(constants.LifecycleEventAllocationStatusChanged) != 2 {
		t.Fatalf("expected in_transit and delivered events")
	}

	view, err := f.workflow.GetOrderWithAllocation(ctx, "wf-1")
	if err != nil || view.Allocation == nil || view.Allocation.ID != created.Allocation.ID {
		t.Fatalf("unexpected order view: %+v %v", view, err)
	}
}

func TestWorkflowRefusedDeliveryClampsReputation(t *testing.T) {
	f := setupWorkflow(t)
	ctx := context.Background()
	if _, err := f.workflow.CreateOrder(ctx, CreateOrderInput{OrderID: "wf-2", UserID: "refuser", Destination: "Pune"}); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	result, err := f.workflow.RecordDeliveryFailure(ctx, DeliveryFailureInput{OrderID: "wf-2", UserID: "refuser", Reason: "customer_refused"})
	if err != nil {
		t.Fatalf("record failure failed: %v", err)
	}
	if result.Reputation.Score.EventType != constants.EventDeliveryFailedRefused || result.Reputation.Score.ReputationChange != -25 {
		t.Fatalf("unexpected score: %+v", result.Reputation.Score)
	}
	if result.Reputation.Receipt.Reputation != 0 || !result.Reputation.Receipt.Clamped {
		t.Fatalf("reputation must clamp at zero: %+v", result.Reputation.Receipt)
	}
	if result.Allocation.Status != constants.AllocationStatusFailed || result.Allocation.FailureReason != constants.FailureReasonCustomerRefused {
		t.Fatalf("allocation should be failed: %+v", result.Allocation)
	}

	// 再次失败：新的尝试次数产生新的引用，分配保持失败
	again, err := f.workflow.RecordDeliveryFailure(ctx, DeliveryFailureInput{OrderID: "wf-2", UserID: "refuser", Reason: "address_issue"})
	if err != nil {
		t.Fatalf("second failure failed: %v", err)
	}
	if again.Reputation.Score.EventType != constants.EventDeliveryFailedAbsent || again.Order.DeliveryAttempts != 2 {
		t.Fatalf("unexpected second failure: %+v", again.Order)
	}
	if again.Allocation.Status != constants.AllocationStatusFailed {
		t.Fatalf("allocation should stay failed")
	}
}

func TestWorkflowReturnAndOwnership(t *testing.T) {
	f := setupWorkflow(t)
	ctx := context.Background()
	if _, err := f.workflow.CreateOrder(ctx, CreateOrderInput{OrderID: "wf-3", UserID: "owner", Destination: "Pune"}); err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := f.workflow.RecordProductReturn(ctx, ReturnInput{OrderID: "wf-3", UserID: "intruder"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("foreign user must be rejected, got %v", err)
	}
	result, err := f.workflow.RecordProductReturn(ctx, ReturnInput{OrderID: "wf-3", UserID: "owner", ReturnReason: "damaged"})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if result.Reputation.Score.ReputationChange != -12 || result.Allocation.Status != constants.AllocationStatusReturned {
		t.Fatalf("unexpected return result: %+v", result)
	}
	if _, err := f.workflow.CompleteOrder(ctx, CompleteInput{OrderID: "wf-3", UserID: "owner"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("returned order cannot complete, got %v", err)
	}
	if _, err := f.workflow.CreateOrder(ctx, CreateOrderInput{OrderID: "wf-4", UserID: "owner"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("destination is required, got %v", err)
	}
}

func TestWorkflowReturnAfterCompletion(t *testing.T) {
	f := setupWorkflow(t)
	ctx := context.Background()
	if _, err := f.workflow.CreateOrder(ctx, CreateOrderInput{OrderID: "wf-6", UserID: "keeper", Destination: "Pune"}); err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := f.workflow.CompleteOrder(ctx, CompleteInput{OrderID: "wf-6", UserID: "keeper"}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if reputation, _ := f.ledger.GetUserReputation(ctx, "keeper"); reputation != 33 {
		t.Fatalf("expected reputation 33 before return, got %d", reputation)
	}

	result, err := f.workflow.RecordProductReturn(ctx, ReturnInput{OrderID: "wf-6", UserID: "keeper", ReturnReason: "changed mind"})
	if err != nil {
		t.Fatalf("return after completion failed: %v", err)
	}
	if result.Order.Status != constants.LedgerOrderStatusReturned || result.Reputation.Receipt.Reputation != 21 {
		t.Fatalf("return must be recorded on the ledger: %+v", result)
	}
	if result.Allocation == nil || result.Allocation.Status != constants.AllocationStatusDelivered {
		t.Fatalf("delivered allocation must stay delivered, got %+v", result.Allocation)
	}
	if got := capacityOf(t, f.partners, result.Allocation.PartnerID); got != 0 {
		t.Fatalf("delivered allocation holds no capacity, got %d", got)
	}

	if _, err := f.workflow.RecordProductReturn(ctx, ReturnInput{OrderID: "wf-6", UserID: "keeper"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second return must be rejected, got %v", err)
	}
	if reputation, _ := f.ledger.GetUserReputation(ctx, "keeper"); reputation != 21 {
		t.Fatalf("rejected return must not touch reputation, got %d", reputation)
	}
}

func TestWorkflowRejectsBeforeLedgerWrite(t *testing.T) {
	f := setupWorkflow(t)
	ctx := context.Background()
	created, err := f.workflow.CreateOrder(ctx, CreateOrderInput{OrderID: "wf-7", UserID: "patched", Destination: "Pune"})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := f.workflow.lifecycle.UpdateStatus(ctx, created.Allocation.ID, UpdateAllocationStatusInput{Status: constants.AllocationStatusFailed}); err != nil {
		t.Fatalf("mark allocation failed: %v", err)
	}

	if _, err := f.workflow.CompleteOrder(ctx, CompleteInput{OrderID: "wf-7", UserID: "patched"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("failed allocation cannot be delivered, got %v", err)
	}
	order, err := f.ledger.GetOrder(ctx, "wf-7")
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if order.Status != constants.LedgerOrderStatusCreated {
		t.Fatalf("ledger order must be untouched, got %s", order.Status)
	}
	if reputation, _ := f.ledger.GetUserReputation(ctx, "patched"); reputation != 8 {
		t.Fatalf("reputation must be untouched, got %d", reputation)
	}
}

func TestWorkflowPositiveBehavior(t *testing.T) {
	f := setupWorkflow(t)
	ctx := context.Background()

	outcome, err := f.workflow.RecordPositiveBehavior(ctx, PositiveBehaviorInput{UserID: "fan", BehaviorType: "positive_review", Reference: "review-77"})
	if err != nil {
		t.Fatalf("positive behavior failed: %v", err)
	}
	if outcome.Score.Tier != tierNameNewUser || outcome.Receipt != nil {
		t.Fatalf("new user review scores zero without a ledger write: %+v", outcome)
	}

	if _, err := f.workflow.CreateOrder(ctx, CreateOrderInput{OrderID: "wf-5", UserID: "fan", Destination: "Pune"}); err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	input := PositiveBehaviorInput{UserID: "fan", BehaviorType: constants.EventEarlyPayment, Reference: "pay-1"}
	first, err := f.workflow.RecordPositiveBehavior(ctx, input)
	if err != nil {
		t.Fatalf("early payment failed: %v", err)
	}
	second, err := f.workflow.RecordPositiveBehavior(ctx, input)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.Receipt.Duplicate || second.Receipt.Reputation != first.Receipt.Reputation {
		t.Fatalf("same reference must apply once: %+v", second.Receipt)
	}
	if _, err := f.workflow.RecordPositiveBehavior(ctx, PositiveBehaviorInput{UserID: "fan", BehaviorType: constants.EventOrderCompleted}); !errors.Is(err, ErrValidation) {
		t.Fatalf("non-positive behavior must be rejected, got %v", err)
	}
}
