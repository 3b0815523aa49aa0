package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zk-express/agent-engine/internal/constants"
	"github.com/zk-express/agent-engine/internal/oracle"
)

func TestScoreEventNewUserTable(t *testing.T) {
	scoring := &fakeOracle{}
	engine := NewDecisionEngine(&fakeBehavior{}, scoring)

	cases := map[string]int64{
		constants.EventDeliveryAccepted:      20,
		constants.EventOrderCompleted:        25,
		constants.EventProductReturned:       -8,
		constants.EventDeliveryFailedAbsent:  -12,
		constants.EventDeliveryFailedRefused: -15,
		constants.EventReferral:              0,
	}
	for eventType, want := range cases {
		result, err := engine.ScoreEvent(context.Background(), "user-1", eventType, nil)
		if err != nil {
			t.Fatalf("%s: score failed: %v", eventType, err)
		}
		if result.ReputationChange != want {
			t.Fatalf("%s: expected %d, got %d", eventType, want, result.ReputationChange)
		}
		if result.OracleUsed || !result.NewCustomer || result.Confidence != 0.8 {
			t.Fatalf("%s: unexpected tags: %+v", eventType, result)
		}
		if result.Tier != tierNameNewUser {
			t.Fatalf("%s: expected new user tier, got %s", eventType, result.Tier)
		}
	}
	if scoring.reputationCalls.Load() != 0 {
		t.Fatalf("oracle must not be consulted for new users")
	}
}

func TestScoreEventNewUserPurchaseUsesHistoryTiers(t *testing.T) {
	scoring := &fakeOracle{
		reputation: ok(oracle.ReputationAnalysis{ReputationChange: 12, Confidence: 0.9, CustomerTier: "bronze", RiskLevel: "low"}),
		risk:       unavailable[oracle.RiskPrediction](oracle.ErrUnavailable),
	}
	engine := NewDecisionEngine(&fakeBehavior{}, scoring)

	result, err := engine.ScoreEvent(context.Background(), "user-1", "purchase_created", nil)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if result.Tier != tierNameOracle || !result.OracleUsed {
		t.Fatalf("expected oracle tier, got %+v", result)
	}
	if result.ReputationChange != 12 || result.Confidence != 0.9 {
		t.Fatalf("unexpected oracle values: %+v", result)
	}
	if result.Risk != nil {
		t.Fatalf("failed risk prediction must be omitted")
	}
	if result.EventType != constants.EventPurchaseCreated {
		t.Fatalf("event type should be normalized, got %s", result.EventType)
	}
}

func TestScoreEventOracleAttachesRisk(t *testing.T) {
	scoring := &fakeOracle{
		reputation: ok(oracle.ReputationAnalysis{ReputationChange: -30, Confidence: 0.7}),
		risk:       ok(oracle.RiskPrediction{RiskScore: 80, RiskCategory: "high"}),
	}
	engine := NewDecisionEngine(&fakeBehavior{stats: &UserBehaviorStats{UserID: "u", TotalOrders: 4}}, scoring)

	result, err := engine.ScoreEvent(context.Background(), "u", constants.EventProductReturned, map[string]interface{}{"days_since_purchase": 3})
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if result.Risk == nil || result.Risk.RiskScore != 80 {
		t.Fatalf("expected risk prediction, got %+v", result.Risk)
	}
	if scoring.lastEventType != constants.EventProductReturned {
		t.Fatalf("oracle received wrong event type: %s", scoring.lastEventType)
	}
}

func TestScoreEventFallbackOnOracleFailure(t *testing.T) {
	stats := &UserBehaviorStats{UserID: "u", TotalOrders: 3}
	cases := []struct {
		name   string
		result oracle.Result[oracle.ReputationAnalysis]
		reason string
	}{
		{name: "timeout", result: unavailable[oracle.ReputationAnalysis](oracle.ErrTimeout), reason: "timeout"},
		{name: "schema", result: unavailable[oracle.ReputationAnalysis](oracle.ErrSchema), reason: "schema_error"},
		{name: "unavailable", result: unavailable[oracle.ReputationAnalysis](oracle.ErrUnavailable), reason: "unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scoring := &fakeOracle{reputation: tc.result}
			engine := NewDecisionEngine(&fakeBehavior{stats: stats}, scoring)
			result, err := engine.ScoreEvent(context.Background(), "u", constants.EventDeliveryFailedRefused, nil)
			if err != nil {
				t.Fatalf("oracle failure must not surface: %v", err)
			}
			if result.ReputationChange != -25 || result.Confidence != 0.6 || result.OracleUsed {
				t.Fatalf("unexpected fallback result: %+v", result)
			}
			if !strings.HasPrefix(result.FallbackReason, tc.reason) {
				t.Fatalf("expected fallback reason %q, got %q", tc.reason, result.FallbackReason)
			}
			if scoring.riskCalls.Load() != 0 {
				t.Fatalf("risk prediction must not run after a failed analysis")
			}
		})
	}
}

func TestScoreEventPurchaseFallbackForReturningUser(t *testing.T) {
	scoring := &fakeOracle{reputation: unavailable[oracle.ReputationAnalysis](oracle.ErrTimeout)}
	engine := NewDecisionEngine(&fakeBehavior{stats: &UserBehaviorStats{UserID: "u", TotalOrders: 5}}, scoring)

	result, err := engine.ScoreEvent(context.Background(), "u", constants.EventPurchaseCreated, map[string]interface{}{"order_value": "120.00"})
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if result.ReputationChange != 8 || result.Confidence != 0.6 || result.OracleUsed {
		t.Fatalf("expected purchase fallback +8, got %+v", result)
	}
	if result.Tier != tierNameFallback || !strings.HasPrefix(result.FallbackReason, "timeout") {
		t.Fatalf("unexpected tier %s reason %q", result.Tier, result.FallbackReason)
	}
	if scoring.reputationCalls.Load() != 1 {
		t.Fatalf("oracle should be consulted once, got %d", scoring.reputationCalls.Load())
	}
}

func TestScoreEventNilOracleFallsBack(t *testing.T) {
	engine := NewDecisionEngine(&fakeBehavior{stats: &UserBehaviorStats{TotalOrders: 1}}, nil)
	result, err := engine.ScoreEvent(context.Background(), "u", constants.EventPositiveReview, nil)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if result.Tier != tierNameFallback || result.ReputationChange != 15 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.HasPrefix(result.FallbackReason, string(oracle.OutcomeUnavailable)) {
		t.Fatalf("unexpected reason: %s", result.FallbackReason)
	}
}

func TestScoreEventLedgerFailureIsHard(t *testing.T) {
	engine := NewDecisionEngine(&fakeBehavior{err: errors.New("connection refused")}, &fakeOracle{})
	_, err := engine.ScoreEvent(context.Background(), "u", constants.EventOrderCompleted, nil)
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ledger unavailable, got %v", err)
	}
}

func TestScoreEventValidation(t *testing.T) {
	engine := NewDecisionEngine(&fakeBehavior{}, nil)
	if _, err := engine.ScoreEvent(context.Background(), "u", "BIRTHDAY", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown event, got %v", err)
	}
	if _, err := engine.ScoreEvent(context.Background(), " ", constants.EventOrderCompleted, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty user, got %v", err)
	}
}
