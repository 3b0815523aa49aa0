package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zk-express/agent-engine/internal/constants"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/oracle"
)

const (
	tierNameNewUser  = "new_user"
	tierNameOracle   = "oracle"
	tierNameFallback = "fallback"

	newUserConfidence  = 0.8
	fallbackConfidence = 0.6
)

var errTierUnavailable = errors.New("scoring tier unavailable")

// 新用户固定分值表
var newUserDeltas = map[string]int64{
	constants.EventPurchaseCreated:       10,
	constants.EventPaymentCompleted:      15,
	constants.EventDeliveryAccepted:      20,
	constants.EventOrderCompleted:        25,
	constants.EventProductReturned:       -8,
	constants.EventDeliveryFailedAbsent:  -12,
	constants.EventDeliveryFailedRefused: -15,
}

// 预言机不可用时的规则分值表
var fallbackDeltas = map[string]int64{
	constants.EventPurchaseCreated:       8,
	constants.EventPaymentCompleted:      12,
	constants.EventDeliveryAccepted:      18,
	constants.EventOrderCompleted:        25,
	constants.EventProductReturned:       -12,
	constants.EventDeliveryFailedAbsent:  -18,
	constants.EventDeliveryFailedRefused: -25,
	constants.EventEarlyPayment:          10,
	constants.EventPositiveReview:        15,
}

var knownEvents = map[string]bool{
	constants.EventPurchaseCreated:       true,
	constants.EventPaymentCompleted:      true,
	constants.EventDeliveryAccepted:      true,
	constants.EventOrderCompleted:        true,
	constants.EventProductReturned:       true,
	constants.EventDeliveryFailedAbsent:  true,
	constants.EventDeliveryFailedRefused: true,
	constants.EventEarlyPayment:          true,
	constants.EventPositiveReview:        true,
	constants.EventReferral:              true,
	constants.EventLoyaltyProgram:        true,
}

// IsKnownEvent 判断事件是否在词表内
func IsKnownEvent(eventType string) bool {
	return knownEvents[eventType]
}

// ScoringOracle 评分预言机
type ScoringOracle interface {
	AnalyzeReputation(ctx context.Context, req oracle.ReputationRequest) oracle.Result[oracle.ReputationAnalysis]
	PredictRisk(ctx context.Context, profile oracle.BehaviorProfile) oracle.Result[oracle.RiskPrediction]
	RecommendPartner(ctx context.Context, req oracle.AllocationRequest) oracle.Result[oracle.AllocationRecommendation]
	Consult(ctx context.Context, req oracle.ConsultRequest) oracle.Result[oracle.Consultation]
}

// BehaviorReader 决策所需的账本读接口
type BehaviorReader interface {
	GetUserReputation(ctx context.Context, userID string) (int64, error)
	GetUserBehaviorStats(ctx context.Context, userID string) (*UserBehaviorStats, error)
}

// ScoreResult 行为事件评分结果
type ScoreResult struct {
	UserID           string                 `json:"user_id"`
	EventType        string                 `json:"event_type"`
	ReputationChange int64                  `json:"reputation_change"`
	Confidence       float64                `json:"confidence"`
	OracleUsed       bool                   `json:"oracle_used"`
	NewCustomer      bool                   `json:"new_customer"`
	Tier             string                 `json:"tier"`
	FallbackReason   string                 `json:"fallback_reason,omitempty"`
	CustomerTier     string                 `json:"customer_tier"`
	RiskLevel        string                 `json:"risk_level"`
	Explanation      string                 `json:"explanation,omitempty"`
	Factors          []string               `json:"factors,omitempty"`
	Recommendations  []string               `json:"recommendations,omitempty"`
	Risk             *oracle.RiskPrediction `json:"risk,omitempty"`
}

type scoreRequest struct {
	userID    string
	eventType string
	context   map[string]interface{}
	stats     *UserBehaviorStats
	// 上一层降级原因
	reason string
}

type scoreTier struct {
	name string
	run  func(ctx context.Context, req *scoreRequest) (*ScoreResult, error)
}

// DecisionEngine 分层信誉评分：新用户表 → 预言机 → 规则表
type DecisionEngine struct {
	ledger BehaviorReader
	oracle ScoringOracle
	tiers  []scoreTier
}

// NewDecisionEngine 创建决策引擎
func NewDecisionEngine(ledger BehaviorReader, scoringOracle ScoringOracle) *DecisionEngine {
	if scoringOracle == nil {
		scoringOracle = oracle.Disabled{}
	}
	engine := &DecisionEngine{ledger: ledger, oracle: scoringOracle}
	engine.tiers = []scoreTier{
		{name: tierNameNewUser, run: engine.tierNewUser},
		{name: tierNameOracle, run: engine.tierOracle},
		{name: tierNameFallback, run: engine.tierFallback},
	}
	return engine
}

// ScoreEvent 计算事件的信誉变化（无副作用）
func (e *DecisionEngine) ScoreEvent(ctx context.Context, userID, eventType string, eventContext map[string]interface{}) (*ScoreResult, error) {
	userID = strings.TrimSpace(userID)
	eventType = strings.ToUpper(strings.TrimSpace(eventType))
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if !knownEvents[eventType] {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, eventType)
	}
	stats, err := e.ledger.GetUserBehaviorStats(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrLedgerUnavailable) || errors.Is(err, ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	req := &scoreRequest{userID: userID, eventType: eventType, context: eventContext, stats: stats}
	for _, tier := range e.tiers {
		result, err := tier.run(ctx, req)
		if err == nil {
			result.UserID = userID
			result.EventType = eventType
			result.Tier = tier.name
			return result, nil
		}
		if !errors.Is(err, errTierUnavailable) {
			return nil, err
		}
	}
	// 规则表层永远可用，不会走到这里
	return nil, fmt.Errorf("%w: no scoring tier produced a decision", ErrOracleUnavailable)
}

func (e *DecisionEngine) tierNewUser(_ context.Context, req *scoreRequest) (*ScoreResult, error) {
	if req.stats.TotalOrders > 0 {
		return nil, fmt.Errorf("%w: user has order history", errTierUnavailable)
	}
	if req.eventType == constants.EventPurchaseCreated || req.eventType == constants.EventPaymentCompleted {
		return nil, fmt.Errorf("%w: first purchase events are scored by history tiers", errTierUnavailable)
	}
	return &ScoreResult{
		ReputationChange: newUserDeltas[req.eventType],
		Confidence:       newUserConfidence,
		NewCustomer:      true,
		CustomerTier:     constants.CustomerTierNew,
		RiskLevel:        constants.RiskLevelLow,
		Explanation:      "new customer scored by fixed table",
	}, nil
}

func (e *DecisionEngine) tierOracle(ctx context.Context, req *scoreRequest) (*ScoreResult, error) {
	profile := req.stats.Profile()
	analysis := e.oracle.AnalyzeReputation(ctx, oracle.ReputationRequest{
		Profile:   profile,
		EventType: req.eventType,
		Context:   req.context,
	})
	if !analysis.OK() {
		req.reason = analysis.Reason()
		logOracleFallback("decision_oracle_fallback", req.userID, analysis.Outcome, analysis.Err)
		return nil, fmt.Errorf("%w: %s", errTierUnavailable, req.reason)
	}

	value := analysis.Value
	result := &ScoreResult{
		ReputationChange: int64(value.ReputationChange),
		Confidence:       value.Confidence,
		OracleUsed:       true,
		CustomerTier:     value.CustomerTier,
		RiskLevel:        value.RiskLevel,
		Explanation:      value.Explanation,
		Factors:          value.PrimaryFactors,
		Recommendations:  value.Recommendations,
	}

	risk := e.oracle.PredictRisk(ctx, profile)
	if risk.OK() {
		prediction := risk.Value
		result.Risk = &prediction
	} else {
		logger.Warnw("decision_risk_prediction_failed",
			"user_id", req.userID,
			"outcome", risk.Outcome,
			"error", risk.Err,
		)
	}
	return result, nil
}

func (e *DecisionEngine) tierFallback(_ context.Context, req *scoreRequest) (*ScoreResult, error) {
	reason := req.reason
	if reason == "" {
		reason = string(oracle.OutcomeUnavailable)
	}
	return &ScoreResult{
		ReputationChange: fallbackDeltas[req.eventType],
		Confidence:       fallbackConfidence,
		FallbackReason:   reason,
		CustomerTier:     constants.CustomerTierUnknown,
		RiskLevel:        constants.RiskLevelMedium,
		Explanation:      "scored by fallback rule table",
	}, nil
}

// logOracleFallback 结构错误单独记录，便于排查上游输出
func logOracleFallback(event, userID string, outcome oracle.Outcome, err error) {
	if outcome == oracle.OutcomeSchemaError {
		logger.Warnw(event,
			"user_id", userID,
			"outcome", outcome,
			"error", fmt.Errorf("%w: %v", ErrUpstreamMalformed, err),
		)
		return
	}
	if errors.Is(err, oracle.ErrDisabled) {
		logger.Debugw(event, "user_id", userID, "outcome", outcome)
		return
	}
	logger.Warnw(event, "user_id", userID, "outcome", outcome, "error", err)
}
