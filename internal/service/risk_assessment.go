package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/zk-express/agent-engine/internal/oracle"

	"golang.org/x/sync/errgroup"
)

const (
	maxRiskBatchSize     = 50
	riskBatchConcurrency = 5

	highRiskThreshold = 70
	lowRiskThreshold  = 30
)

// UserRiskAssessment 单个用户的风险评估
type UserRiskAssessment struct {
	UserID     string                 `json:"user_id"`
	Reputation int64                  `json:"reputation"`
	Risk       *oracle.RiskPrediction `json:"risk,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// RiskSummary 风险分桶统计
type RiskSummary struct {
	High   int `json:"high_risk"`
	Medium int `json:"medium_risk"`
	Low    int `json:"low_risk"`
}

// RiskBatchResult 批量评估结果
type RiskBatchResult struct {
	TotalUsers  int                  `json:"total_users"`
	Processed   int                  `json:"processed"`
	Assessments []UserRiskAssessment `json:"assessments"`
	Summary     RiskSummary          `json:"summary"`
}

// RiskAssessmentService 批量客户风险评估
type RiskAssessmentService struct {
	ledger BehaviorReader
	oracle ScoringOracle
}

// NewRiskAssessmentService 创建风险评估服务
func NewRiskAssessmentService(ledger BehaviorReader, scoringOracle ScoringOracle) *RiskAssessmentService {
	if scoringOracle == nil {
		scoringOracle = oracle.Disabled{}
	}
	return &RiskAssessmentService{ledger: ledger, oracle: scoringOracle}
}

// AssessUsers 并发评估一批用户，单个用户失败只记录在结果中
func (s *RiskAssessmentService) AssessUsers(ctx context.Context, userIDs []string) (*RiskBatchResult, error) {
	ids := make([]string, 0, len(userIDs))
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: user_ids is required", ErrValidation)
	}
	if len(ids) > maxRiskBatchSize {
		return nil, fmt.Errorf("%w: at most %d users per batch", ErrBatchTooLarge, maxRiskBatchSize)
	}

	assessments := make([]UserRiskAssessment, len(ids))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(riskBatchConcurrency)
	for i, userID := range ids {
		group.Go(func() error {
			assessments[i] = s.assessUser(groupCtx, userID)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	result := &RiskBatchResult{TotalUsers: len(ids), Assessments: assessments}
	for _, assessment := range assessments {
		if assessment.Risk == nil {
			continue
		}
		result.Processed++
		switch score := assessment.Risk.RiskScore; {
		case score > highRiskThreshold:
			result.Summary.High++
		case score >= lowRiskThreshold:
			result.Summary.Medium++
		default:
			result.Summary.Low++
		}
	}
	return result, nil
}

func (s *RiskAssessmentService) assessUser(ctx context.Context, userID string) UserRiskAssessment {
	assessment := UserRiskAssessment{UserID: userID}
	reputation, err := s.ledger.GetUserReputation(ctx, userID)
	if err != nil {
		assessment.Error = err.Error()
		return assessment
	}
	assessment.Reputation = reputation
	stats, err := s.ledger.GetUserBehaviorStats(ctx, userID)
	if err != nil {
		assessment.Error = err.Error()
		return assessment
	}
	prediction := s.oracle.PredictRisk(ctx, stats.Profile())
	if !prediction.OK() {
		logOracleFallback("risk_assessment_oracle_failed", userID, prediction.Outcome, prediction.Err)
		assessment.Error = prediction.Reason()
		return assessment
	}
	risk := prediction.Value
	assessment.Risk = &risk
	return assessment
}
