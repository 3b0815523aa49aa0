package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/oracle"
)

const (
	consultHistoryLimit   = 10
	maxConsultQuestionLen = 2000
)

// AllocationHistoryReader 按用户读取分配记录
type AllocationHistoryReader interface {
	ListByUser(ctx context.Context, userID string, page, pageSize int) ([]models.OrderAllocation, int64, error)
}

// ConsultInput 客户咨询输入
type ConsultInput struct {
	UserID   string
	Question string
	Context  map[string]interface{}
}

// ConsultationResult 咨询结果
type ConsultationResult struct {
	UserID                string              `json:"user_id"`
	Reputation            int64               `json:"reputation"`
	AllocationsConsidered int                 `json:"allocations_considered"`
	Consultation          oracle.Consultation `json:"consultation"`
}

// ConsultationService 结合行为画像与分配历史向预言机咨询
type ConsultationService struct {
	ledger      BehaviorReader
	allocations AllocationHistoryReader
	oracle      ScoringOracle
}

// NewConsultationService 创建咨询服务
func NewConsultationService(ledger BehaviorReader, allocations AllocationHistoryReader, scoringOracle ScoringOracle) *ConsultationService {
	if scoringOracle == nil {
		scoringOracle = oracle.Disabled{}
	}
	return &ConsultationService{ledger: ledger, allocations: allocations, oracle: scoringOracle}
}

// Consult 咨询没有规则兜底，预言机失败直接返回错误
func (s *ConsultationService) Consult(ctx context.Context, input ConsultInput) (*ConsultationResult, error) {
	userID := strings.TrimSpace(input.UserID)
	question := strings.TrimSpace(input.Question)
	if userID == "" || question == "" {
		return nil, fmt.Errorf("%w: user_id and question are required", ErrValidation)
	}
	if utf8.RuneCountInString(question) > maxConsultQuestionLen {
		return nil, fmt.Errorf("%w: question exceeds %d characters", ErrValidation, maxConsultQuestionLen)
	}

	reputation, err := s.ledger.GetUserReputation(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats, err := s.ledger.GetUserBehaviorStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	records, _, err := s.allocations.ListByUser(ctx, userID, 1, consultHistoryLimit)
	if err != nil {
		return nil, err
	}
	history := make([]oracle.AllocationSnapshot, 0, len(records))
	for _, record := range records {
		history = append(history, oracle.AllocationSnapshot{
			Partner: record.PartnerName,
			Status:  record.Status,
			Method:  record.Method,
		})
	}

	result := s.oracle.Consult(ctx, oracle.ConsultRequest{
		Profile:           stats.Profile(),
		CurrentReputation: reputation,
		Question:          question,
		Context:           input.Context,
		Allocations:       history,
	})
	if !result.OK() {
		logOracleFallback("consult_oracle_failed", userID, result.Outcome, result.Err)
		if result.Outcome == oracle.OutcomeSchemaError {
			return nil, fmt.Errorf("%w: %s", ErrUpstreamMalformed, result.Reason())
		}
		return nil, fmt.Errorf("%w: %s", ErrOracleUnavailable, result.Reason())
	}
	return &ConsultationResult{
		UserID:                userID,
		Reputation:            reputation,
		AllocationsConsidered: len(history),
		Consultation:          result.Value,
	}, nil
}
