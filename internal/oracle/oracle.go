package oracle

import (
	"context"
)

// AnalyzeReputation 请求信誉变化分析，结果在返回前完成校验
func (c *Client) AnalyzeReputation(ctx context.Context, req ReputationRequest) Result[ReputationAnalysis] {
	raw, err := c.Complete(ctx, reputationMessages(req), CompletionOptions{MaxTokens: 1200, Temperature: 0.2})
	if err != nil {
		return failedResult[ReputationAnalysis](err)
	}
	analysis, err := ParseReputationAnalysis(raw)
	if err != nil {
		return failedResult[ReputationAnalysis](err)
	}
	return okResult(analysis)
}

// PredictRisk 请求客户风险预测
func (c *Client) PredictRisk(ctx context.Context, profile BehaviorProfile) Result[RiskPrediction] {
	raw, err := c.Complete(ctx, riskMessages(profile), CompletionOptions{MaxTokens: 800, Temperature: defaultTemperature})
	if err != nil {
		return failedResult[RiskPrediction](err)
	}
	prediction, err := ParseRiskPrediction(raw)
	if err != nil {
		return failedResult[RiskPrediction](err)
	}
	return okResult(prediction)
}

// RecommendPartner 请求伙伴分配建议
func (c *Client) RecommendPartner(ctx context.Context, req AllocationRequest) Result[AllocationRecommendation] {
	raw, err := c.Complete(ctx, allocationMessages(req), CompletionOptions{MaxTokens: 1000, Temperature: defaultTemperature})
	if err != nil {
		return failedResult[AllocationRecommendation](err)
	}
	recommendation, err := ParseAllocationRecommendation(raw)
	if err != nil {
		return failedResult[AllocationRecommendation](err)
	}
	return okResult(recommendation)
}

// Disabled 未配置预言机时使用，所有调用直接返回不可用
type Disabled struct{}

// AnalyzeReputation 返回不可用
func (Disabled) AnalyzeReputation(context.Context, ReputationRequest) Result[ReputationAnalysis] {
	return failedResult[ReputationAnalysis](ErrDisabled)
}

// PredictRisk 返回不可用
func (Disabled) PredictRisk(context.Context, BehaviorProfile) Result[RiskPrediction] {
	return failedResult[RiskPrediction](ErrDisabled)
}

// RecommendPartner 返回不可用
func (Disabled) RecommendPartner(context.Context, AllocationRequest) Result[AllocationRecommendation] {
	return failedResult[AllocationRecommendation](ErrDisabled)
}
