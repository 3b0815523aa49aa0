package oracle

import (
	"context"
	"fmt"
	"strings"
)

const consultSystemPrompt = "You are an expert e-commerce consultant with access to customer behavior and logistics data. Always respond in valid JSON format."

// AllocationSnapshot 咨询上下文中的历史分配摘要
type AllocationSnapshot struct {
	Partner string `json:"partner"`
	Status  string `json:"status"`
	Method  string `json:"method"`
}

// ConsultRequest 客户咨询请求
type ConsultRequest struct {
	Profile           BehaviorProfile
	CurrentReputation int64
	Question          string
	Context           map[string]interface{}
	Allocations       []AllocationSnapshot
}

// Consultation 咨询答复（已校验）
type Consultation struct {
	Answer             string   `json:"answer"`
	Confidence         float64  `json:"confidence"`
	Recommendation     string   `json:"recommendation"`
	RiskFactors        []string `json:"risk_factors"`
	SupportingEvidence []string `json:"supporting_evidence"`
	LogisticsInsights  []string `json:"logistics_insights"`
}

// Consult 就客户问题请求综合答复
func (c *Client) Consult(ctx context.Context, req ConsultRequest) Result[Consultation] {
	raw, err := c.Complete(ctx, consultMessages(req), CompletionOptions{MaxTokens: 1200, Temperature: defaultTemperature})
	if err != nil {
		return failedResult[Consultation](err)
	}
	consultation, err := ParseConsultation(raw)
	if err != nil {
		return failedResult[Consultation](err)
	}
	return okResult(consultation)
}

// Consult 返回不可用
func (Disabled) Consult(context.Context, ConsultRequest) Result[Consultation] {
	return failedResult[Consultation](ErrDisabled)
}

// ParseConsultation 校验咨询响应：答复不能为空，置信度在 [0,1]
func ParseConsultation(raw []byte) (Consultation, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return Consultation{}, err
	}
	consultation := Consultation{
		Answer:             stringValue(fields, "answer"),
		Recommendation:     stringValue(fields, "recommendation"),
		RiskFactors:        stringList(fields, "risk_factors"),
		SupportingEvidence: stringList(fields, "supporting_evidence"),
		LogisticsInsights:  stringList(fields, "logistics_insights"),
	}
	if consultation.Answer == "" {
		return Consultation{}, fmt.Errorf("%w: answer missing", ErrSchema)
	}
	confidence, err := requiredNumber(fields, "confidence")
	if err != nil {
		return Consultation{}, err
	}
	if err := checkUnit("confidence", confidence); err != nil {
		return Consultation{}, err
	}
	consultation.Confidence = confidence
	return consultation, nil
}

func consultMessages(req ConsultRequest) []Message {
	p := req.Profile
	var b strings.Builder
	b.WriteString("CUSTOMER CONSULTATION REQUEST\n\n")
	fmt.Fprintf(&b, "Customer ID: %s\nCurrent Reputation: %d\n\n", p.UserID, req.CurrentReputation)
	writeProfile(&b, p)
	fmt.Fprintf(&b, "- Recent Logistics: %d allocations\n", len(req.Allocations))
	for i, allocation := range req.Allocations {
		fmt.Fprintf(&b, "%d. %s - %s - %s\n", i+1, allocation.Partner, allocation.Status, allocation.Method)
	}
	fmt.Fprintf(&b, "\nQUESTION: %s\n", strings.TrimSpace(req.Question))
	fmt.Fprintf(&b, "CONTEXT: %s\n", compactJSON(req.Context))
	b.WriteString(`
Respond in this EXACT JSON format:
{"answer": "...", "confidence": <float 0 to 1>, "recommendation": "...", "risk_factors": ["..."], "supporting_evidence": ["..."], "logistics_insights": ["..."]}`)

	return []Message{
		{Role: "system", Content: consultSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}
