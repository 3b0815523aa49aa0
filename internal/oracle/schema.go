package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const (
	MinReputationDelta = -100
	MaxReputationDelta = 100
)

var customerTiers = map[string]struct{}{
	"new": {}, "bronze": {}, "silver": {}, "gold": {}, "platinum": {},
}

var riskLevels = map[string]struct{}{
	"low": {}, "medium": {}, "high": {}, "critical": {},
}

// ReputationAnalysis 信誉变化分析（已校验）
type ReputationAnalysis struct {
	ReputationChange int      `json:"reputation_change"`
	Confidence       float64  `json:"confidence"`
	CustomerTier     string   `json:"customer_tier"`
	RiskLevel        string   `json:"risk_level"`
	PrimaryFactors   []string `json:"primary_factors"`
	Explanation      string   `json:"explanation"`
	Recommendations  []string `json:"recommendations"`
}

// RiskPrediction 客户风险预测（已校验）
type RiskPrediction struct {
	RiskScore                        int      `json:"risk_score"`
	RiskCategory                     string   `json:"risk_category"`
	FutureReturnProbability          *float64 `json:"future_return_probability,omitempty"`
	FutureDeliveryFailureProbability *float64 `json:"future_delivery_failure_probability,omitempty"`
	ChurnProbability                 *float64 `json:"churn_probability,omitempty"`
	WarningSigns                     []string `json:"warning_signs"`
	RecommendedActions               []string `json:"recommended_actions"`
}

// AllocationRecommendation 伙伴分配建议（已校验）
type AllocationRecommendation struct {
	RecommendedPartner         string   `json:"recommended_partner"`
	PartnerID                  string   `json:"partner_id"`
	Confidence                 float64  `json:"confidence"`
	Reasoning                  []string `json:"reasoning"`
	RiskMitigation             []string `json:"risk_mitigation"`
	AlternativePartners        []string `json:"alternative_partners"`
	DeliverySuccessProbability *float64 `json:"delivery_success_probability,omitempty"`
}

// ParseReputationAnalysis 校验信誉分析响应：变化量必须是 [-100,100] 内的数值
func ParseReputationAnalysis(raw []byte) (ReputationAnalysis, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return ReputationAnalysis{}, err
	}
	change, err := requiredNumber(fields, "reputation_change")
	if err != nil {
		return ReputationAnalysis{}, err
	}
	if change < MinReputationDelta || change > MaxReputationDelta {
		return ReputationAnalysis{}, fmt.Errorf("%w: reputation_change %v out of bounds", ErrSchema, change)
	}
	confidence, err := requiredNumber(fields, "confidence")
	if err != nil {
		return ReputationAnalysis{}, err
	}
	if err := checkUnit("confidence", confidence); err != nil {
		return ReputationAnalysis{}, err
	}

	return ReputationAnalysis{
		ReputationChange: int(math.Round(change)),
		Confidence:       confidence,
		CustomerTier:     enumValue(fields, "customer_tier", customerTiers),
		RiskLevel:        enumValue(fields, "risk_level", riskLevels),
		PrimaryFactors:   stringList(fields, "primary_factors"),
		Explanation:      stringValue(fields, "explanation"),
		Recommendations:  stringList(fields, "recommendations"),
	}, nil
}

// ParseRiskPrediction 校验风险预测响应
func ParseRiskPrediction(raw []byte) (RiskPrediction, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return RiskPrediction{}, err
	}
	score, err := requiredNumber(fields, "risk_score")
	if err != nil {
		return RiskPrediction{}, err
	}
	if score < 0 || score > 100 {
		return RiskPrediction{}, fmt.Errorf("%w: risk_score %v out of bounds", ErrSchema, score)
	}
	prediction := RiskPrediction{
		RiskScore:          int(math.Round(score)),
		RiskCategory:       enumValue(fields, "risk_category", riskLevels),
		WarningSigns:       stringList(fields, "warning_signs"),
		RecommendedActions: stringList(fields, "recommended_actions"),
	}
	if prediction.FutureReturnProbability, err = optionalUnit(fields, "future_return_probability"); err != nil {
		return RiskPrediction{}, err
	}
	if prediction.FutureDeliveryFailureProbability, err = optionalUnit(fields, "future_delivery_failure_probability"); err != nil {
		return RiskPrediction{}, err
	}
	if prediction.ChurnProbability, err = optionalUnit(fields, "churn_probability"); err != nil {
		return RiskPrediction{}, err
	}
	return prediction, nil
}

// ParseAllocationRecommendation 校验分配建议响应：必须给出伙伴名称或 ID 以及置信度
func ParseAllocationRecommendation(raw []byte) (AllocationRecommendation, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return AllocationRecommendation{}, err
	}
	recommendation := AllocationRecommendation{
		RecommendedPartner:  stringValue(fields, "recommended_partner"),
		PartnerID:           stringValue(fields, "partner_id"),
		Reasoning:           stringList(fields, "reasoning"),
		RiskMitigation:      stringList(fields, "risk_mitigation"),
		AlternativePartners: stringList(fields, "alternative_partners"),
	}
	if recommendation.RecommendedPartner == "" && recommendation.PartnerID == "" {
		return AllocationRecommendation{}, fmt.Errorf("%w: recommended partner missing", ErrSchema)
	}
	confidence, err := requiredNumber(fields, "confidence")
	if err != nil {
		return AllocationRecommendation{}, err
	}
	if err := checkUnit("confidence", confidence); err != nil {
		return AllocationRecommendation{}, err
	}
	recommendation.Confidence = confidence
	if recommendation.DeliverySuccessProbability, err = optionalUnit(fields, "delivery_success_probability"); err != nil {
		return AllocationRecommendation{}, err
	}
	return recommendation, nil
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: response is not an object", ErrSchema)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return fields, nil
}

// requiredNumber 只接受 JSON 数值字面量，字符串形式的数字视为违反约定
func requiredNumber(fields map[string]json.RawMessage, key string) (float64, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s missing", ErrSchema, key)
	}
	value, ok := parseNumber(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %s is not numeric", ErrSchema, key)
	}
	return value, nil
}

func optionalUnit(fields map[string]json.RawMessage, key string) (*float64, error) {
	raw, ok := fields[key]
	if !ok || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	value, ok := parseNumber(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not numeric", ErrSchema, key)
	}
	if err := checkUnit(key, value); err != nil {
		return nil, err
	}
	return &value, nil
}

func parseNumber(raw json.RawMessage) (float64, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, false
	}
	if c := trimmed[0]; c != '-' && (c < '0' || c > '9') {
		return 0, false
	}
	var value float64
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return 0, false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

func checkUnit(key string, value float64) error {
	if value < 0 || value > 1 {
		return fmt.Errorf("%w: %s %v outside [0,1]", ErrSchema, key, value)
	}
	return nil
}

func stringValue(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func enumValue(fields map[string]json.RawMessage, key string, allowed map[string]struct{}) string {
	value := strings.ToLower(stringValue(fields, key))
	if _, ok := allowed[value]; !ok {
		return ""
	}
	return value
}

// stringList 丢弃非字符串元素
func stringList(fields map[string]json.RawMessage, key string) []string {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var items []interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		text, ok := item.(string)
		if !ok {
			continue
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
