package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OrderSnapshot 提示词中使用的订单摘要
type OrderSnapshot struct {
	OrderID         string    `json:"order_id"`
	OrderValue      float64   `json:"order_value"`
	Status          string    `json:"status"`
	ProductCategory string    `json:"product_category"`
	Destination     string    `json:"destination"`
	CreatedAt       time.Time `json:"created_at"`
}

// BehaviorProfile 用户行为画像
type BehaviorProfile struct {
	UserID               string          `json:"user_id"`
	TotalOrders          int64           `json:"total_orders"`
	CompletedOrders      int64           `json:"completed_orders"`
	ReturnedOrders       int64           `json:"returned_orders"`
	DeliveryFailures     int64           `json:"delivery_failures"`
	TotalOrderValue      float64         `json:"total_order_value"`
	AvgOrderValue        float64         `json:"avg_order_value"`
	AvgDaysBetweenOrders *float64        `json:"avg_days_between_orders,omitempty"`
	RecentOrders         []OrderSnapshot `json:"recent_orders"`
}

// ReturnRate 退货率（百分比）
func (p BehaviorProfile) ReturnRate() float64 {
	return percent(p.ReturnedOrders, p.TotalOrders)
}

// FailureRate 配送失败率（百分比）
func (p BehaviorProfile) FailureRate() float64 {
	return percent(p.DeliveryFailures, p.TotalOrders)
}

// SuccessRate 成功率（百分比）
func (p BehaviorProfile) SuccessRate() float64 {
	return percent(p.TotalOrders-p.DeliveryFailures-p.ReturnedOrders, p.TotalOrders)
}

func percent(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// PartnerCandidate 候选伙伴（含容量与区域元数据）
type PartnerCandidate struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	MinReputation  int64    `json:"min_reputation"`
	MaxReputation  *int64   `json:"max_reputation,omitempty"`
	ServiceAreas   []string `json:"service_areas"`
	CurrentLoad    int64    `json:"current_load"`
	DailyLimit     int      `json:"daily_limit"`
	SuccessRate    float64  `json:"success_rate"`
	CustomerRating float64  `json:"customer_rating"`
}

// ReputationRequest 信誉分析请求
type ReputationRequest struct {
	Profile   BehaviorProfile
	EventType string
	Context   map[string]interface{}
}

// AllocationRequest 分配分析请求
type AllocationRequest struct {
	Profile           BehaviorProfile
	CurrentReputation int64
	Order             OrderSnapshot
	Partners          []PartnerCandidate
}

const reputationSystemPrompt = "You are an expert e-commerce reputation analyst. Analyze user behavior and provide precise reputation score changes. Always respond in valid JSON format with numeric scores between -100 and +100."

const riskSystemPrompt = "You are an expert at predicting customer risk in e-commerce. Analyze patterns and predict future behavior risks. Always respond in valid JSON format."

const allocationSystemPrompt = "You are an expert logistics analyst. Recommend the best logistics partner for an order from the provided candidates only, based on reputation thresholds, capacity and risk factors. Always respond in valid JSON format."

func reputationMessages(req ReputationRequest) []Message {
	p := req.Profile
	var b strings.Builder
	b.WriteString("ANALYZE USER BEHAVIOR FOR REPUTATION SCORING\n\n")
	writeProfile(&b, p)
	b.WriteString("\nRECENT ORDERS (newest first):\n")
	writeOrders(&b, p.RecentOrders, 10)
	fmt.Fprintf(&b, "\nCURRENT ACTION: %s\n", req.EventType)
	fmt.Fprintf(&b, "ACTION CONTEXT: %s\n", compactJSON(req.Context))
	b.WriteString(`
SCORING GUIDELINES:
- Positive actions: +5 to +50 points
- Negative actions: -5 to -100 points
- Escalate penalties for repeat problematic behavior
- Reward loyal customers with good track records

Respond in this EXACT JSON format:
{"reputation_change": <integer -100 to 100>, "confidence": <float 0 to 1>, "customer_tier": "new|bronze|silver|gold|platinum", "risk_level": "low|medium|high|critical", "primary_factors": ["..."], "explanation": "...", "recommendations": ["..."]}`)

	return []Message{
		{Role: "system", Content: reputationSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func riskMessages(p BehaviorProfile) []Message {
	var b strings.Builder
	b.WriteString("PREDICT CUSTOMER RISK PROFILE\n\n")
	writeProfile(&b, p)
	b.WriteString("\nRECENT PATTERN:\n")
	writeOrders(&b, p.RecentOrders, 5)
	b.WriteString(`
Respond in this EXACT JSON format:
{"risk_score": <integer 0 to 100>, "risk_category": "low|medium|high|critical", "future_return_probability": <float 0 to 1>, "future_delivery_failure_probability": <float 0 to 1>, "churn_probability": <float 0 to 1>, "warning_signs": ["..."], "recommended_actions": ["..."]}`)

	return []Message{
		{Role: "system", Content: riskSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func allocationMessages(req AllocationRequest) []Message {
	var b strings.Builder
	b.WriteString("LOGISTICS PARTNER ALLOCATION ANALYSIS\n\n")
	fmt.Fprintf(&b, "CURRENT REPUTATION: %d\n", req.CurrentReputation)
	writeProfile(&b, req.Profile)
	b.WriteString("\nORDER DETAILS:\n")
	fmt.Fprintf(&b, "- Order Value: %.2f\n- Product Category: %s\n- Destination: %s\n",
		req.Order.OrderValue, req.Order.ProductCategory, req.Order.Destination)
	b.WriteString("\nQUALIFIED PARTNERS:\n")
	for i, partner := range req.Partners {
		maxRep := "No limit"
		if partner.MaxReputation != nil {
			maxRep = fmt.Sprintf("%d", *partner.MaxReputation)
		}
		areas := "All"
		if len(partner.ServiceAreas) > 0 {
			areas = strings.Join(partner.ServiceAreas, ", ")
		}
		fmt.Fprintf(&b, "%d. id=%s name=%s min_reputation=%d max_reputation=%s areas=%s load=%d/%d success_rate=%.2f rating=%.2f\n",
			i+1, partner.ID, partner.Name, partner.MinReputation, maxRep, areas,
			partner.CurrentLoad, partner.DailyLimit, partner.SuccessRate, partner.CustomerRating)
	}
	b.WriteString(`
Respond in this EXACT JSON format:
{"recommended_partner": "<partner name>", "partner_id": "<partner id>", "confidence": <float 0 to 1>, "reasoning": ["..."], "risk_mitigation": ["..."], "alternative_partners": ["..."], "delivery_success_probability": <float 0 to 1>}`)

	return []Message{
		{Role: "system", Content: allocationSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func writeProfile(b *strings.Builder, p BehaviorProfile) {
	fmt.Fprintf(b, "USER STATISTICS:\n- Total Orders: %d\n- Completed Orders: %d\n- Returned Orders: %d\n- Delivery Failures: %d\n",
		p.TotalOrders, p.CompletedOrders, p.ReturnedOrders, p.DeliveryFailures)
	fmt.Fprintf(b, "- Total Order Value: %.2f\n- Average Order Value: %.2f\n", p.TotalOrderValue, p.AvgOrderValue)
	fmt.Fprintf(b, "- Return Rate: %.1f%%\n- Delivery Failure Rate: %.1f%%\n- Success Rate: %.1f%%\n",
		p.ReturnRate(), p.FailureRate(), p.SuccessRate())
	if p.AvgDaysBetweenOrders != nil {
		fmt.Fprintf(b, "- Average Days Between Orders: %.1f\n", *p.AvgDaysBetweenOrders)
	} else {
		b.WriteString("- Average Days Between Orders: N/A\n")
	}
}

func writeOrders(b *strings.Builder, orders []OrderSnapshot, limit int) {
	if len(orders) == 0 {
		b.WriteString("(none)\n")
		return
	}
	for i, order := range orders {
		if i >= limit {
			break
		}
		fmt.Fprintf(b, "%d. %.2f - %s - %s - Destination: %s\n",
			i+1, order.OrderValue, order.Status, order.ProductCategory, order.Destination)
	}
}

func compactJSON(value interface{}) string {
	if value == nil {
		return "{}"
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
