package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/zk-express/agent-engine/internal/cache"
	"github.com/zk-express/agent-engine/internal/constants"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/oracle"

	"golang.org/x/sync/errgroup"
)

const (
	randomConfidence          = 0.3
	randomSuccessProbability  = 0.6
	ruleFallbackConfidence    = 0.5
	ruleFallbackProbability   = 0.7
	noBandMatchReason         = "no partner matches reputation band"
	firstQualifiedPartnerNote = "first qualified partner in directory order"
)

// PartnerDirectory 分配所需的伙伴目录读接口
type PartnerDirectory interface {
	ListActivePartners(ctx context.Context) ([]models.LogisticsPartner, error)
	GetCapacity(ctx context.Context, partnerID string) (cache.CapacitySnapshot, error)
}

// AllocateInput 分配请求
type AllocateInput struct {
	UserID          string
	OrderID         string
	OrderValue      models.Money
	ProductCategory string
	Destination     string
	// 为空时从伙伴目录加载全部可接单伙伴
	Candidates []models.LogisticsPartner
}

// AllocationDecision 分配决策（未落库）
type AllocationDecision struct {
	OrderID                    string                   `json:"order_id"`
	UserID                     string                   `json:"user_id"`
	PartnerID                  string                   `json:"partner_id"`
	PartnerName                string                   `json:"partner_name"`
	Method                     string                   `json:"method"`
	Confidence                 float64                  `json:"confidence"`
	Reasoning                  []string                 `json:"reasoning"`
	RiskMitigation             []string                 `json:"risk_mitigation,omitempty"`
	AlternativePartners        []string                 `json:"alternative_partners,omitempty"`
	DeliverySuccessProbability *float64                 `json:"delivery_success_probability"`
	UserReputation             int64                    `json:"user_reputation"`
	FallbackReason             string                   `json:"fallback_reason,omitempty"`
	AuditMetadata              models.JSON              `json:"audit_metadata"`
	OrderValue                 models.Money             `json:"order_value"`
	ProductCategory            string                   `json:"product_category"`
	Destination                string                   `json:"destination"`
	Partner                    *models.LogisticsPartner `json:"-"`
}

// AllocationEngine 按信誉与容量为订单选择物流伙伴
type AllocationEngine struct {
	ledger   BehaviorReader
	partners PartnerDirectory
	oracle   ScoringOracle
	randIntn func(n int) int
}

// AllocationEngineOption 分配引擎可选项
type AllocationEngineOption func(*AllocationEngine)

// WithRandomSource 注入随机源，便于测试
func WithRandomSource(intn func(n int) int) AllocationEngineOption {
	return func(e *AllocationEngine) {
		if intn != nil {
			e.randIntn = intn
		}
	}
}

// NewAllocationEngine 创建分配引擎
func NewAllocationEngine(ledger BehaviorReader, partners PartnerDirectory, scoringOracle ScoringOracle, opts ...AllocationEngineOption) *AllocationEngine {
	if scoringOracle == nil {
		scoringOracle = oracle.Disabled{}
	}
	engine := &AllocationEngine{
		ledger:   ledger,
		partners: partners,
		oracle:   scoringOracle,
		randIntn: rand.IntN,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

type rankedCandidate struct {
	partner *models.LogisticsPartner
	load    int64
}

// Allocate 计算分配决策，不产生持久副作用
func (e *AllocationEngine) Allocate(ctx context.Context, input AllocateInput) (*AllocationDecision, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	input.OrderID = strings.TrimSpace(input.OrderID)
	input.Destination = strings.TrimSpace(input.Destination)
	if input.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if input.OrderValue.IsNegative() {
		return nil, fmt.Errorf("%w: order_value must not be negative", ErrValidation)
	}

	var reputation int64
	candidates := input.Candidates
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		value, err := e.ledger.GetUserReputation(groupCtx, input.UserID)
		if err != nil {
			return err
		}
		reputation = value
		return nil
	})
	if candidates == nil {
		group.Go(func() error {
			list, err := e.partners.ListActivePartners(groupCtx)
			if err != nil {
				return err
			}
			candidates = list
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	areaSet := filterByArea(candidates, input.Destination)
	if len(areaSet) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoPartnersForDestination, input.Destination)
	}

	qualified := make([]*models.LogisticsPartner, 0, len(areaSet))
	for i := range areaSet {
		if areaSet[i].AcceptsReputation(reputation) {
			qualified = append(qualified, &areaSet[i])
		}
	}
	if len(qualified) == 0 {
		return e.randomDecision(input, reputation, areaSet), nil
	}

	ranked, err := e.gateByCapacity(ctx, qualified, input.OrderValue)
	if err != nil {
		return nil, err
	}

	stats, err := e.ledger.GetUserBehaviorStats(ctx, input.UserID)
	if err != nil {
		if errors.Is(err, ErrLedgerUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	recommendation := e.oracle.RecommendPartner(ctx, oracle.AllocationRequest{
		Profile:           stats.Profile(),
		CurrentReputation: reputation,
		Order: oracle.OrderSnapshot{
			OrderID:         input.OrderID,
			OrderValue:      input.OrderValue.Float64(),
			ProductCategory: input.ProductCategory,
			Destination:     input.Destination,
		},
		Partners: buildCandidates(ranked),
	})
	if !recommendation.OK() {
		logOracleFallback("allocation_oracle_fallback", input.UserID, recommendation.Outcome, recommendation.Err)
		return e.ruleFallbackDecision(input, reputation, ranked, len(areaSet), recommendation.Reason()), nil
	}

	chosen := matchRecommendation(ranked, recommendation.Value)
	if chosen == nil {
		reason := fmt.Sprintf("recommended partner %q is not qualified", firstNonEmpty(recommendation.Value.PartnerID, recommendation.Value.RecommendedPartner))
		logger.Warnw("allocation_oracle_unknown_partner",
			"user_id", input.UserID,
			"order_id", input.OrderID,
			"partner_id", recommendation.Value.PartnerID,
			"partner_name", recommendation.Value.RecommendedPartner,
		)
		return e.ruleFallbackDecision(input, reputation, ranked, len(areaSet), reason), nil
	}

	value := recommendation.Value
	decision := newDecision(input, reputation, chosen.partner)
	decision.Method = constants.AllocationMethodOracleRanked
	decision.Confidence = value.Confidence
	decision.Reasoning = value.Reasoning
	decision.RiskMitigation = value.RiskMitigation
	decision.AlternativePartners = value.AlternativePartners
	decision.DeliverySuccessProbability = value.DeliverySuccessProbability
	decision.AuditMetadata = auditMetadata(*chosen, len(ranked), len(areaSet))
	return decision, nil
}

// gateByCapacity 优先选择未满额且接受订单金额的伙伴，全部不满足时保留原集合
func (e *AllocationEngine) gateByCapacity(ctx context.Context, qualified []*models.LogisticsPartner, orderValue models.Money) ([]rankedCandidate, error) {
	all := make([]rankedCandidate, 0, len(qualified))
	preferred := make([]rankedCandidate, 0, len(qualified))
	for _, partner := range qualified {
		snapshot, err := e.partners.GetCapacity(ctx, partner.ID)
		if err != nil {
			return nil, err
		}
		candidate := rankedCandidate{partner: partner, load: snapshot.CurrentOrders}
		all = append(all, candidate)
		underLimit := partner.DailyOrderLimit <= 0 || snapshot.CurrentOrders < int64(partner.DailyOrderLimit)
		if underLimit && partner.AcceptsOrderValue(orderValue) {
			preferred = append(preferred, candidate)
		}
	}
	if len(preferred) == 0 {
		return all, nil
	}
	return preferred, nil
}

func (e *AllocationEngine) randomDecision(input AllocateInput, reputation int64, areaSet []models.LogisticsPartner) *AllocationDecision {
	index := e.randIntn(len(areaSet))
	if index < 0 || index >= len(areaSet) {
		index = 0
	}
	partner := &areaSet[index]
	probability := randomSuccessProbability
	decision := newDecision(input, reputation, partner)
	decision.Method = constants.AllocationMethodRandom
	decision.Confidence = randomConfidence
	decision.Reasoning = []string{noBandMatchReason}
	decision.DeliverySuccessProbability = &probability
	decision.AuditMetadata = models.JSON{
		"daily_limit":     partner.DailyOrderLimit,
		"reputation_band": reputationBand(partner),
		"qualified_count": 0,
		"area_count":      len(areaSet),
	}
	return decision
}

func (e *AllocationEngine) ruleFallbackDecision(input AllocateInput, reputation int64, ranked []rankedCandidate, areaCount int, reason string) *AllocationDecision {
	chosen := ranked[0]
	probability := ruleFallbackProbability
	decision := newDecision(input, reputation, chosen.partner)
	decision.Method = constants.AllocationMethodRuleFallback
	decision.Confidence = ruleFallbackConfidence
	decision.Reasoning = []string{"scoring oracle unavailable: " + reason, firstQualifiedPartnerNote}
	decision.DeliverySuccessProbability = &probability
	decision.FallbackReason = reason
	decision.AuditMetadata = auditMetadata(chosen, len(ranked), areaCount)
	decision.AuditMetadata["fallback_reason"] = reason
	return decision
}

func newDecision(input AllocateInput, reputation int64, partner *models.LogisticsPartner) *AllocationDecision {
	return &AllocationDecision{
		OrderID:         input.OrderID,
		UserID:          input.UserID,
		PartnerID:       partner.ID,
		PartnerName:     partner.Name,
		UserReputation:  reputation,
		OrderValue:      input.OrderValue,
		ProductCategory: strings.TrimSpace(input.ProductCategory),
		Destination:     input.Destination,
		Partner:         partner,
	}
}

func auditMetadata(chosen rankedCandidate, qualifiedCount, areaCount int) models.JSON {
	return models.JSON{
		"partner_load":    chosen.load,
		"daily_limit":     chosen.partner.DailyOrderLimit,
		"reputation_band": reputationBand(chosen.partner),
		"qualified_count": qualifiedCount,
		"area_count":      areaCount,
	}
}

func reputationBand(partner *models.LogisticsPartner) map[string]interface{} {
	band := map[string]interface{}{"min": partner.MinReputationThreshold, "max": nil}
	if partner.MaxReputationThreshold != nil {
		band["max"] = *partner.MaxReputationThreshold
	}
	return band
}

func buildCandidates(ranked []rankedCandidate) []oracle.PartnerCandidate {
	result := make([]oracle.PartnerCandidate, 0, len(ranked))
	for _, item := range ranked {
		result = append(result, oracle.PartnerCandidate{
			ID:             item.partner.ID,
			Name:           item.partner.Name,
			MinReputation:  item.partner.MinReputationThreshold,
			MaxReputation:  item.partner.MaxReputationThreshold,
			ServiceAreas:   item.partner.ServiceAreas,
			CurrentLoad:    item.load,
			DailyLimit:     item.partner.DailyOrderLimit,
			SuccessRate:    item.partner.SuccessRate,
			CustomerRating: item.partner.CustomerRating,
		})
	}
	return result
}

// matchRecommendation 先按 ID 精确匹配，再按名称忽略大小写匹配
func matchRecommendation(ranked []rankedCandidate, recommendation oracle.AllocationRecommendation) *rankedCandidate {
	if id := strings.TrimSpace(recommendation.PartnerID); id != "" {
		for i := range ranked {
			if ranked[i].partner.ID == id {
				return &ranked[i]
			}
		}
	}
	if name := strings.TrimSpace(recommendation.RecommendedPartner); name != "" {
		for i := range ranked {
			if strings.EqualFold(ranked[i].partner.Name, name) {
				return &ranked[i]
			}
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
