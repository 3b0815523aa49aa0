package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zk-express/agent-engine/internal/cache"
	"github.com/zk-express/agent-engine/internal/events"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/oracle"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupEngineDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:engine_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// fakeOracle 可编排的预言机替身
type fakeOracle struct {
	reputation oracle.Result[oracle.ReputationAnalysis]
	risk       oracle.Result[oracle.RiskPrediction]
	recommend  oracle.Result[oracle.AllocationRecommendation]
	consult    oracle.Result[oracle.Consultation]
	riskByUser func(userID string) oracle.Result[oracle.RiskPrediction]

	reputationCalls atomic.Int32
	riskCalls       atomic.Int32
	recommendCalls  atomic.Int32
	consultCalls    atomic.Int32

	mu            sync.Mutex
	lastPartners  []oracle.PartnerCandidate
	lastEventType string
	lastConsult   oracle.ConsultRequest
}

func (f *fakeOracle) AnalyzeReputation(_ context.Context, req oracle.ReputationRequest) oracle.Result[oracle.ReputationAnalysis] {
	f.reputationCalls.Add(1)
	f.mu.Lock()
	f.lastEventType = req.EventType
	f.mu.Unlock()
	return f.reputation
}

func (f *fakeOracle) PredictRisk(_ context.Context, profile oracle.BehaviorProfile) oracle.Result[oracle.RiskPrediction] {
	f.riskCalls.Add(1)
	if f.riskByUser != nil {
		return f.riskByUser(profile.UserID)
	}
	return f.risk
}

func (f *fakeOracle) RecommendPartner(_ context.Context, req oracle.AllocationRequest) oracle.Result[oracle.AllocationRecommendation] {
	f.recommendCalls.Add(1)
	f.mu.Lock()
	f.lastPartners = req.Partners
	f.mu.Unlock()
	return f.recommend
}

func (f *fakeOracle) Consult(_ context.Context, req oracle.ConsultRequest) oracle.Result[oracle.Consultation] {
	f.consultCalls.Add(1)
	f.mu.Lock()
	f.lastConsult = req
	f.mu.Unlock()
	return f.consult
}

func unavailable[T any](err error) oracle.Result[T] {
	return oracle.Result[T]{Outcome: oracle.Classify(err), Err: err}
}

func ok[T any](value T) oracle.Result[T] {
	return oracle.Result[T]{Outcome: oracle.OutcomeOK, Value: value}
}

// fakeBehavior 账本读接口替身
type fakeBehavior struct {
	reputation int64
	stats      *UserBehaviorStats
	err        error
}

func (f *fakeBehavior) GetUserReputation(context.Context, string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.reputation, nil
}

func (f *fakeBehavior) GetUserBehaviorStats(_ context.Context, userID string) (*UserBehaviorStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.stats == nil {
		return &UserBehaviorStats{UserID: userID}, nil
	}
	return f.stats, nil
}

// fakeDirectory 伙伴目录替身
type fakeDirectory struct {
	partners  []models.LogisticsPartner
	loads     map[string]int64
	listErr   error
	listCalls atomic.Int32
}

func (f *fakeDirectory) ListActivePartners(context.Context) ([]models.LogisticsPartner, error) {
	f.listCalls.Add(1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.LogisticsPartner(nil), f.partners...), nil
}

func (f *fakeDirectory) GetCapacity(_ context.Context, partnerID string) (cache.CapacitySnapshot, error) {
	return cache.CapacitySnapshot{PartnerID: partnerID, CurrentOrders: f.loads[partnerID]}, nil
}

// recordingNotifier 记录生命周期事件
type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (n *recordingNotifier) NotifyLifecycle(_ context.Context, event events.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, event := range n.events {
		if event.Type == eventType {
			total++
		}
	}
	return total
}

func int64Ptr(v int64) *int64 { return &v }

func float64Ptr(v float64) *float64 { return &v }

func testPartner(id string, minRep int64, maxRep *int64, areas ...string) models.LogisticsPartner {
	return models.LogisticsPartner{
		ID:                     id,
		Name:                   id,
		MinReputationThreshold: minRep,
		MaxReputationThreshold: maxRep,
		ServiceAreas:           areas,
		DailyOrderLimit:        100,
		MaxOrderValue:          models.NewMoneyFromFloat(10000),
		OperationalStatus:      "active",
		IsActive:               true,
	}
}
