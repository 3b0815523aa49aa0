package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newCompletionServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != completionsPath {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header: %s", got)
		}
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request failed: %v", err)
		}
		if req.ResponseFormat["type"] != "json_object" {
			t.Errorf("response_format not requested as json_object")
		}
		w.WriteHeader(status)
		envelope := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(envelope)
	}))
}

func newTestClient(t *testing.T, baseURL string, timeout time.Duration) *Client {
	t.Helper()
	client, err := NewClient(Config{BaseURL: baseURL, APIKey: "test-key", Timeout: timeout}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestAnalyzeReputationValidResponse(t *testing.T) {
	server := newCompletionServer(t, `{"reputation_change": -24.6, "confidence": 0.8, "customer_tier": "Silver", "risk_level": "extreme", "primary_factors": ["late pickups", 3]}`, http.StatusOK)
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second)
	result := client.AnalyzeReputation(context.Background(), ReputationRequest{
		Profile:   BehaviorProfile{UserID: "u1", TotalOrders: 4, ReturnedOrders: 1},
		EventType: "RETURN_INITIATED",
	})
	if !result.OK() {
		t.Fatalf("expected ok result, got %s", result.Reason())
	}
	if result.Value.ReputationChange != -25 {
		t.Fatalf("expected rounded delta -25, got %d", result.Value.ReputationChange)
	}
	if result.Value.CustomerTier != "silver" {
		t.Fatalf("customer tier not normalized: %q", result.Value.CustomerTier)
	}
	if result.Value.RiskLevel != "" {
		t.Fatalf("invalid risk level should be dropped, got %q", result.Value.RiskLevel)
	}
	if len(result.Value.PrimaryFactors) != 1 {
		t.Fatalf("non-string factors should be dropped, got %v", result.Value.PrimaryFactors)
	}
}

func TestAnalyzeReputationRejectsOutOfBoundDelta(t *testing.T) {
	server := newCompletionServer(t, `{"reputation_change": 250, "confidence": 0.9}`, http.StatusOK)
	defer server.Close()

	result := newTestClient(t, server.URL, time.Second).AnalyzeReputation(context.Background(), ReputationRequest{EventType: "PAYMENT_COMPLETED"})
	if result.Outcome != OutcomeSchemaError {
		t.Fatalf("expected schema error, got %s", result.Outcome)
	}
	if !errors.Is(result.Err, ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", result.Err)
	}
}

func TestAnalyzeReputationRejectsStringNumber(t *testing.T) {
	server := newCompletionServer(t, `{"reputation_change": "15", "confidence": 0.9}`, http.StatusOK)
	defer server.Close()

	result := newTestClient(t, server.URL, time.Second).AnalyzeReputation(context.Background(), ReputationRequest{EventType: "PAYMENT_COMPLETED"})
	if result.Outcome != OutcomeSchemaError {
		t.Fatalf("string-typed number should be a schema error, got %s", result.Outcome)
	}
}

func TestCompleteStripsCodeFence(t *testing.T) {
	server := newCompletionServer(t, "```json\n{\"risk_score\": 72, \"risk_category\": \"high\", \"churn_probability\": 0.4}\n```", http.StatusOK)
	defer server.Close()

	result := newTestClient(t, server.URL, time.Second).PredictRisk(context.Background(), BehaviorProfile{UserID: "u1"})
	if !result.OK() {
		t.Fatalf("expected ok result, got %s", result.Reason())
	}
	if result.Value.RiskScore != 72 || result.Value.RiskCategory != "high" {
		t.Fatalf("unexpected prediction: %+v", result.Value)
	}
	if result.Value.ChurnProbability == nil || *result.Value.ChurnProbability != 0.4 {
		t.Fatalf("churn probability not parsed")
	}
}

func TestRecommendPartnerRequiresPartner(t *testing.T) {
	server := newCompletionServer(t, `{"confidence": 0.7, "reasoning": ["fast"]}`, http.StatusOK)
	defer server.Close()

	result := newTestClient(t, server.URL, time.Second).RecommendPartner(context.Background(), AllocationRequest{})
	if result.Outcome != OutcomeSchemaError {
		t.Fatalf("missing partner should be schema error, got %s", result.Outcome)
	}
}

func TestCompleteServerErrorIsUnavailable(t *testing.T) {
	server := newCompletionServer(t, `{}`, http.StatusInternalServerError)
	defer server.Close()

	result := newTestClient(t, server.URL, time.Second).PredictRisk(context.Background(), BehaviorProfile{})
	if result.Outcome != OutcomeUnavailable {
		t.Fatalf("expected unavailable, got %s", result.Outcome)
	}
}

func TestCompleteTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	result := newTestClient(t, server.URL, 50*time.Millisecond).AnalyzeReputation(context.Background(), ReputationRequest{EventType: "PAYMENT_COMPLETED"})
	if result.Outcome != OutcomeTimeout {
		t.Fatalf("expected timeout outcome, got %s (%v)", result.Outcome, result.Err)
	}
}

func TestDisabledOracle(t *testing.T) {
	result := Disabled{}.RecommendPartner(context.Background(), AllocationRequest{})
	if result.OK() || result.Outcome != OutcomeUnavailable {
		t.Fatalf("disabled oracle should be unavailable, got %s", result.Outcome)
	}
}

func TestAllocationPromptListsCandidates(t *testing.T) {
	maxRep := int64(90)
	messages := allocationMessages(AllocationRequest{
		CurrentReputation: 42,
		Order:             OrderSnapshot{OrderValue: 120, Destination: "Pune"},
		Partners: []PartnerCandidate{
			{ID: "p-1", Name: "Swift", MinReputation: 20, MaxReputation: &maxRep, ServiceAreas: []string{"Pune"}},
			{ID: "p-2", Name: "Steady"},
		},
	})
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(messages))
	}
	prompt := messages[1].Content
	for _, want := range []string{"CURRENT REPUTATION: 42", "id=p-1", "max_reputation=90", "areas=All"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestConsultValidResponse(t *testing.T) {
	server := newCompletionServer(t, `{"answer": "Offer cash on delivery only", "confidence": 0.75, "recommendation": "limit prepaid", "risk_factors": ["two refusals"], "supporting_evidence": ["40% failure rate", 7], "logistics_insights": []}`, http.StatusOK)
	defer server.Close()

	result := newTestClient(t, server.URL, time.Second).Consult(context.Background(), ConsultRequest{
		Profile:  BehaviorProfile{UserID: "u1", TotalOrders: 5, DeliveryFailures: 2},
		Question: "Should we allow prepaid orders?",
	})
	if !result.OK() {
		t.Fatalf("expected ok result, got %s", result.Reason())
	}
	if result.Value.Answer != "Offer cash on delivery only" || result.Value.Confidence != 0.75 {
		t.Fatalf("unexpected consultation: %+v", result.Value)
	}
	if len(result.Value.SupportingEvidence) != 1 || len(result.Value.RiskFactors) != 1 {
		t.Fatalf("non-string list items should be dropped: %+v", result.Value)
	}
}

func TestParseConsultationSchema(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{name: "missing answer", raw: `{"confidence": 0.5}`},
		{name: "blank answer", raw: `{"answer": "  ", "confidence": 0.5}`},
		{name: "missing confidence", raw: `{"answer": "yes"}`},
		{name: "confidence out of range", raw: `{"answer": "yes", "confidence": 1.4}`},
		{name: "not an object", raw: `["yes"]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseConsultation([]byte(tc.raw)); !errors.Is(err, ErrSchema) {
				t.Fatalf("expected schema error, got %v", err)
			}
		})
	}
}

func TestConsultPromptCarriesHistory(t *testing.T) {
	messages := consultMessages(ConsultRequest{
		Profile:           BehaviorProfile{UserID: "u9"},
		CurrentReputation: 61,
		Question:          "Is this customer reliable?",
		Context:           map[string]interface{}{"channel": "support"},
		Allocations:       []AllocationSnapshot{{Partner: "Swift", Status: "delivered", Method: "oracle_ranked"}},
	})
	prompt := messages[1].Content
	for _, want := range []string{"Customer ID: u9", "Current Reputation: 61", "1. Swift - delivered - oracle_ranked", "QUESTION: Is this customer reliable?", `"channel":"support"`} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
	if result := (Disabled{}).Consult(context.Background(), ConsultRequest{}); result.OK() {
		t.Fatalf("disabled oracle must not answer")
	}
}
