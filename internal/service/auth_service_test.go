package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zk-express/agent-engine/internal/config"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/repository"
)

func setupAuthService(t *testing.T) (*AuthService, *repository.GormOperatorRepository) {
	t.Helper()
	db := setupEngineDB(t)
	repo := repository.NewOperatorRepository(db)
	cfg := &config.Config{JWT: config.JWTConfig{SecretKey: "test-secret", ExpireHours: 2, Issuer: "agent-engine"}}
	return NewAuthService(cfg, repo), repo
}

func TestIssueAndParseOperatorToken(t *testing.T) {
	svc, repo := setupAuthService(t)
	ctx := context.Background()
	if err := repo.Create(&models.Operator{Username: "ops"}); err != nil {
		t.Fatalf("create operator failed: %v", err)
	}

	operator, token, expiresAt, err := svc.IssueOperatorToken(ctx, "ops")
	if err != nil {
		t.Fatalf("issue token failed: %v", err)
	}
	if time.Until(expiresAt) > 2*time.Hour || time.Until(expiresAt) < time.Hour {
		t.Fatalf("unexpected expiry: %v", expiresAt)
	}
	claims, err := svc.ParseJWT(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claims.OperatorID != operator.ID || claims.Username != "ops" || claims.Subject == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	state, err := svc.ResolveOperator(ctx, claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if state.Username != "ops" {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestParseJWTRejectsForeignTokens(t *testing.T) {
	svc, _ := setupAuthService(t)
	token, _, err := svc.GenerateJWT(&models.Operator{ID: 9, Username: "ops"})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	other := NewAuthService(&config.Config{JWT: config.JWTConfig{SecretKey: "other", Issuer: "agent-engine"}}, nil)
	if _, err := other.ParseJWT(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret must be rejected, got %v", err)
	}
	foreignIssuer := NewAuthService(&config.Config{JWT: config.JWTConfig{SecretKey: "test-secret", Issuer: "someone-else"}}, nil)
	if _, err := foreignIssuer.ParseJWT(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong issuer must be rejected, got %v", err)
	}
	if _, err := svc.ParseJWT("  "); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token must be rejected, got %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	expired, _, err := svc.GenerateJWT(&models.Operator{ID: 9, Username: "ops"})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := svc.ParseJWT(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token must be rejected, got %v", err)
	}
	if _, _, err := svc.GenerateJWT(nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("nil operator must be rejected, got %v", err)
	}
}

func TestRevokedAndDisabledOperators(t *testing.T) {
	svc, repo := setupAuthService(t)
	ctx := context.Background()
	operator := &models.Operator{Username: "night-shift"}
	if err := repo.Create(operator); err != nil {
		t.Fatalf("create operator failed: %v", err)
	}
	_, token, _, err := svc.IssueOperatorToken(ctx, "night-shift")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	claims, err := svc.ParseJWT(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if err := svc.RevokeTokens(ctx, operator.ID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if _, err := svc.ResolveOperator(ctx, claims); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("revoked token must be rejected, got %v", err)
	}

	_, fresh, _, err := svc.IssueOperatorToken(ctx, "night-shift")
	if err != nil {
		t.Fatalf("reissue failed: %v", err)
	}
	freshClaims, _ := svc.ParseJWT(fresh)
	if _, err := svc.ResolveOperator(ctx, freshClaims); err != nil {
		t.Fatalf("fresh token should resolve: %v", err)
	}

	if err := repo.SetDisabled(operator.ID, true); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	if _, err := svc.ResolveOperator(ctx, freshClaims); !errors.Is(err, ErrOperatorDisabled) {
		t.Fatalf("disabled operator must be rejected, got %v", err)
	}
	if _, _, _, err := svc.IssueOperatorToken(ctx, "night-shift"); !errors.Is(err, ErrOperatorDisabled) {
		t.Fatalf("disabled operator cannot get tokens, got %v", err)
	}
	if _, _, _, err := svc.IssueOperatorToken(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
