package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zk-express/agent-engine/internal/cache"
	"github.com/zk-express/agent-engine/internal/config"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/repository"

	"github.com/golang-jwt/jwt/v5"
)

// AuthService 运营令牌签发与校验
type AuthService struct {
	cfg          *config.Config
	operatorRepo repository.OperatorRepository
	now          func() time.Time
}

// NewAuthService 创建认证服务实例
func NewAuthService(cfg *config.Config, operatorRepo repository.OperatorRepository) *AuthService {
	return &AuthService{
		cfg:          cfg,
		operatorRepo: operatorRepo,
		now:          time.Now,
	}
}

// JWTClaims JWT 声明
type JWTClaims struct {
	OperatorID   uint   `json:"operator_id"`
	Username     string `json:"username"`
	TokenVersion uint64 `json:"token_version"`
	jwt.RegisteredClaims
}

func (s *AuthService) secret() []byte {
	return []byte(s.cfg.JWT.SecretKey)
}

// GenerateJWT 生成 JWT Token
func (s *AuthService) GenerateJWT(operator *models.Operator) (string, time.Time, error) {
	if operator == nil || operator.ID == 0 {
		return "", time.Time{}, fmt.Errorf("%w: operator is required", ErrValidation)
	}
	hours := s.cfg.JWT.ExpireHours
	if hours <= 0 {
		hours = 24
	}
	now := s.now()
	expiresAt := now.Add(time.Duration(hours) * time.Hour)

	claims := JWTClaims{
		OperatorID:   operator.ID,
		Username:     operator.Username,
		TokenVersion: operator.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(operator.ID), 10),
			Issuer:    s.cfg.JWT.Issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret())
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseJWT 解析 JWT Token
func (s *AuthService) ParseJWT(tokenString string) (*JWTClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer := strings.TrimSpace(s.cfg.JWT.Issuer); issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	claims := &JWTClaims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.OperatorID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ResolveOperator 校验令牌版本与账号状态，优先读取鉴权缓存
func (s *AuthService) ResolveOperator(ctx context.Context, claims *JWTClaims) (*cache.OperatorAuthState, error) {
	if claims == nil || claims.OperatorID == 0 {
		return nil, ErrInvalidToken
	}
	if cached, hit, err := cache.GetOperatorAuthState(ctx, claims.OperatorID); err == nil && hit && cached != nil {
		return checkOperatorState(cached, claims)
	}
	operator, err := s.operatorRepo.GetByID(claims.OperatorID)
	if err != nil {
		return nil, err
	}
	if operator == nil {
		return nil, ErrInvalidToken
	}
	state := cache.BuildOperatorAuthState(operator)
	_ = cache.SetOperatorAuthState(ctx, state)
	return checkOperatorState(state, claims)
}

func checkOperatorState(state *cache.OperatorAuthState, claims *JWTClaims) (*cache.OperatorAuthState, error) {
	if state.Disabled {
		return nil, ErrOperatorDisabled
	}
	if state.TokenVersion != claims.TokenVersion {
		return nil, fmt.Errorf("%w: token revoked", ErrInvalidToken)
	}
	return state, nil
}

// IssueOperatorToken 为指定账号签发令牌（种子命令使用）
func (s *AuthService) IssueOperatorToken(ctx context.Context, username string) (*models.Operator, string, time.Time, error) {
	operator, err := s.operatorRepo.GetByUsername(username)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if operator == nil {
		return nil, "", time.Time{}, fmt.Errorf("%w: operator %s", ErrNotFound, username)
	}
	if operator.Disabled {
		return nil, "", time.Time{}, ErrOperatorDisabled
	}
	token, expiresAt, err := s.GenerateJWT(operator)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	_ = cache.SetOperatorAuthState(ctx, cache.BuildOperatorAuthState(operator))
	return operator, token, expiresAt, nil
}

// RevokeTokens 使运营账号已签发的令牌全部失效
func (s *AuthService) RevokeTokens(ctx context.Context, operatorID uint) error {
	if err := s.operatorRepo.BumpTokenVersion(operatorID); err != nil {
		return err
	}
	return cache.DelOperatorAuthState(ctx, operatorID)
}

// SetOperatorDisabled 启用或停用运营账号，并清理鉴权缓存
func (s *AuthService) SetOperatorDisabled(ctx context.Context, operatorID uint, disabled bool) error {
	operator, err := s.operatorRepo.GetByID(operatorID)
	if err != nil {
		return err
	}
	if operator == nil {
		return fmt.Errorf("%w: operator %d", ErrNotFound, operatorID)
	}
	if err := s.operatorRepo.SetDisabled(operatorID, disabled); err != nil {
		return err
	}
	return cache.DelOperatorAuthState(ctx, operatorID)
}

// TouchLastSeen 记录访问时间（失败忽略）
func (s *AuthService) TouchLastSeen(operatorID uint) {
	_ = s.operatorRepo.TouchLastSeen(operatorID)
}
