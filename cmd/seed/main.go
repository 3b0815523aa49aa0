package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/zk-express/agent-engine/internal/config"
	"github.com/zk-express/agent-engine/internal/constants"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/provider"
)

func main() {
	var (
		username  string
		skipToken bool
	)
	flag.StringVar(&username, "operator", "admin", "默认超级运营账号")
	flag.BoolVar(&skipToken, "no-token", false, "不输出运营令牌")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()

	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}, false); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	// 容器初始化时会写入内置角色
	container := provider.NewContainer(cfg)
	defer container.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	created, err := container.PartnerService.SeedDefaultPartners(ctx)
	if err != nil {
		stdLog.Fatalf("Failed to seed partners: %v", err)
	}
	stdLog.Printf("Seeded partners: %d created", created)

	operator, err := models.InitDefaultOperator(username)
	if err != nil {
		stdLog.Fatalf("Failed to init operator: %v", err)
	}
	if err := container.AuthzService.SetOperatorRoles(operator.ID, []string{constants.RoleAdmin}); err != nil {
		stdLog.Fatalf("Failed to bind operator role: %v", err)
	}
	stdLog.Printf("Operator ready: %s (id=%d)", operator.Username, operator.ID)

	if skipToken {
		return
	}
	_, token, expiresAt, err := container.AuthService.IssueOperatorToken(ctx, operator.Username)
	if err != nil {
		stdLog.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Printf("Bearer %s\n", token)
	fmt.Printf("expires_at: %s\n", expiresAt.Format(time.RFC3339))
}
