package models

import (
	"strings"

	"github.com/zk-express/agent-engine/internal/logger"
)

// InitDefaultOperator 初始化默认超级运营账号
func InitDefaultOperator(username string) (*Operator, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		username = "admin"
	}

	var existing Operator
	err := DB.Where("username = ?", username).Limit(1).Find(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing.ID != 0 {
		if !existing.IsSuper {
			if err := DB.Model(&existing).Update("is_super", true).Error; err != nil {
				logger.Warnw("ensure_default_operator_super_failed", "username", username, "error", err)
			}
		}
		return &existing, nil
	}

	operator := Operator{
		Username: username,
		IsSuper:  true,
	}
	if err := DB.Create(&operator).Error; err != nil {
		return nil, err
	}
	logger.Infow("default_operator_created", "username", username)
	return &operator, nil
}
