package repository

import "gorm.io/gorm"

// maxPageSize 仓储层单页上限，防止调用方绕过接口层限制一次拉全表
const maxPageSize = 500

// paginate 分页 scope；pageSize <= 0 表示不分页
func paginate(page, pageSize int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if pageSize <= 0 {
			return db
		}
		if pageSize > maxPageSize {
			pageSize = maxPageSize
		}
		if page < 1 {
			page = 1
		}
		return db.Offset((page - 1) * pageSize).Limit(pageSize)
	}
}
