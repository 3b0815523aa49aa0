package repository

import (
	"strings"
	"testing"

	"github.com/zk-express/agent-engine/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestDBDialectName(t *testing.T) {
	if got := dbDialectName(nil); got != "sqlite" {
		t.Fatalf("nil db should fall back to sqlite, got %s", got)
	}
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if got := dbDialectName(db); got != "sqlite" {
		t.Fatalf("dialect want sqlite got %s", got)
	}
}

func TestWithRowLockByDialect(t *testing.T) {
	lockedSQL := func(db *gorm.DB) string {
		return db.ToSQL(func(tx *gorm.DB) *gorm.DB {
			var account models.ReputationAccount
			return withRowLock(tx).Where("user_id = ?", "u-1").First(&account)
		})
	}

	sqliteDB, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if sql := lockedSQL(sqliteDB); strings.Contains(sql, "FOR UPDATE") {
		t.Fatalf("sqlite should not add row lock, got %s", sql)
	}

	pgDB, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=127.0.0.1 user=x dbname=x sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	if err != nil {
		t.Fatalf("open postgres dry-run failed: %v", err)
	}
	if sql := lockedSQL(pgDB); !strings.Contains(sql, "FOR UPDATE") {
		t.Fatalf("postgres should add row lock, got %s", sql)
	}
}
