package models

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestWithSQLitePragmas(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "file::memory:?cache=shared", want: "file::memory:?cache=shared"},
		{in: "file:t?mode=memory&cache=shared", want: "file:t?mode=memory&cache=shared"},
		{in: "engine.db?_pragma=busy_timeout(100)", want: "engine.db?_pragma=busy_timeout(100)"},
		{in: "engine.db", want: "engine.db?" + strings.Join(sqlitePragmas, "&")},
		{in: "engine.db?cache=shared", want: "engine.db?cache=shared&" + strings.Join(sqlitePragmas, "&")},
	}
	for _, tc := range cases {
		if got := withSQLitePragmas(tc.in); got != tc.want {
			t.Fatalf("withSQLitePragmas(%q) want %q got %q", tc.in, tc.want, got)
		}
	}
}

func TestOpenDBAndMigrate(t *testing.T) {
	db, err := OpenDB("sqlite", "file::memory:", DBPoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, false)
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	for _, model := range AllModels() {
		if !db.Migrator().HasTable(model) {
			t.Fatalf("table for %T missing", model)
		}
	}
	if _, err := OpenDB("mysql", "x", DBPoolConfig{}, false); err == nil {
		t.Fatalf("unsupported driver should fail")
	}
}

func TestMoneyJSON(t *testing.T) {
	var fromNumber, fromString Money
	if err := json.Unmarshal([]byte(`120.456`), &fromNumber); err != nil {
		t.Fatalf("unmarshal number failed: %v", err)
	}
	if err := json.Unmarshal([]byte(`"120.454"`), &fromString); err != nil {
		t.Fatalf("unmarshal string failed: %v", err)
	}
	if fromNumber.String() != "120.46" || fromString.String() != "120.45" {
		t.Fatalf("unexpected rounding: %s %s", fromNumber, fromString)
	}
	out, err := json.Marshal(struct {
		Value Money `json:"value"`
	}{Value: NewMoney(decimal.RequireFromString("9.5"))})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(out) != `{"value":9.50}` {
		t.Fatalf("unexpected json: %s", out)
	}
	var bad Money
	if err := json.Unmarshal([]byte(`"abc"`), &bad); err == nil {
		t.Fatalf("invalid money should fail")
	}
}

func TestStringArrayNormalizedAndScan(t *testing.T) {
	arr := StringArray{" North ", "north", "", "South"}
	got := arr.Normalized()
	if len(got) != 2 || got[0] != "north" || got[1] != "south" {
		t.Fatalf("unexpected normalized: %v", got)
	}
	var scanned StringArray
	if err := scanned.Scan([]byte(`["a","b"]`)); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(scanned) != 2 {
		t.Fatalf("unexpected scanned: %v", scanned)
	}
	if err := scanned.Scan(42); err == nil {
		t.Fatalf("unsupported scan type should fail")
	}
	var empty StringArray
	if value, _ := empty.Value(); value != "[]" {
		t.Fatalf("nil array should store [], got %v", value)
	}
}

func TestOpenDBCreatesSQLiteDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	db, err := OpenDB("sqlite", filepath.Join(dir, "engine.db"), DBPoolConfig{}, false)
	if err != nil {
		t.Fatalf("open file sqlite failed: %v", err)
	}
	if err := db.Exec("SELECT 1").Error; err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("sqlite dir should be created: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
