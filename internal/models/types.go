package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// JSON 任意结构的 JSON 列（联系方式、审计明细等）
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return encodeJSONColumn(j)
}

func (j *JSON) Scan(value interface{}) error {
	*j = JSON{}
	return decodeJSONColumn(value, j)
}

// StringArray 以 JSON 数组存储的字符串列表（服务区域、推理过程、评价等）
type StringArray []string

// Value nil 与空数组都存为 []
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return encodeJSONColumn(s)
}

func (s *StringArray) Scan(value interface{}) error {
	*s = StringArray{}
	return decodeJSONColumn(value, s)
}

// Normalized 小写、去空白、去重，保持首次出现顺序
func (s StringArray) Normalized() []string {
	out := make([]string, 0, len(s))
	seen := make(map[string]bool, len(s))
	for _, item := range s {
		key := strings.ToLower(strings.TrimSpace(item))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

func encodeJSONColumn(v interface{}) (driver.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// decodeJSONColumn 兼容 postgres (text/jsonb 返回 []byte) 与 sqlite (string)；空值保持零值
func decodeJSONColumn(value interface{}, dest interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
