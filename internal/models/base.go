package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// BaseModel 模型基类
type BaseModel struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StringList 字符串列表值对象（以JSON形式存储在单列中）
// 前置条件、已达成条件、建议行动、NPC列表等数组字段统一使用该类型，
// 编解码只发生在持久化边界，调用方不会接触到序列化后的字符串。
type StringList []string

// Value 实现driver.Valuer接口
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现sql.Scanner接口
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("无法将 %T 扫描为 StringList", value)
	}

	if len(data) == 0 {
		*l = StringList{}
		return nil
	}

	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("解析 StringList 失败: %w", err)
	}
	*l = StringList(out)
	return nil
}

// Contains 判断列表是否包含指定元素
func (l StringList) Contains(s string) bool {
	for _, item := range l {
		if item == s {
			return true
		}
	}
	return false
}

// Merge 合并另一个列表（去重，保持原有顺序，只增不减）
func (l StringList) Merge(other []string) StringList {
	merged := make(StringList, len(l))
	copy(merged, l)
	for _, s := range other {
		if !merged.Contains(s) {
			merged = append(merged, s)
		}
	}
	return merged
}

// ContainsAll 判断列表是否包含所有指定元素
func (l StringList) ContainsAll(items []string) bool {
	for _, item := range items {
		if !l.Contains(item) {
			return false
		}
	}
	return true
}

// JSONMap JSON字典值对象
type JSONMap map[string]interface{}

// Value 实现driver.Valuer接口
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]interface{}(m))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现sql.Scanner接口
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("无法将 %T 扫描为 JSONMap", value)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("解析 JSONMap 失败: %w", err)
	}
	*m = JSONMap(out)
	return nil
}
