// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package redaction 对 JSON 负载按字段路径脱敏，用于落库前清除签名等敏感字段
package redaction

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Mode 脱敏模式
type Mode string

const (
	ModeRedact Mode = "redact" // 替换为 "***REDACTED***"
	ModeHash   Mode = "hash"   // 替换为加盐 SHA256
	ModeRemove Mode = "remove" // 删除字段
)

// Rule 字段规则；Path 以 "." 分隔，如 "invoice_info.email"
type Rule struct {
	Path string
	Mode Mode
	Salt string
}

// Engine 按规则脱敏
type Engine struct {
	rules []Rule
}

// NewEngine 创建脱敏引擎
func NewEngine(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Redact 对 JSON 对象应用全部规则；空输入或无规则时原样返回，非 JSON 对象返回错误
func (e *Engine) Redact(data []byte) ([]byte, error) {
	if e == nil || len(e.rules) == 0 || len(data) == 0 {
		return data, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("redact: %w", err)
	}
	changed := false
	for _, rule := range e.rules {
		if e.apply(obj, rule) {
			changed = true
		}
	}
	if !changed {
		return data, nil
	}
	return json.Marshal(obj)
}

func (e *Engine) apply(obj map[string]interface{}, rule Rule) bool {
	parts := strings.Split(rule.Path, ".")
	current := obj
	for _, p := range parts[:len(parts)-1] {
		next, ok := current[p].(map[string]interface{})
		if !ok {
			return false
		}
		current = next
	}
	key := parts[len(parts)-1]
	value, ok := current[key]
	if !ok {
		return false
	}
	switch rule.Mode {
	case ModeRedact:
		current[key] = "***REDACTED***"
	case ModeHash:
		current[key] = hashValue(fmt.Sprintf("%v", value), rule.Salt)
	case ModeRemove:
		delete(current, key)
	default:
		return false
	}
	return true
}

func hashValue(value, salt string) string {
	h := sha256.New()
	h.Write([]byte(value))
	h.Write([]byte(salt))
	return "hash:" + hex.EncodeToString(h.Sum(nil))
}
