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

// Package billing 账户余额、支付记录、支付回调验签与幂等入账
package billing

import (
	"encoding/json"
	"math"
	"time"
)

// Status 支付状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// Payment 一笔充值；ProviderRef 为支付商侧 uuid
type Payment struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Amount      float64         `json:"amount"`
	Currency    string          `json:"currency"`
	Method      string          `json:"method"`
	Status      Status          `json:"status"`
	ProviderRef string          `json:"provider_ref,omitempty"`
	CheckoutURL string          `json:"checkout_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
	LastUpdate  time.Time       `json:"last_update"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Clone 拷贝，存储实现返回副本
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	if p.CancelledAt != nil {
		t := *p.CancelledAt
		c.CancelledAt = &t
	}
	if p.Payload != nil {
		c.Payload = append(json.RawMessage(nil), p.Payload...)
	}
	return &c
}

// providerStatus 支付商状态 → 本地状态
var providerStatus = map[string]Status{
	"paid":                 StatusCompleted,
	"paid_over":            StatusCompleted,
	"process":              StatusPending,
	"confirm_check":        StatusPending,
	"check":                StatusPending,
	"wrong_amount_waiting": StatusPending,
	"wrong_amount":         StatusFailed,
	"fail":                 StatusFailed,
	"system_fail":          StatusFailed,
	"refund_fail":          StatusFailed,
	"cancel":               StatusCancelled,
	"refund_process":       StatusRefunded,
	"refund_paid":          StatusRefunded,
}

// MapProviderStatus 未知状态视为 pending
func MapProviderStatus(s string) Status {
	if st, ok := providerStatus[s]; ok {
		return st
	}
	return StatusPending
}

// CanTransition completed 之后只能退款，refunded 为终态；其余状态之间可任意变化
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusCompleted:
		return to == StatusRefunded
	case StatusRefunded:
		return false
	}
	return true
}

// BalanceDelta 迁移对余额的影响：首次进入 completed 入账，completed → refunded 扣回
func BalanceDelta(p *Payment, to Status) float64 {
	switch {
	case to == StatusCompleted && p.Status != StatusCompleted:
		return p.Amount
	case to == StatusRefunded && p.Status == StatusCompleted:
		return -p.Amount
	}
	return 0
}

// applyStatus 写入状态与时间戳
func applyStatus(p *Payment, to Status, payload []byte, now time.Time) {
	p.Status = to
	switch to {
	case StatusCompleted:
		if p.CompletedAt == nil {
			p.CompletedAt = &now
		}
	case StatusCancelled:
		if p.CancelledAt == nil {
			p.CancelledAt = &now
		}
	}
	if payload != nil {
		p.Payload = append(json.RawMessage(nil), payload...)
	}
	p.LastUpdate = now
}

// Round 金额保留 6 位小数
func Round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
