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

// Package autoorder 周期性订单模板：按频率定时生成普通订单
package autoorder

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Frequency 生成频率
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Period 频率对应的间隔；月按 30 天计
func (f Frequency) Period() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// Valid 是否为已知频率
func (f Frequency) Valid() bool {
	return f == FrequencyDaily || f == FrequencyWeekly || f == FrequencyMonthly
}

// Status 模板状态
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

// AutoOrder 订单模板
type AutoOrder struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	TargetReference string     `json:"target_reference"`
	Quantity        int        `json:"quantity"`
	Rate            int        `json:"rate"`
	Frequency       Frequency  `json:"frequency"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	NextRunAt       time.Time  `json:"next_run_at"`
	PausedAt        *time.Time `json:"paused_at,omitempty"`
}

// Clone 拷贝
func (a *AutoOrder) Clone() *AutoOrder {
	if a == nil {
		return nil
	}
	c := *a
	if a.LastRunAt != nil {
		t := *a.LastRunAt
		c.LastRunAt = &t
	}
	if a.PausedAt != nil {
		t := *a.PausedAt
		c.PausedAt = &t
	}
	return &c
}

// Store 模板存储；Save 仅当当前状态等于 expect 时写入整行
type Store interface {
	Create(ctx context.Context, a *AutoOrder) error
	// Get 不存在时返回 nil, nil
	Get(ctx context.Context, id string) (*AutoOrder, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*AutoOrder, error)
	// ListDue active 且 next_run_at <= now
	ListDue(ctx context.Context, now time.Time) ([]*AutoOrder, error)
	Save(ctx context.Context, a *AutoOrder, expect Status) (bool, error)
	// Advance 条件推进：仅当 active 且 next_run_at 仍为 expectNext 时写入 next/lastRun
	Advance(ctx context.Context, id string, expectNext, next time.Time, lastRun *time.Time) (bool, error)
}

func prepareNew(a *AutoOrder, now time.Time) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.Status = StatusActive
	a.CreatedAt = now
	a.NextRunAt = now.Add(a.Frequency.Period())
}
