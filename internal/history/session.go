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

// Package history 执行服务私有的会话日志：按订单 id 记录执行会话，进程重启后据此判定被中断的会话
package history

import (
	"context"
	"time"
)

// 会话状态
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Session 一次执行会话
type Session struct {
	OrderID         string     `json:"order_id"`
	TargetReference string     `json:"target_reference"`
	Quantity        int        `json:"quantity"`
	Rate            int        `json:"rate"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastUpdate      time.Time  `json:"last_update"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Done            int        `json:"done"`
	Progress        float64    `json:"progress"`
}

// Active pending 或 running
func (s *Session) Active() bool {
	return s.Status == StatusPending || s.Status == StatusRunning
}

// Terminal completed 或 failed
func (s *Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// SetStatus 更新状态并维护时间戳：running 记录 started_at，终态记录 completed_at
func (s *Session) SetStatus(status, errMsg string, now time.Time) {
	s.Status = status
	switch status {
	case StatusRunning:
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
	case StatusCompleted, StatusFailed:
		if s.CompletedAt == nil {
			s.CompletedAt = &now
		}
		if status == StatusCompleted {
			s.Done = s.Quantity
			s.Progress = 100
		}
	}
	if errMsg != "" {
		s.ErrorMessage = errMsg
	}
	s.LastUpdate = now
}

// Store 会话日志存储；Get 不存在时返回 nil, nil
type Store interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, orderID string) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	// ListCreatedBefore 返回 created_at 早于 cutoff 的订单 id，最多 limit 条（<=0 不限）
	ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	Delete(ctx context.Context, orderIDs []string) (int, error)
	Close() error
}
