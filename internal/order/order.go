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

// Package order 订单账本、任务队列与 worker 池：创建 → 入队 → worker 认领 → Dispatcher 执行 → 账本记录结果
package order

import (
	"time"
)

// Status 订单状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress" // 已被 worker 认领，正在派发
	StatusProcessing Status = "processing"  // 执行服务已确认接收
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusPaused     Status = "paused"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active 是否需要对账/执行
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress || s == StatusProcessing
}

// Valid 是否为已知状态
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// transitions 允许的状态迁移；终态只接受显式 retry（failed → pending）
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusPaused},
	StatusInProgress: {StatusInProgress, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:     {StatusPending, StatusCancelled},
	StatusFailed:     {StatusPending},
	StatusCompleted:  nil,
	StatusCancelled:  nil,
}

// CanTransition 判断 from → to 是否允许
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Order 一笔互动订单
type Order struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	TargetReference string     `json:"target_reference"`
	Quantity        int        `json:"quantity"`
	Rate            int        `json:"rate"`
	Cost            float64    `json:"cost"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	PausedAt        *time.Time `json:"paused_at,omitempty"`
	DispatchedAt    *time.Time `json:"dispatched_at,omitempty"`
	LastUpdate      time.Time  `json:"last_update"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Done            int        `json:"done"`
	Progress        float64    `json:"progress"`
	AutoOrderID     string     `json:"auto_order_id,omitempty"`
}

// Clone 深拷贝，存储实现返回副本
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.StartedAt = cloneTime(o.StartedAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	c.PausedAt = cloneTime(o.PausedAt)
	c.DispatchedAt = cloneTime(o.DispatchedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Update Transition 附带的字段；nil 表示不修改
type Update struct {
	ErrorMessage *string
	Done         *int
	Progress     *float64
}

// WithError 构造只带错误信息的 Update
func WithError(msg string) Update {
	return Update{ErrorMessage: &msg}
}

// apply 在已校验的迁移上写入状态与时间戳；所有时间由存储层在迁移时设置
func apply(o *Order, to Status, u Update, now time.Time) {
	from := o.Status
	switch to {
	case StatusInProgress:
		if o.StartedAt == nil {
			o.StartedAt = &now
		}
	case StatusProcessing:
		if o.StartedAt == nil {
			o.StartedAt = &now
		}
		if o.DispatchedAt == nil {
			o.DispatchedAt = &now
		}
	case StatusCompleted, StatusFailed:
		if o.CompletedAt == nil {
			o.CompletedAt = &now
		}
		if to == StatusCompleted && u.Done == nil {
			o.Done = o.Quantity
			o.Progress = 100
		}
	case StatusCancelled:
		o.CancelledAt = &now
	case StatusPaused:
		o.PausedAt = &now
	case StatusPending:
		o.PausedAt = nil
		if from == StatusFailed {
			// 重试开始新一轮执行
			o.StartedAt = nil
			o.CompletedAt = nil
			o.DispatchedAt = nil
			o.ErrorMessage = ""
			o.Done = 0
			o.Progress = 0
		}
	}
	if u.ErrorMessage != nil {
		o.ErrorMessage = *u.ErrorMessage
	}
	if u.Done != nil {
		o.Done = *u.Done
	}
	if u.Progress != nil {
		o.Progress = *u.Progress
	}
	o.Status = to
	o.LastUpdate = now
}
