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

// Package execution 执行适配：本地子进程运行 bot，或经 HTTP 委托给执行服务
package execution

import "time"

// 执行会话状态（执行服务侧的词汇）
const (
	SessionPending   = "pending"
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// DispatchRequest 派发请求；同时是子进程 stdin 与 POST /orders 的请求体
type DispatchRequest struct {
	OrderID         string `json:"order_id"`
	TargetReference string `json:"target_reference"`
	Quantity        int    `json:"quantity"`
	Rate            int    `json:"rate"`
}

// AcceptResponse POST /orders 与 POST /orders/:id/retry 的响应
type AcceptResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
	Message string `json:"message,omitempty"`
}

// SessionView GET /orders/:id 的响应
type SessionView struct {
	OrderID         string     `json:"order_id"`
	TargetReference string     `json:"target_reference"`
	Quantity        int        `json:"quantity"`
	Rate            int        `json:"rate"`
	Status          string     `json:"status"`
	Done            int        `json:"upvotes_done"`
	Progress        float64    `json:"progress_percentage"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastUpdate      time.Time  `json:"last_update"`
}

// HealthView GET /health 的响应
type HealthView struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	ActiveOrders   int       `json:"active_orders"`
	TotalProcessed int       `json:"total_processed"`
}

// ErrorBody 错误响应体
type ErrorBody struct {
	Error string `json:"error"`
}
