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
// Package exechttp 执行服务的 HTTP 接口：接收派发、查询会话、取消与重试
package exechttp

import (
	"bytes"
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"upvote-platform/internal/api/apierr"
	"upvote-platform/internal/execution"
	"upvote-platform/internal/executor"
	"upvote-platform/pkg/errors"
	"upvote-platform/pkg/log"
	"upvote-platform/pkg/metrics"
)

// Handler 执行服务处理器
type Handler struct {
	svc    *executor.Service
	logger *log.Logger
}

// NewHandler 创建处理器
func NewHandler(svc *executor.Service, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) fail(ctx context.Context, c *app.RequestContext, err error) {
	if errors.Is(err, executor.ErrFinished) || errors.Is(err, executor.ErrNotRetryable) {
		c.JSON(consts.StatusBadRequest, execution.ErrorBody{Error: err.Error()})
		return
	}
	apierr.Write(ctx, c, h.logger, err)
}

// Submit POST /orders
func (h *Handler) Submit(ctx context.Context, c *app.RequestContext) {
	var req execution.DispatchRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, execution.ErrorBody{Error: "invalid request body"})
		return
	}
	sess, err := h.svc.Accept(ctx, req)
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, execution.AcceptResponse{
		Success: true,
		Status:  sess.Status,
		OrderID: sess.OrderID,
		Message: "order accepted",
	})
}

// List GET /orders
func (h *Handler) List(ctx context.Context, c *app.RequestContext) {
	list, err := h.svc.List(ctx)
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	views := make([]execution.SessionView, 0, len(list))
	for _, s := range list {
		views = append(views, executor.View(s))
	}
	c.JSON(consts.StatusOK, views)
}

// Get GET /orders/:id
func (h *Handler) Get(ctx context.Context, c *app.RequestContext) {
	sess, err := h.svc.Get(ctx, c.Param("id"))
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, executor.View(sess))
}

// Cancel DELETE /orders/:id
func (h *Handler) Cancel(ctx context.Context, c *app.RequestContext) {
	sess, err := h.svc.Cancel(ctx, c.Param("id"))
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, executor.View(sess))
}

// Retry POST /orders/:id/retry
func (h *Handler) Retry(ctx context.Context, c *app.RequestContext) {
	sess, err := h.svc.Retry(ctx, c.Param("id"))
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, execution.AcceptResponse{
		Success: true,
		Status:  sess.Status,
		OrderID: sess.OrderID,
		Message: "order restarted",
	})
}

// Health GET /health
func (h *Handler) Health(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, h.svc.Health())
}

// Metrics GET /metrics
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		h.fail(ctx, c, err)
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}
