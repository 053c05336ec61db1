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

package http

import (
	"bytes"
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"upvote-platform/internal/api/apierr"
	"upvote-platform/internal/api/http/middleware"
	"upvote-platform/internal/autoorder"
	"upvote-platform/internal/billing"
	"upvote-platform/internal/order"
	"upvote-platform/internal/reconcile"
	"upvote-platform/internal/settings"
	"upvote-platform/pkg/errors"
	"upvote-platform/pkg/log"
	"upvote-platform/pkg/metrics"
)

// Handler 商务服务 HTTP 处理器
type Handler struct {
	orders     *order.Service
	limits     settings.Provider
	logger     *log.Logger
	reconciler *reconcile.Reconciler
	autoOrders *autoorder.Service
	billing    *billing.Service
	queue      *order.Queue
	pool       *order.Pool
}

// NewHandler 创建处理器；其余依赖通过 Set* 注入，未注入的路由返回 503
func NewHandler(orders *order.Service, limits settings.Provider, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Handler{orders: orders, limits: limits, logger: logger}
}

// SetReconciler GET /api/orders/:id 返回前先对账
func (h *Handler) SetReconciler(r *reconcile.Reconciler) { h.reconciler = r }

// SetAutoOrders 注入自动订单服务
func (h *Handler) SetAutoOrders(s *autoorder.Service) { h.autoOrders = s }

// SetBilling 注入支付服务
func (h *Handler) SetBilling(s *billing.Service) { h.billing = s }

// SetDispatch 健康检查展示队列与 worker 状态
func (h *Handler) SetDispatch(q *order.Queue, p *order.Pool) {
	h.queue = q
	h.pool = p
}

func (h *Handler) fail(ctx context.Context, c *app.RequestContext, err error) {
	apierr.Write(ctx, c, h.logger, err)
}

func unavailable(c *app.RequestContext, what string) {
	c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": what + " not configured"})
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	resp := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "api-service",
	}
	if h.queue != nil {
		resp["queue_depth"] = h.queue.Len()
	}
	if h.pool != nil {
		resp["processing"] = h.pool.Processing()
	}
	c.JSON(consts.StatusOK, resp)
}

// Metrics Prometheus 文本格式
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		h.fail(ctx, c, err)
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// GetLimits 执行服务拉取的下单边界
func (h *Handler) GetLimits(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, h.limits.Limits(ctx))
}

// CreateOrder POST /api/orders
func (h *Handler) CreateOrder(ctx context.Context, c *app.RequestContext) {
	var req order.CreateRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.OwnerID = middleware.OwnerID(c)
	req.AutoOrderID = ""
	o, err := h.orders.Create(ctx, req)
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, o)
}

// ListOrders GET /api/orders
func (h *Handler) ListOrders(ctx context.Context, c *app.RequestContext) {
	list, err := h.orders.List(ctx, middleware.OwnerID(c))
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	if list == nil {
		list = []*order.Order{}
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"orders": list, "total": len(list)})
}

// GetOrder GET /api/orders/:id；活跃订单先与执行服务对账，执行服务不可达时返回账本中的状态
func (h *Handler) GetOrder(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	owner := middleware.OwnerID(c)
	o, err := h.orders.Get(ctx, id, owner)
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	if h.reconciler != nil && o.Status.Active() {
		outcome, rerr := h.reconciler.ReconcileOne(ctx, o)
		if rerr != nil {
			h.logger.Debug("查询时对账失败", "order_id", id, "error", rerr)
		}
		if outcome == reconcile.OutcomeMirrored || outcome == reconcile.OutcomeInterrupted {
			if fresh, err := h.orders.Get(ctx, id, owner); err == nil {
				o = fresh
			}
		}
	}
	c.JSON(consts.StatusOK, o)
}

func (h *Handler) orderAction(action func(ctx context.Context, id, owner string) (*order.Order, error)) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		o, err := action(ctx, c.Param("id"), middleware.OwnerID(c))
		if err != nil {
			h.fail(ctx, c, err)
			return
		}
		c.JSON(consts.StatusOK, o)
	}
}

// CancelOrder DELETE /api/orders/:id
func (h *Handler) CancelOrder(ctx context.Context, c *app.RequestContext) {
	h.orderAction(h.orders.Cancel)(ctx, c)
}

// RetryOrder POST /api/orders/:id/retry
func (h *Handler) RetryOrder(ctx context.Context, c *app.RequestContext) {
	h.orderAction(h.orders.Retry)(ctx, c)
}

// PauseOrder POST /api/orders/:id/pause
func (h *Handler) PauseOrder(ctx context.Context, c *app.RequestContext) {
	h.orderAction(h.orders.Pause)(ctx, c)
}

// ResumeOrder POST /api/orders/:id/resume
func (h *Handler) ResumeOrder(ctx context.Context, c *app.RequestContext) {
	h.orderAction(h.orders.Resume)(ctx, c)
}

// CreateAutoOrder POST /api/auto-orders
func (h *Handler) CreateAutoOrder(ctx context.Context, c *app.RequestContext) {
	if h.autoOrders == nil {
		unavailable(c, "auto orders")
		return
	}
	var req autoorder.CreateRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.OwnerID = middleware.OwnerID(c)
	a, err := h.autoOrders.Create(ctx, req)
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, a)
}

// ListAutoOrders GET /api/auto-orders
func (h *Handler) ListAutoOrders(ctx context.Context, c *app.RequestContext) {
	if h.autoOrders == nil {
		unavailable(c, "auto orders")
		return
	}
	list, err := h.autoOrders.List(ctx, middleware.OwnerID(c))
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	if list == nil {
		list = []*autoorder.AutoOrder{}
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"auto_orders": list, "total": len(list)})
}

func (h *Handler) autoOrderAction(action func(s *autoorder.Service) func(ctx context.Context, id, owner string) (*autoorder.AutoOrder, error)) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if h.autoOrders == nil {
			unavailable(c, "auto orders")
			return
		}
		a, err := action(h.autoOrders)(ctx, c.Param("id"), middleware.OwnerID(c))
		if err != nil {
			h.fail(ctx, c, err)
			return
		}
		c.JSON(consts.StatusOK, a)
	}
}

// PauseAutoOrder POST /api/auto-orders/:id/pause
func (h *Handler) PauseAutoOrder(ctx context.Context, c *app.RequestContext) {
	h.autoOrderAction(func(s *autoorder.Service) func(context.Context, string, string) (*autoorder.AutoOrder, error) {
		return s.Pause
	})(ctx, c)
}

// ResumeAutoOrder POST /api/auto-orders/:id/resume
func (h *Handler) ResumeAutoOrder(ctx context.Context, c *app.RequestContext) {
	h.autoOrderAction(func(s *autoorder.Service) func(context.Context, string, string) (*autoorder.AutoOrder, error) {
		return s.Resume
	})(ctx, c)
}

// CancelAutoOrder DELETE /api/auto-orders/:id
func (h *Handler) CancelAutoOrder(ctx context.Context, c *app.RequestContext) {
	h.autoOrderAction(func(s *autoorder.Service) func(context.Context, string, string) (*autoorder.AutoOrder, error) {
		return s.Cancel
	})(ctx, c)
}

type createPaymentRequest struct {
	Amount float64 `json:"amount"`
	Method string  `json:"method"`
}

// CreatePayment POST /api/payments
func (h *Handler) CreatePayment(ctx context.Context, c *app.RequestContext) {
	if h.billing == nil {
		unavailable(c, "payments")
		return
	}
	var req createPaymentRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	p, err := h.billing.CreatePayment(ctx, middleware.OwnerID(c), req.Amount, req.Method)
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, p)
}

// ListPayments GET /api/payments
func (h *Handler) ListPayments(ctx context.Context, c *app.RequestContext) {
	if h.billing == nil {
		unavailable(c, "payments")
		return
	}
	list, err := h.billing.ListPayments(ctx, middleware.OwnerID(c))
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	if list == nil {
		list = []*billing.Payment{}
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"payments": list, "total": len(list)})
}

// Balance GET /api/balance
func (h *Handler) Balance(ctx context.Context, c *app.RequestContext) {
	if h.billing == nil {
		unavailable(c, "payments")
		return
	}
	owner := middleware.OwnerID(c)
	balance, err := h.billing.Balance(ctx, owner)
	if err != nil {
		h.fail(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"owner_id": owner, "balance": balance})
}

// PaymentWebhook POST /api/payments/webhook；签名校验基于原始请求体
func (h *Handler) PaymentWebhook(ctx context.Context, c *app.RequestContext) {
	if h.billing == nil {
		unavailable(c, "payments")
		return
	}
	body := append([]byte(nil), c.Request.Body()...)
	outcome, err := h.billing.HandleWebhook(ctx, body, string(c.GetHeader("sign")))
	if err != nil {
		if errors.Is(err, errors.ErrWebhookAuth) {
			c.JSON(consts.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}
		h.fail(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]string{"status": "ok", "outcome": string(outcome)})
}
