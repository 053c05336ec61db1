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
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/hertz-contrib/jwt"

	"upvote-platform/internal/api/http/middleware"
)

// Router 商务服务路由
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	jwt        *jwt.HertzJWTMiddleware
}

// NewRouter 创建路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: mw}
}

// SetJWT 启用 JWT；未设置时用户身份取自 X-User-ID
func (r *Router) SetJWT(j *jwt.HertzJWTMiddleware) {
	r.jwt = j
}

func (r *Router) identity() app.HandlerFunc {
	if r.jwt != nil {
		return r.jwt.MiddlewareFunc()
	}
	return middleware.HeaderIdentity()
}

// Build 创建 Hertz 实例并注册路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(opts...)
	h.Use(r.middleware.CORS(), r.middleware.RateLimit())

	h.GET("/metrics", r.handler.Metrics)

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)
	api.GET("/settings/limits", r.handler.GetLimits)
	api.POST("/payments/webhook", r.handler.PaymentWebhook)

	authed := api.Group("", r.identity())
	{
		orders := authed.Group("/orders")
		orders.POST("", r.handler.CreateOrder)
		orders.GET("", r.handler.ListOrders)
		orders.GET("/:id", r.handler.GetOrder)
		orders.DELETE("/:id", r.handler.CancelOrder)
		orders.POST("/:id/retry", r.handler.RetryOrder)
		orders.POST("/:id/pause", r.handler.PauseOrder)
		orders.POST("/:id/resume", r.handler.ResumeOrder)

		auto := authed.Group("/auto-orders")
		auto.POST("", r.handler.CreateAutoOrder)
		auto.GET("", r.handler.ListAutoOrders)
		auto.POST("/:id/pause", r.handler.PauseAutoOrder)
		auto.POST("/:id/resume", r.handler.ResumeAutoOrder)
		auto.DELETE("/:id", r.handler.CancelAutoOrder)

		authed.POST("/payments", r.handler.CreatePayment)
		authed.GET("/payments", r.handler.ListPayments)
		authed.GET("/balance", r.handler.Balance)
	}
	return h
}
