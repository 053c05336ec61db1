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

package middleware

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"golang.org/x/time/rate"

	"upvote-platform/pkg/config"
)

// Middleware 中间件管理器
type Middleware struct {
	allowOrigins []string
	limiter      *rate.Limiter
}

// NewMiddleware 根据 API 配置创建；RateLimit 关闭或 RPS<=0 时不限流
func NewMiddleware(cfg config.APIConfig) *Middleware {
	m := &Middleware{allowOrigins: cfg.CORS.AllowOrigins}
	if cfg.Middleware.RateLimit && cfg.Middleware.RateLimitRPS > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.Middleware.RateLimitRPS), cfg.Middleware.RateLimitRPS)
	}
	return m
}

func (m *Middleware) origin(reqOrigin string) string {
	if len(m.allowOrigins) == 0 {
		return "*"
	}
	for _, o := range m.allowOrigins {
		if o == "*" || strings.EqualFold(o, reqOrigin) {
			return reqOrigin
		}
	}
	return ""
}

// CORS 跨域处理；OPTIONS 预检直接返回 204
func (m *Middleware) CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if origin := m.origin(string(c.GetHeader("Origin"))); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-User-ID")
			c.Header("Access-Control-Max-Age", "86400")
		}
		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}

// RateLimit 进程级令牌桶限流
func (m *Middleware) RateLimit() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if m.limiter != nil && !m.limiter.Allow() {
			c.JSON(consts.StatusTooManyRequests, map[string]string{
				"error": "请求过于频繁，请稍后再试",
			})
			c.Abort()
			return
		}
		c.Next(ctx)
	}
}
