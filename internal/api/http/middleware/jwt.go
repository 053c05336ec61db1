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
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/jwt"
)

// IdentityKey JWT claim 与 RequestContext 中保存用户 id 的键
const IdentityKey = "user_id"

// HeaderUserID 未启用 JWT 时由上游网关注入的用户标识
const HeaderUserID = "X-User-ID"

// NewJWTAuth 创建 JWT 中间件；token 由外部签发，claim user_id 为订单归属
func NewJWTAuth(key []byte, timeout, maxRefresh time.Duration) (*jwt.HertzJWTMiddleware, error) {
	return jwt.New(&jwt.HertzJWTMiddleware{
		Realm:       "upvote-platform",
		Key:         key,
		Timeout:     timeout,
		MaxRefresh:  maxRefresh,
		IdentityKey: IdentityKey,
		TokenLookup: "header: Authorization, query: token",
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if id, ok := data.(string); ok {
				return jwt.MapClaims{IdentityKey: id}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			if id, ok := claims[IdentityKey].(string); ok {
				return id
			}
			return nil
		},
		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			c.JSON(code, map[string]string{"error": message})
		},
	})
}

// HeaderIdentity 未启用 JWT 时从 X-User-ID 读取用户，缺失返回 401
func HeaderIdentity() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		id := strings.TrimSpace(string(c.GetHeader(HeaderUserID)))
		if id == "" {
			c.JSON(consts.StatusUnauthorized, map[string]string{
				"error": fmt.Sprintf("authentication required: missing %s header", HeaderUserID),
			})
			c.Abort()
			return
		}
		c.Set(IdentityKey, id)
		c.Next(ctx)
	}
}

// OwnerID 读取当前请求的用户 id
func OwnerID(c *app.RequestContext) string {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
