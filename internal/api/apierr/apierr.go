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

// Package apierr 将领域错误映射为 HTTP 状态码与 {error} 响应体
package apierr

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"upvote-platform/pkg/errors"
	"upvote-platform/pkg/log"
)

// Status 错误对应的状态码
func Status(err error) int {
	var ve *errors.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, errors.ErrInvalidArg):
		return consts.StatusBadRequest
	case errors.Is(err, errors.ErrWebhookAuth):
		return consts.StatusUnauthorized
	case errors.Is(err, errors.ErrInsufficientFunds):
		return consts.StatusPaymentRequired
	case errors.Is(err, errors.ErrNotFound):
		return consts.StatusNotFound
	case errors.Is(err, errors.ErrConflict):
		return consts.StatusConflict
	case errors.IsTransient(err):
		return consts.StatusServiceUnavailable
	default:
		return consts.StatusInternalServerError
	}
}

// Write 写入错误响应；5xx 只返回概要信息，详情记录日志
func Write(ctx context.Context, c *app.RequestContext, logger *log.Logger, err error) {
	status := Status(err)
	msg := err.Error()
	if status >= consts.StatusInternalServerError {
		if logger != nil {
			logger.Error("请求处理失败", "path", string(c.Path()), "error", err)
		}
		msg = "internal error"
		if status == consts.StatusServiceUnavailable {
			msg = "service temporarily unavailable"
		}
	}
	c.JSON(status, map[string]string{"error": msg})
}
