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

package execution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"upvote-platform/internal/order"
	pkgerrors "upvote-platform/pkg/errors"
)

// ErrSessionNotFound 执行服务明确表示不认识该订单（404）
var ErrSessionNotFound = errors.New("execution session not found, may have been interrupted by restart")

// Client 执行服务 HTTP 客户端
type Client struct {
	http *resty.Client
}

// NewClient 创建客户端；timeout<=0 时默认 60s
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

func errorText(resp *resty.Response) string {
	if e, ok := resp.Error().(*ErrorBody); ok && e != nil && e.Error != "" {
		return e.Error
	}
	return resp.String()
}

// Submit POST /orders；返回 HTTP 状态码以便调用方区分 409/400
func (c *Client) Submit(ctx context.Context, req DispatchRequest) (*AcceptResponse, int, error) {
	var out AcceptResponse
	resp, err := c.http.R().SetContext(ctx).SetBody(req).SetResult(&out).SetError(&ErrorBody{}).Post("/orders")
	if err != nil {
		return nil, 0, pkgerrors.Transient(err)
	}
	if resp.IsError() {
		return nil, resp.StatusCode(), fmt.Errorf("execution service returned %d: %s", resp.StatusCode(), errorText(resp))
	}
	return &out, resp.StatusCode(), nil
}

// Status GET /orders/:id；404 → ErrSessionNotFound，网络错误与 5xx → TransientError
func (c *Client) Status(ctx context.Context, orderID string) (*SessionView, error) {
	var out SessionView
	resp, err := c.http.R().SetContext(ctx).SetPathParam("id", orderID).SetResult(&out).SetError(&ErrorBody{}).Get("/orders/{id}")
	if err != nil {
		return nil, pkgerrors.Transient(err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, ErrSessionNotFound
	case resp.IsError():
		return nil, pkgerrors.Transient(fmt.Errorf("execution service returned %d: %s", resp.StatusCode(), errorText(resp)))
	}
	return &out, nil
}

// List GET /orders
func (c *Client) List(ctx context.Context) ([]SessionView, error) {
	var out []SessionView
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).SetError(&ErrorBody{}).Get("/orders")
	if err != nil {
		return nil, pkgerrors.Transient(err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("execution service returned %d: %s", resp.StatusCode(), errorText(resp))
	}
	return out, nil
}

// Cancel DELETE /orders/:id；会话已结束（400）不视为错误
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	resp, err := c.http.R().SetContext(ctx).SetPathParam("id", orderID).SetError(&ErrorBody{}).Delete("/orders/{id}")
	if err != nil {
		return pkgerrors.Transient(err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return ErrSessionNotFound
	case resp.StatusCode() == http.StatusBadRequest:
		return nil
	case resp.IsError():
		return fmt.Errorf("execution service returned %d: %s", resp.StatusCode(), errorText(resp))
	}
	return nil
}

// Retry POST /orders/:id/retry
func (c *Client) Retry(ctx context.Context, orderID string) (*AcceptResponse, error) {
	var out AcceptResponse
	resp, err := c.http.R().SetContext(ctx).SetPathParam("id", orderID).SetResult(&out).SetError(&ErrorBody{}).Post("/orders/{id}/retry")
	if err != nil {
		return nil, pkgerrors.Transient(err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrSessionNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("execution service returned %d: %s", resp.StatusCode(), errorText(resp))
	}
	return &out, nil
}

// Health GET /health
func (c *Client) Health(ctx context.Context) (*HealthView, error) {
	var out HealthView
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/health")
	if err != nil {
		return nil, pkgerrors.Transient(err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("execution service returned %d", resp.StatusCode())
	}
	return &out, nil
}

// RemoteAdapter 通过执行服务派发订单，实现 order.Dispatcher
type RemoteAdapter struct {
	client *Client
}

// NewRemoteAdapter 创建远程适配器
func NewRemoteAdapter(client *Client) *RemoteAdapter {
	return &RemoteAdapter{client: client}
}

// Dispatch 200/409 → processing（执行服务已持有会话）；400 与其它失败 → failed
func (a *RemoteAdapter) Dispatch(ctx context.Context, o *order.Order) order.Result {
	_, code, err := a.client.Submit(ctx, DispatchRequest{
		OrderID:         o.ID,
		TargetReference: o.TargetReference,
		Quantity:        o.Quantity,
		Rate:            o.Rate,
	})
	switch {
	case err == nil:
		return order.Result{Status: order.StatusProcessing}
	case code == http.StatusConflict:
		return order.Result{Status: order.StatusProcessing}
	default:
		return order.Result{Status: order.StatusFailed, Error: err.Error()}
	}
}
