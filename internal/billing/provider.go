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

package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	pkgerrors "upvote-platform/pkg/errors"
)

// InvoiceRequest 创建发票参数；OrderID 使用本地 payment id
type InvoiceRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	URLCallback string `json:"url_callback,omitempty"`
	IsSubtract  int    `json:"is_subtract"`
	Lifetime    int    `json:"lifetime"`
}

// Invoice 支付商返回的发票
type Invoice struct {
	UUID          string `json:"uuid"`
	OrderID       string `json:"order_id"`
	Amount        string `json:"amount"`
	URL           string `json:"url"`
	PaymentStatus string `json:"payment_status"`
}

type providerEnvelope struct {
	State   int             `json:"state"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Provider 支付商 HTTP 客户端；请求体与回调使用同一签名方式
type Provider struct {
	http     *resty.Client
	verifier *Verifier
}

// NewProvider merchantID 作为 userId 头发送
func NewProvider(baseURL, merchantID string, verifier *Verifier, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("userId", merchantID),
		verifier: verifier,
	}
}

// CreateInvoice POST /payment
func (p *Provider) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	if req.Lifetime <= 0 {
		req.Lifetime = 7200
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var env providerEnvelope
	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("sign", p.verifier.Sign(body)).
		SetBody(body).
		SetResult(&env).
		Post("/payment")
	if err != nil {
		return nil, pkgerrors.Transient(err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("payment provider returned %d: %s", resp.StatusCode(), resp.String())
	}
	if env.State != 0 {
		return nil, fmt.Errorf("payment provider rejected invoice: %s", env.Message)
	}
	var inv Invoice
	if err := json.Unmarshal(env.Result, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	if inv.UUID == "" {
		return nil, fmt.Errorf("payment provider returned invoice without uuid")
	}
	return &inv, nil
}
