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
	"strconv"
	"strings"
	"sync"
	"time"

	"upvote-platform/pkg/errors"
	"upvote-platform/pkg/log"
	"upvote-platform/pkg/metrics"
	"upvote-platform/pkg/redaction"
	"upvote-platform/pkg/tracing"
)

// Webhook 支付商回调中用到的字段
type Webhook struct {
	UUID    string `json:"uuid"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Amount  string `json:"amount"`
}

// Outcome 回调处理结果
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
)

// Config 支付服务配置
type Config struct {
	Currency       string
	CallbackURL    string
	PendingTimeout time.Duration // 默认 1h
	SweepInterval  time.Duration // 默认 5m
}

// Invoicer 创建发票；Provider 实现
type Invoicer interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
}

// Service 充值、回调入账与过期支付扫描
type Service struct {
	store    Store
	verifier *Verifier
	invoicer Invoicer
	redactor *redaction.Engine
	config   Config
	logger   *log.Logger
	now      func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewService invoicer 可为 nil（未配置支付商时只能处理回调）
func NewService(store Store, verifier *Verifier, invoicer Invoicer, config Config, logger *log.Logger) *Service {
	if config.Currency == "" {
		config.Currency = "USD"
	}
	if config.PendingTimeout <= 0 {
		config.PendingTimeout = time.Hour
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		store:    store,
		verifier: verifier,
		invoicer: invoicer,
		redactor: redaction.NewEngine(redaction.Rule{Path: "sign", Mode: redaction.ModeRemove}),
		config:   config,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		stopCh:   make(chan struct{}),
	}
}

// CreatePayment 创建 pending 支付并向支付商申请发票，provider uuid 作为关联 id
func (s *Service) CreatePayment(ctx context.Context, ownerID string, amount float64, method string) (*Payment, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, errors.Validation("owner_id", "is required")
	}
	amount = Round(amount)
	if amount <= 0 {
		return nil, errors.Validation("amount", "must be greater than 0")
	}
	if s.invoicer == nil {
		return nil, errors.New("payment provider not configured")
	}
	if method == "" {
		method = "crypto"
	}
	p := &Payment{OwnerID: ownerID, Amount: amount, Currency: s.config.Currency, Method: method}
	prepareNew(p, s.now())
	inv, err := s.invoicer.CreateInvoice(ctx, InvoiceRequest{
		Amount:      strconv.FormatFloat(amount, 'f', 2, 64),
		Currency:    s.config.Currency,
		OrderID:     p.ID,
		URLCallback: s.config.CallbackURL,
		IsSubtract:  1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create invoice")
	}
	p.ProviderRef = inv.UUID
	p.CheckoutURL = inv.URL
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("支付已创建", "payment_id", p.ID, "owner_id", ownerID, "amount", amount, "provider_ref", inv.UUID)
	return p, nil
}

// ListPayments 按创建时间倒序
func (s *Service) ListPayments(ctx context.Context, ownerID string) ([]*Payment, error) {
	return s.store.ListPayments(ctx, ownerID)
}

// Balance 当前余额
func (s *Service) Balance(ctx context.Context, ownerID string) (float64, error) {
	return s.store.Balance(ctx, ownerID)
}

// HandleWebhook 先验签再解析；验签失败返回 ErrWebhookAuth 且不读取任何字段
func (s *Service) HandleWebhook(ctx context.Context, body []byte, headerSign string) (Outcome, error) {
	if !s.verifier.VerifyRequest(body, headerSign) {
		metrics.WebhookTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("支付回调签名无效", "body_size", len(body))
		return "", errors.ErrWebhookAuth
	}
	var wh Webhook
	if err := json.Unmarshal(body, &wh); err != nil {
		metrics.WebhookTotal.WithLabelValues("rejected").Inc()
		return "", errors.Validation("body", "invalid webhook payload: %v", err)
	}
	return s.Apply(ctx, wh, body)
}

func (s *Service) lookup(ctx context.Context, wh Webhook) (*Payment, error) {
	p, err := s.store.GetByProviderRef(ctx, wh.UUID)
	if err != nil || p != nil {
		return p, err
	}
	if wh.OrderID == "" {
		return nil, nil
	}
	return s.store.GetPayment(ctx, wh.OrderID)
}

// Apply 按回调状态推进支付；重复投递或并发投递最多入账一次
func (s *Service) Apply(ctx context.Context, wh Webhook, payload []byte) (outcome Outcome, err error) {
	ctx, span := tracing.StartWebhookSpan(ctx, wh.UUID)
	defer func() { tracing.EndSpan(span, err) }()

	p, err := s.lookup(ctx, wh)
	if err != nil {
		return "", err
	}
	if p == nil {
		metrics.WebhookTotal.WithLabelValues("unknown_payment").Inc()
		s.logger.Warn("支付回调找不到对应支付", "provider_ref", wh.UUID, "order_id", wh.OrderID)
		return "", errors.Wrapf(errors.ErrNotFound, "payment %s", wh.UUID)
	}
	to := MapProviderStatus(wh.Status)
	if !CanTransition(p.Status, to) {
		metrics.WebhookTotal.WithLabelValues("duplicate").Inc()
		return OutcomeDuplicate, nil
	}
	delta := BalanceDelta(p, to)
	// 签名不落库
	if clean, rerr := s.redactor.Redact(payload); rerr == nil {
		payload = clean
	}
	ok, err := s.store.ApplyStatus(ctx, p.ID, p.Status, to, payload, delta)
	if err != nil {
		return "", err
	}
	if !ok {
		// 并发投递已先一步推进
		metrics.WebhookTotal.WithLabelValues("duplicate").Inc()
		return OutcomeDuplicate, nil
	}
	metrics.WebhookTotal.WithLabelValues("applied").Inc()
	switch {
	case delta > 0:
		metrics.CreditTotal.WithLabelValues("credit").Inc()
	case delta < 0:
		metrics.CreditTotal.WithLabelValues("refund").Inc()
	}
	s.logger.Info("支付状态更新", "payment_id", p.ID, "from", p.Status, "to", to, "provider_status", wh.Status, "delta", delta)
	return OutcomeApplied, nil
}

// SweepStale pending 超过 PendingTimeout 的支付判为 failed，不影响余额
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	pending, err := s.store.ListByStatus(ctx, StatusPending)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-s.config.PendingTimeout)
	payload, _ := json.Marshal(map[string]string{"reason": errors.ReasonPaymentTimeout})
	n := 0
	for _, p := range pending {
		if !p.CreatedAt.Before(cutoff) {
			continue
		}
		ok, err := s.store.ApplyStatus(ctx, p.ID, StatusPending, StatusFailed, payload, 0)
		if err != nil {
			return n, err
		}
		if ok {
			n++
			s.logger.Info("支付超时", "payment_id", p.ID, "created_at", p.CreatedAt)
		}
	}
	metrics.SweepTotal.WithLabelValues("payment_timeout").Add(float64(n))
	return n, nil
}

// Start 周期扫描过期支付
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepStale(ctx); err != nil {
					s.logger.Error("支付超时扫描失败", "error", err)
				}
			}
		}
	}()
}

// Stop 停止扫描
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}
