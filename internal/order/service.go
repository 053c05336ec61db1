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

package order

import (
	"context"
	"math"
	"net/url"
	"strings"

	"upvote-platform/internal/settings"
	"upvote-platform/pkg/errors"
	"upvote-platform/pkg/log"
	"upvote-platform/pkg/metrics"
)

// Wallet 账户余额：下单扣款、入账失败时退回
type Wallet interface {
	Debit(ctx context.Context, ownerID string, amount float64) error
	Credit(ctx context.Context, ownerID string, amount float64) error
}

// Canceller 通知执行服务停止订单；尽力而为
type Canceller interface {
	Cancel(ctx context.Context, orderID string) error
}

// CreateRequest 下单参数
type CreateRequest struct {
	OwnerID         string `json:"-"`
	TargetReference string `json:"target_reference"`
	Quantity        int    `json:"quantity"`
	Rate            int    `json:"rate"`
	AutoOrderID     string `json:"-"`
}

// Service 订单用例：校验、计费、写账本、入队；以及取消、重试、暂停、恢复
type Service struct {
	ledger    Ledger
	queue     *Queue
	limits    settings.Provider
	wallet    Wallet
	canceller Canceller
	unitPrice float64
	logger    *log.Logger
}

// NewService 创建订单服务；wallet/canceller 可为 nil
func NewService(ledger Ledger, queue *Queue, limits settings.Provider, wallet Wallet, unitPrice float64, logger *log.Logger) *Service {
	if unitPrice <= 0 {
		unitPrice = 0.008
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		ledger:    ledger,
		queue:     queue,
		limits:    limits,
		wallet:    wallet,
		unitPrice: unitPrice,
		logger:    logger,
	}
}

// SetCanceller 设置取消时通知执行服务的客户端
func (s *Service) SetCanceller(c Canceller) {
	s.canceller = c
}

// Cost 订单费用，保留 6 位小数
func (s *Service) Cost(quantity int) float64 {
	return math.Round(float64(quantity)*s.unitPrice*1e6) / 1e6
}

// ValidateTarget target_reference 必须是 http(s) URL
func ValidateTarget(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return errors.Validation("target_reference", "is required")
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Validation("target_reference", "must be an http(s) URL")
	}
	return nil
}

// Create 校验 → 扣款 → 写入 pending → 入队；校验失败的订单不会写入也不会入队
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if req.OwnerID == "" {
		return nil, errors.Validation("owner_id", "is required")
	}
	if err := ValidateTarget(req.TargetReference); err != nil {
		return nil, err
	}
	if err := s.limits.Limits(ctx).Validate(req.Quantity, req.Rate); err != nil {
		return nil, err
	}
	o := &Order{
		OwnerID:         req.OwnerID,
		TargetReference: strings.TrimSpace(req.TargetReference),
		Quantity:        req.Quantity,
		Rate:            req.Rate,
		Cost:            s.Cost(req.Quantity),
		AutoOrderID:     req.AutoOrderID,
	}
	if s.wallet != nil && o.Cost > 0 {
		if err := s.wallet.Debit(ctx, o.OwnerID, o.Cost); err != nil {
			return nil, err
		}
		metrics.CreditTotal.WithLabelValues("debit").Inc()
	}
	if _, err := s.ledger.Create(ctx, o); err != nil {
		if s.wallet != nil && o.Cost > 0 {
			if rerr := s.wallet.Credit(ctx, o.OwnerID, o.Cost); rerr != nil {
				s.logger.Error("下单失败后退款失败", "owner_id", o.OwnerID, "amount", o.Cost, "error", rerr)
			}
		}
		return nil, errors.Wrap(err, "create order")
	}
	source := "manual"
	if o.AutoOrderID != "" {
		source = "auto"
	}
	metrics.OrderCreatedTotal.WithLabelValues(source).Inc()
	s.enqueue(o.ID)
	s.logger.Info("订单已创建", "order_id", o.ID, "owner_id", o.OwnerID, "quantity", o.Quantity, "rate", o.Rate)
	return o, nil
}

func (s *Service) enqueue(id string) {
	if err := s.queue.Enqueue(id); err != nil {
		s.logger.Warn("订单入队失败，等待扫描重新入队", "order_id", id, "error", err)
	}
}

// Get 读取订单；ownerID 非空时只返回该用户的订单
func (s *Service) Get(ctx context.Context, id, ownerID string) (*Order, error) {
	o, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil || (ownerID != "" && o.OwnerID != ownerID) {
		return nil, errors.ErrNotFound
	}
	return o, nil
}

// List 列出用户订单
func (s *Service) List(ctx context.Context, ownerID string) ([]*Order, error) {
	return s.ledger.ListByOwner(ctx, ownerID)
}

// transition 读取、校验归属后迁移；不允许时返回 ErrConflict
func (s *Service) transition(ctx context.Context, id, ownerID string, to Status, u Update) (*Order, error) {
	o, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	ok, err := s.ledger.Transition(ctx, id, to, u)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(errors.ErrConflict, "order is %s", o.Status)
	}
	return s.ledger.Get(ctx, id)
}

// Cancel 将活跃或暂停的订单置为 cancelled，并尽力通知执行服务；不中断进行中的派发调用
func (s *Service) Cancel(ctx context.Context, id, ownerID string) (*Order, error) {
	o, err := s.transition(ctx, id, ownerID, StatusCancelled, WithError(errors.ReasonCancelledByUser))
	if err != nil {
		return nil, err
	}
	if s.canceller != nil {
		if err := s.canceller.Cancel(ctx, id); err != nil {
			s.logger.Warn("通知执行服务取消失败", "order_id", id, "error", err)
		}
	}
	return o, nil
}

// Retry failed → pending 并重新入队，不再收费
func (s *Service) Retry(ctx context.Context, id, ownerID string) (*Order, error) {
	cur, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusFailed {
		return nil, errors.Wrapf(errors.ErrConflict, "only failed orders can be retried, order is %s", cur.Status)
	}
	o, err := s.transition(ctx, id, ownerID, StatusPending, Update{})
	if err != nil {
		return nil, err
	}
	s.enqueue(id)
	return o, nil
}

// Pause pending → paused
func (s *Service) Pause(ctx context.Context, id, ownerID string) (*Order, error) {
	cur, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusPending {
		return nil, errors.Wrapf(errors.ErrConflict, "only pending orders can be paused, order is %s", cur.Status)
	}
	return s.transition(ctx, id, ownerID, StatusPaused, Update{})
}

// Resume paused → pending 并重新入队
func (s *Service) Resume(ctx context.Context, id, ownerID string) (*Order, error) {
	cur, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusPaused {
		return nil, errors.Wrapf(errors.ErrConflict, "only paused orders can be resumed, order is %s", cur.Status)
	}
	o, err := s.transition(ctx, id, ownerID, StatusPending, Update{})
	if err != nil {
		return nil, err
	}
	s.enqueue(id)
	return o, nil
}
