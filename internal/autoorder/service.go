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

package autoorder

import (
	"context"
	"strings"
	"sync"
	"time"

	"upvote-platform/internal/order"
	"upvote-platform/internal/settings"
	"upvote-platform/pkg/errors"
	"upvote-platform/pkg/log"
)

// OrderCreator 生成普通订单；order.Service 实现
type OrderCreator interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
}

// CreateRequest 创建模板参数
type CreateRequest struct {
	OwnerID         string    `json:"-"`
	TargetReference string    `json:"target_reference"`
	Quantity        int       `json:"quantity"`
	Rate            int       `json:"rate"`
	Frequency       Frequency `json:"frequency"`
}

// Service 模板的增删改查与到期调度
type Service struct {
	store    Store
	orders   OrderCreator
	limits   settings.Provider
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewService interval<=0 时默认 1m
func NewService(store Store, orders OrderCreator, limits settings.Provider, interval time.Duration, logger *log.Logger) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		store:    store,
		orders:   orders,
		limits:   limits,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		stopCh:   make(chan struct{}),
	}
}

// Create 校验后创建 active 模板，首次运行在一个周期之后
func (s *Service) Create(ctx context.Context, req CreateRequest) (*AutoOrder, error) {
	if req.OwnerID == "" {
		return nil, errors.Validation("owner_id", "is required")
	}
	if !req.Frequency.Valid() {
		return nil, errors.Validation("frequency", "must be one of daily, weekly, monthly")
	}
	if err := order.ValidateTarget(req.TargetReference); err != nil {
		return nil, err
	}
	if err := s.limits.Limits(ctx).Validate(req.Quantity, req.Rate); err != nil {
		return nil, err
	}
	a := &AutoOrder{
		OwnerID:         req.OwnerID,
		TargetReference: strings.TrimSpace(req.TargetReference),
		Quantity:        req.Quantity,
		Rate:            req.Rate,
		Frequency:       req.Frequency,
	}
	prepareNew(a, s.now())
	if err := s.store.Create(ctx, a); err != nil {
		return nil, errors.Wrap(err, "create auto order")
	}
	s.logger.Info("自动订单已创建", "auto_order_id", a.ID, "owner_id", a.OwnerID, "frequency", a.Frequency)
	return a, nil
}

// Get ownerID 不匹配时视为不存在
func (s *Service) Get(ctx context.Context, id, ownerID string) (*AutoOrder, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil || (ownerID != "" && a.OwnerID != ownerID) {
		return nil, errors.ErrNotFound
	}
	return a, nil
}

// List 用户的全部模板
func (s *Service) List(ctx context.Context, ownerID string) ([]*AutoOrder, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

func (s *Service) update(ctx context.Context, id, ownerID string, expect Status, mutate func(a *AutoOrder, now time.Time)) (*AutoOrder, error) {
	a, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if a.Status != expect {
		return nil, errors.Wrapf(errors.ErrConflict, "auto order is %s", a.Status)
	}
	mutate(a, s.now())
	ok, err := s.store.Save(ctx, a, expect)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(errors.ErrConflict, "auto order changed concurrently")
	}
	return a, nil
}

// Pause 仅 active 可暂停
func (s *Service) Pause(ctx context.Context, id, ownerID string) (*AutoOrder, error) {
	return s.update(ctx, id, ownerID, StatusActive, func(a *AutoOrder, now time.Time) {
		a.Status = StatusPaused
		a.PausedAt = &now
	})
}

// Resume 仅 paused 可恢复，下次运行时间从现在重新计算
func (s *Service) Resume(ctx context.Context, id, ownerID string) (*AutoOrder, error) {
	return s.update(ctx, id, ownerID, StatusPaused, func(a *AutoOrder, now time.Time) {
		a.Status = StatusActive
		a.PausedAt = nil
		a.NextRunAt = now.Add(a.Frequency.Period())
	})
}

// Cancel active 或 paused → cancelled
func (s *Service) Cancel(ctx context.Context, id, ownerID string) (*AutoOrder, error) {
	a, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusCancelled {
		return nil, errors.Wrapf(errors.ErrConflict, "auto order already cancelled")
	}
	return s.update(ctx, id, ownerID, a.Status, func(a *AutoOrder, now time.Time) {
		a.Status = StatusCancelled
	})
}

// RunDue 为每个到期模板生成一个订单并推进 next_run_at；生成失败的模板留待下一轮
func (s *Service) RunDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range due {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		// 先推进 next_run_at 占住本次运行再创建订单，同一次运行至多扣费一次
		prevNext, prevLast := a.NextRunAt, a.LastRunAt
		ranAt := now
		next := now.Add(a.Frequency.Period())
		ok, err := s.store.Advance(ctx, a.ID, prevNext, next, &ranAt)
		if err != nil {
			return n, err
		}
		if !ok {
			s.logger.Info("自动订单已被其他扫描执行或状态已变化，跳过", "auto_order_id", a.ID)
			continue
		}
		o, err := s.orders.Create(ctx, order.CreateRequest{
			OwnerID:         a.OwnerID,
			TargetReference: a.TargetReference,
			Quantity:        a.Quantity,
			Rate:            a.Rate,
			AutoOrderID:     a.ID,
		})
		if err != nil {
			s.logger.Warn("自动订单执行失败，下次扫描重试", "auto_order_id", a.ID, "owner_id", a.OwnerID, "error", err)
			if _, rerr := s.store.Advance(ctx, a.ID, next, prevNext, prevLast); rerr != nil {
				s.logger.Error("回退自动订单运行时间失败", "auto_order_id", a.ID, "error", rerr)
			}
			continue
		}
		a.LastRunAt = &ranAt
		a.NextRunAt = next
		n++
		s.logger.Info("自动订单已执行", "auto_order_id", a.ID, "order_id", o.ID, "next_run_at", a.NextRunAt)
	}
	return n, nil
}

// Start 周期调度
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunDue(ctx); err != nil {
					s.logger.Error("自动订单调度失败", "error", err)
				}
			}
		}
	}()
}

// Stop 停止调度
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}
