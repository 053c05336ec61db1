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
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"upvote-platform/pkg/errors"
)

// Store 支付记录与账户余额；ApplyStatus 在同一原子操作内更新支付状态与余额
type Store interface {
	CreatePayment(ctx context.Context, p *Payment) error
	// GetPayment 不存在时返回 nil, nil
	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetByProviderRef(ctx context.Context, ref string) (*Payment, error)
	ListPayments(ctx context.Context, ownerID string) ([]*Payment, error)
	ListByStatus(ctx context.Context, status Status) ([]*Payment, error)
	// ApplyStatus 仅当当前状态为 from 时迁移到 to 并将 delta 计入余额；状态已变化返回 false
	ApplyStatus(ctx context.Context, id string, from, to Status, payload []byte, delta float64) (bool, error)

	Balance(ctx context.Context, ownerID string) (float64, error)
	// Debit 余额不足返回 errors.ErrInsufficientFunds
	Debit(ctx context.Context, ownerID string, amount float64) error
	Credit(ctx context.Context, ownerID string, amount float64) error
}

func prepareNew(p *Payment, now time.Time) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	p.Amount = Round(p.Amount)
	p.CreatedAt = now
	p.LastUpdate = now
}

// StoreMem 内存实现
type StoreMem struct {
	mu       sync.Mutex
	payments map[string]*Payment
	balances map[string]float64
	now      func() time.Time
}

// NewStoreMem 创建内存存储
func NewStoreMem() *StoreMem {
	return &StoreMem{
		payments: make(map[string]*Payment),
		balances: make(map[string]float64),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *StoreMem) CreatePayment(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prepareNew(p, s.now())
	if _, ok := s.payments[p.ID]; ok {
		return errors.Wrapf(errors.ErrConflict, "payment %s exists", p.ID)
	}
	s.payments[p.ID] = p.Clone()
	return nil
}

func (s *StoreMem) GetPayment(ctx context.Context, id string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments[id].Clone(), nil
}

func (s *StoreMem) GetByProviderRef(ctx context.Context, ref string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if ref != "" && p.ProviderRef == ref {
			return p.Clone(), nil
		}
	}
	return nil, nil
}

func (s *StoreMem) ListPayments(ctx context.Context, ownerID string) ([]*Payment, error) {
	return s.list(func(p *Payment) bool { return p.OwnerID == ownerID }), nil
}

func (s *StoreMem) ListByStatus(ctx context.Context, status Status) ([]*Payment, error) {
	return s.list(func(p *Payment) bool { return p.Status == status }), nil
}

// list 按 created_at 倒序
func (s *StoreMem) list(match func(*Payment) bool) []*Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Payment
	for _, p := range s.payments {
		if match(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *StoreMem) ApplyStatus(ctx context.Context, id string, from, to Status, payload []byte, delta float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	applyStatus(p, to, payload, s.now())
	if delta != 0 {
		s.balances[p.OwnerID] = Round(s.balances[p.OwnerID] + delta)
	}
	return true, nil
}

func (s *StoreMem) Balance(ctx context.Context, ownerID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[ownerID], nil
}

func (s *StoreMem) Debit(ctx context.Context, ownerID string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	amount = Round(amount)
	if s.balances[ownerID] < amount {
		return errors.ErrInsufficientFunds
	}
	s.balances[ownerID] = Round(s.balances[ownerID] - amount)
	return nil
}

func (s *StoreMem) Credit(ctx context.Context, ownerID string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[ownerID] = Round(s.balances[ownerID] + Round(amount))
	return nil
}
