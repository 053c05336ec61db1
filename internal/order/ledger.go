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
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"upvote-platform/pkg/metrics"
)

// Ledger 订单持久化账本；订单永不删除
type Ledger interface {
	// Create 写入新订单（status 为空时置 pending），返回 id
	Create(ctx context.Context, o *Order) (string, error)
	// Transition 原子地迁移状态；订单不存在或迁移不被允许时返回 false 且不写入
	Transition(ctx context.Context, id string, to Status, u Update) (bool, error)
	// Get 不存在时返回 nil, nil
	Get(ctx context.Context, id string) (*Order, error)
	// ListActive 返回 pending/in-progress/processing 订单
	ListActive(ctx context.Context) ([]*Order, error)
	ListByStatus(ctx context.Context, status Status) ([]*Order, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Order, error)
}

// prepareNew 为新订单补齐 id、状态与时间
func prepareNew(o *Order, now time.Time) {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Status == "" {
		o.Status = StatusPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.LastUpdate = now
}

// LedgerMem 内存实现，单进程使用
type LedgerMem struct {
	mu    sync.RWMutex
	byID  map[string]*Order
	nowFn func() time.Time
}

// NewLedgerMem 创建内存账本
func NewLedgerMem() *LedgerMem {
	return &LedgerMem{
		byID:  make(map[string]*Order),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (s *LedgerMem) Create(ctx context.Context, o *Order) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := o.Clone()
	prepareNew(c, s.nowFn())
	s.byID[c.ID] = c
	*o = *c.Clone()
	return c.ID, nil
}

func (s *LedgerMem) Transition(ctx context.Context, id string, to Status, u Update) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok || !CanTransition(o.Status, to) {
		return false, nil
	}
	apply(o, to, u, s.nowFn())
	metrics.OrderTransitionTotal.WithLabelValues(string(to)).Inc()
	return true, nil
}

func (s *LedgerMem) Get(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id].Clone(), nil
}

func (s *LedgerMem) ListActive(ctx context.Context) ([]*Order, error) {
	return s.list(func(o *Order) bool { return o.Status.Active() }), nil
}

func (s *LedgerMem) ListByStatus(ctx context.Context, status Status) ([]*Order, error) {
	return s.list(func(o *Order) bool { return o.Status == status }), nil
}

func (s *LedgerMem) ListByOwner(ctx context.Context, ownerID string) ([]*Order, error) {
	return s.list(func(o *Order) bool { return o.OwnerID == ownerID }), nil
}

// list 按 created_at 升序返回副本
func (s *LedgerMem) list(match func(*Order) bool) []*Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Order
	for _, o := range s.byID {
		if match(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
