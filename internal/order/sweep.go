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
	"sync"
	"time"

	"upvote-platform/pkg/errors"
	"upvote-platform/pkg/log"
	"upvote-platform/pkg/metrics"
)

// SweepConfig 后台扫描配置
type SweepConfig struct {
	StuckPending      time.Duration // 默认 10m
	ProcessingCeiling time.Duration // 默认 1h，自 started_at 起算
	Interval          time.Duration // 默认 1m
}

// Sweeper 启动恢复 + 周期扫描：卡住的 pending 重新入队，超时的 in-progress 判失败
type Sweeper struct {
	ledger Ledger
	queue  *Queue
	pool   *Pool
	config SweepConfig
	logger *log.Logger
	now    func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSweeper 创建 Sweeper；pool 用于跳过本地正在处理的订单
func NewSweeper(ledger Ledger, queue *Queue, pool *Pool, config SweepConfig, logger *log.Logger) *Sweeper {
	if config.StuckPending <= 0 {
		config.StuckPending = 10 * time.Minute
	}
	if config.ProcessingCeiling <= 0 {
		config.ProcessingCeiling = time.Hour
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Sweeper{
		ledger: ledger,
		queue:  queue,
		pool:   pool,
		config: config,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		stopCh: make(chan struct{}),
	}
}

// Recover 进程启动时把所有 pending/in-progress 订单重新入队，返回入队数
func (s *Sweeper) Recover(ctx context.Context) (int, error) {
	n := 0
	for _, st := range []Status{StatusPending, StatusInProgress} {
		list, err := s.ledger.ListByStatus(ctx, st)
		if err != nil {
			return n, err
		}
		for _, o := range list {
			if err := s.queue.Enqueue(o.ID); err != nil {
				s.logger.Warn("恢复入队失败，等待下一轮扫描", "order_id", o.ID, "error", err)
				continue
			}
			n++
		}
	}
	metrics.SweepTotal.WithLabelValues("recovery").Add(float64(n))
	if n > 0 {
		s.logger.Info("启动恢复：订单已重新入队", "count", n)
	}
	return n, nil
}

// SweepStuckPending 将长时间未被处理的 pending 订单重新入队
func (s *Sweeper) SweepStuckPending(ctx context.Context) (int, error) {
	list, err := s.ledger.ListByStatus(ctx, StatusPending)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-s.config.StuckPending)
	n := 0
	for _, o := range list {
		if o.LastUpdate.After(cutoff) || s.pool.InFlight(o.ID) {
			continue
		}
		if err := s.queue.Enqueue(o.ID); err != nil {
			s.logger.Warn("stuck pending 入队失败", "order_id", o.ID, "error", err)
			continue
		}
		n++
	}
	metrics.SweepTotal.WithLabelValues("stuck_pending").Add(float64(n))
	return n, nil
}

// SweepTimeouts 将 in-progress 超过 ProcessingCeiling 的订单判失败，不论 worker 状态
func (s *Sweeper) SweepTimeouts(ctx context.Context) (int, error) {
	list, err := s.ledger.ListByStatus(ctx, StatusInProgress)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-s.config.ProcessingCeiling)
	n := 0
	for _, o := range list {
		started := o.CreatedAt
		if o.StartedAt != nil {
			started = *o.StartedAt
		}
		if started.After(cutoff) {
			continue
		}
		ok, err := s.ledger.Transition(ctx, o.ID, StatusFailed, WithError(errors.ReasonProcessingTimeout))
		if err != nil {
			s.logger.Error("超时判失败写入失败", "order_id", o.ID, "error", err)
			continue
		}
		if ok {
			n++
			s.logger.Warn("订单处理超时", "order_id", o.ID, "started_at", started)
		}
	}
	metrics.SweepTotal.WithLabelValues("processing_timeout").Add(float64(n))
	return n, nil
}

// Start 周期执行两类扫描
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepStuckPending(ctx); err != nil {
					s.logger.Error("stuck pending 扫描失败", "error", err)
				}
				if _, err := s.SweepTimeouts(ctx); err != nil {
					s.logger.Error("超时扫描失败", "error", err)
				}
			}
		}
	}()
}

// Stop 停止扫描循环
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}
