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
	"fmt"
	"sync"
	"time"

	"upvote-platform/pkg/errors"
	"upvote-platform/pkg/log"
	"upvote-platform/pkg/metrics"
	"upvote-platform/pkg/tracing"
)

// Result 一次派发的结果；Status 只能是 processing | completed | failed
type Result struct {
	Status Status
	Error  string
}

// Dispatcher 把订单交给执行代理（本地子进程或远程执行服务）
type Dispatcher interface {
	Dispatch(ctx context.Context, o *Order) Result
}

// DispatcherFunc 函数适配 Dispatcher
type DispatcherFunc func(ctx context.Context, o *Order) Result

func (f DispatcherFunc) Dispatch(ctx context.Context, o *Order) Result { return f(ctx, o) }

// PoolConfig worker 池配置
type PoolConfig struct {
	Workers int // <=0 使用默认 4
	// DispatchTimeout 单次派发的 ctx 超时；<=0 不设置
	DispatchTimeout time.Duration
}

// Pool 固定数量 worker 消费 Queue；processing 集合保证同一订单同一时刻只有一个 worker
type Pool struct {
	ledger     Ledger
	queue      *Queue
	dispatcher Dispatcher
	config     PoolConfig
	logger     *log.Logger

	mu         sync.Mutex
	processing map[string]string // order id -> worker id

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool 创建 worker 池；queue 与 processing 集合随 Pool 实例存在
func NewPool(ledger Ledger, queue *Queue, dispatcher Dispatcher, config PoolConfig, logger *log.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pool{
		ledger:     ledger,
		queue:      queue,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
		processing: make(map[string]string),
		stopCh:     make(chan struct{}),
	}
}

// Start 启动 Workers 个 worker
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.config.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.loop(ctx, workerID)
		}()
	}
	p.logger.Info("订单 worker 池已启动", "workers", p.config.Workers)
}

// Stop 停止取新任务并等待正在处理的订单结束
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// InFlight 订单是否排队中或正被本地 worker 处理
func (p *Pool) InFlight(id string) bool {
	if p.queue.Contains(id) {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.processing[id]
	return ok
}

// Processing 当前处理中的订单数
func (p *Pool) Processing() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processing)
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	for {
		id, ok := p.queue.Dequeue(ctx, p.stopCh)
		if !ok {
			return
		}
		p.process(ctx, workerID, id)
	}
}

func (p *Pool) claim(id, workerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.processing[id]; ok {
		return false
	}
	p.processing[id] = workerID
	return true
}

func (p *Pool) release(id string) {
	p.mu.Lock()
	delete(p.processing, id)
	p.mu.Unlock()
}

func (p *Pool) process(ctx context.Context, workerID, id string) {
	claimed := p.claim(id, workerID)
	p.queue.Ack(id)
	if !claimed {
		return
	}
	defer p.release(id)

	metrics.WorkerBusy.WithLabelValues(workerID).Set(1)
	defer metrics.WorkerBusy.WithLabelValues(workerID).Set(0)

	logger := p.logger.With("order_id", id, "worker_id", workerID)
	o, err := p.ledger.Get(ctx, id)
	if err != nil {
		logger.Error("读取订单失败", "error", err)
		return
	}
	if o == nil {
		logger.Warn("订单不存在，跳过")
		return
	}
	if o.Status != StatusPending && o.Status != StatusInProgress {
		logger.Debug("订单已不在待执行状态，跳过", "status", o.Status)
		return
	}
	ok, err := p.ledger.Transition(ctx, id, StatusInProgress, Update{})
	if err != nil || !ok {
		logger.Warn("认领订单失败", "ok", ok, "error", err)
		return
	}

	start := time.Now()
	res := p.dispatch(ctx, workerID, o)
	metrics.DispatchDuration.WithLabelValues(string(res.Status)).Observe(time.Since(start).Seconds())

	u := Update{}
	if res.Error != "" {
		u = WithError(res.Error)
	}
	ok, err = p.ledger.Transition(ctx, id, res.Status, u)
	if err != nil {
		logger.Error("写入派发结果失败", "status", res.Status, "error", err)
		return
	}
	if !ok {
		// 派发期间订单已被取消或超时判失败，丢弃迟到的结果
		logger.Info("订单已结束，丢弃派发结果", "status", res.Status)
		return
	}
	logger.Info("订单派发完成", "status", res.Status, "error", res.Error)
}

// dispatch 调用 Dispatcher；panic 与非法结果都转为 failed
func (p *Pool) dispatch(ctx context.Context, workerID string, o *Order) (res Result) {
	ctx, span := tracing.StartDispatchSpan(ctx, o.ID, workerID)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("派发 panic", "order_id", o.ID, "panic", r)
			res = Result{Status: StatusFailed, Error: fmt.Sprintf("dispatch panic: %v", r)}
		}
		var spanErr error
		if res.Status == StatusFailed {
			spanErr = errors.New(res.Error)
		}
		tracing.EndSpan(span, spanErr)
	}()
	if p.config.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.DispatchTimeout)
		defer cancel()
	}
	res = p.dispatcher.Dispatch(ctx, o)
	switch res.Status {
	case StatusProcessing, StatusCompleted, StatusFailed:
	default:
		res = Result{Status: StatusFailed, Error: errors.ReasonUnknownStatus}
	}
	return res
}
