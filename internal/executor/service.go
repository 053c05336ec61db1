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

// Package executor 执行服务核心：接收派发、以会话日志记录执行过程、运行 bot 子进程
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"upvote-platform/internal/execution"
	"upvote-platform/internal/history"
	"upvote-platform/internal/settings"
	pkgerrors "upvote-platform/pkg/errors"
	"upvote-platform/pkg/log"
	"upvote-platform/pkg/metrics"
)

var (
	// ErrAlreadyActive 同一订单已有 pending/running 会话
	ErrAlreadyActive = fmt.Errorf("%w: order is already running or pending", pkgerrors.ErrConflict)
	// ErrFinished 会话已结束，不可取消
	ErrFinished = errors.New("order already finished")
	// ErrNotRetryable 仅 failed 会话可重试
	ErrNotRetryable = errors.New("only failed orders can be retried")
)

// Runner 运行一次 bot；execution.SubprocessAdapter 实现
type Runner interface {
	Run(ctx context.Context, req execution.DispatchRequest) execution.Outcome
}

// Config 执行服务配置
type Config struct {
	MaxConcurrent int // 同时运行的 bot 数，<=0 默认 8
}

// Service 会话状态机：pending → running → completed | failed；所有读改写在 mu 下进行
type Service struct {
	store  history.Store
	runner Runner
	limits settings.Provider
	logger *log.Logger

	mu             sync.Mutex
	active         map[string]uint64 // order id -> 运行代次
	cancels        map[string]context.CancelFunc
	generation     uint64
	totalProcessed int
	closing        bool

	limiter chan struct{}
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewService 创建执行服务；调用前应已对 store 执行 history.Recover
func NewService(store history.Store, runner Runner, limits settings.Provider, config Config, logger *log.Logger) *Service {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 8
	}
	if logger == nil {
		logger = log.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:   store,
		runner:  runner,
		limits:  limits,
		logger:  logger,
		active:  make(map[string]uint64),
		cancels: make(map[string]context.CancelFunc),
		limiter: make(chan struct{}, config.MaxConcurrent),
		baseCtx: ctx,
		stop:    cancel,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) validate(ctx context.Context, req execution.DispatchRequest) error {
	if strings.TrimSpace(req.OrderID) == "" {
		return pkgerrors.Validation("order_id", "is required")
	}
	if strings.TrimSpace(req.TargetReference) == "" {
		return pkgerrors.Validation("target_reference", "is required")
	}
	return s.limits.Limits(ctx).Validate(req.Quantity, req.Rate)
}

// Accept 校验并登记会话，随后异步运行；已有活跃会话返回 ErrAlreadyActive
func (s *Service) Accept(ctx context.Context, req execution.DispatchRequest) (*history.Session, error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.store.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Active() {
		return nil, ErrAlreadyActive
	}
	if _, running := s.active[req.OrderID]; running {
		// 取消后子进程尚未退出
		return nil, ErrAlreadyActive
	}
	now := s.now()
	sess := &history.Session{
		OrderID:         req.OrderID,
		TargetReference: req.TargetReference,
		Quantity:        req.Quantity,
		Rate:            req.Rate,
		Status:          history.StatusPending,
		CreatedAt:       now,
		LastUpdate:      now,
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	s.launchLocked(sess)
	s.logger.Info("会话已接收", "order_id", req.OrderID, "quantity", req.Quantity, "rate", req.Rate)
	return sess, nil
}

// launchLocked 登记活跃会话并启动执行 goroutine；调用方持有 mu。
// 每次运行分配新代次，旧代次的 goroutine 不能改写新会话或释放新运行的登记
func (s *Service) launchLocked(sess *history.Session) {
	runCtx, cancel := context.WithCancel(s.baseCtx)
	s.generation++
	gen := s.generation
	s.active[sess.OrderID] = gen
	s.cancels[sess.OrderID] = cancel
	metrics.SessionActive.Set(float64(len(s.active)))

	req := execution.DispatchRequest{
		OrderID:         sess.OrderID,
		TargetReference: sess.TargetReference,
		Quantity:        sess.Quantity,
		Rate:            sess.Rate,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.run(runCtx, gen, req)
	}()
}

func (s *Service) run(ctx context.Context, gen uint64, req execution.DispatchRequest) {
	select {
	case s.limiter <- struct{}{}:
	case <-ctx.Done():
		s.release(req.OrderID, gen)
		return
	}
	defer func() { <-s.limiter }()

	if !s.markRunning(ctx, req.OrderID, gen) {
		s.release(req.OrderID, gen)
		return
	}
	out := s.runner.Run(ctx, req)
	s.finish(req.OrderID, gen, out)
}

// markRunning pending → running；会话已被取消或已被新运行接管时返回 false
func (s *Service) markRunning(ctx context.Context, id string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[id] != gen {
		return false
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil || sess == nil || sess.Status != history.StatusPending {
		return false
	}
	sess.SetStatus(history.StatusRunning, "", s.now())
	if err := s.store.Put(ctx, sess); err != nil {
		s.logger.Error("写入 running 失败", "order_id", id, "error", err)
		return false
	}
	return true
}

// finish 写入 bot 结论；会话已结束（取消）、已被新运行接管或进程正在关闭时丢弃
func (s *Service) finish(id string, gen uint64, out execution.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[id] != gen {
		s.logger.Info("旧运行结束，丢弃执行结果", "order_id", id, "outcome", out.Status)
		return
	}
	defer s.releaseLocked(id, gen)
	if s.closing {
		// 保持 running，下次启动由 history.Recover 判定为重启中断
		return
	}
	ctx := context.Background()
	sess, err := s.store.Get(ctx, id)
	if err != nil || sess == nil {
		s.logger.Error("读取会话失败", "order_id", id, "error", err)
		return
	}
	if sess.Terminal() {
		s.logger.Info("会话已结束，丢弃执行结果", "order_id", id, "status", sess.Status, "outcome", out.Status)
		return
	}
	sess.SetStatus(out.Status, out.Error, s.now())
	if out.Done > 0 && out.Status != history.StatusCompleted {
		sess.Done = out.Done
		if sess.Quantity > 0 {
			sess.Progress = float64(out.Done) * 100 / float64(sess.Quantity)
		}
	}
	if err := s.store.Put(ctx, sess); err != nil {
		s.logger.Error("写入执行结果失败", "order_id", id, "error", err)
		return
	}
	if sess.Terminal() {
		s.totalProcessed++
		metrics.SessionTotal.WithLabelValues(sess.Status).Inc()
	}
	s.logger.Info("会话结束", "order_id", id, "status", sess.Status, "error", sess.ErrorMessage)
}

func (s *Service) release(id string, gen uint64) {
	s.mu.Lock()
	s.releaseLocked(id, gen)
	s.mu.Unlock()
}

func (s *Service) releaseLocked(id string, gen uint64) {
	if s.active[id] != gen {
		return
	}
	delete(s.active, id)
	delete(s.cancels, id)
	metrics.SessionActive.Set(float64(len(s.active)))
}

// Get 读取会话日志；重启前的会话仍可查询（状态为 failed），未知 id 返回 ErrNotFound
func (s *Service) Get(ctx context.Context, id string) (*history.Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, pkgerrors.ErrNotFound
	}
	return sess, nil
}

// List 全部会话
func (s *Service) List(ctx context.Context) ([]*history.Session, error) {
	return s.store.List(ctx)
}

// Cancel pending/running → failed（cancelled by user）并终止子进程；已结束返回 ErrFinished
func (s *Service) Cancel(ctx context.Context, id string) (*history.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, pkgerrors.ErrNotFound
	}
	if sess.Terminal() {
		return nil, ErrFinished
	}
	sess.SetStatus(history.StatusFailed, pkgerrors.ReasonCancelledByUser, s.now())
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	if cancel, ok := s.cancels[id]; ok {
		cancel()
	}
	s.logger.Info("会话已取消", "order_id", id)
	return sess, nil
}

// Retry failed → pending 并重新运行
func (s *Service) Retry(ctx context.Context, id string) (*history.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, pkgerrors.ErrNotFound
	}
	if sess.Status != history.StatusFailed {
		return nil, ErrNotRetryable
	}
	if _, running := s.active[id]; running {
		// 取消后子进程尚未退出
		return nil, ErrAlreadyActive
	}
	now := s.now()
	sess.Status = history.StatusPending
	sess.ErrorMessage = ""
	sess.StartedAt = nil
	sess.CompletedAt = nil
	sess.Done = 0
	sess.Progress = 0
	sess.LastUpdate = now
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	s.launchLocked(sess)
	s.logger.Info("会话重试", "order_id", id)
	return sess, nil
}

// Health 活跃会话数与累计完成数
func (s *Service) Health() execution.HealthView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return execution.HealthView{
		Status:         "healthy",
		Timestamp:      s.now(),
		ActiveOrders:   len(s.active),
		TotalProcessed: s.totalProcessed,
	}
}

// Shutdown 终止运行中的子进程并等待 goroutine 退出；会话保持原状态，交给下次启动的 Recover
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View 会话转为对外响应
func View(s *history.Session) execution.SessionView {
	return execution.SessionView{
		OrderID:         s.OrderID,
		TargetReference: s.TargetReference,
		Quantity:        s.Quantity,
		Rate:            s.Rate,
		Status:          s.Status,
		Done:            s.Done,
		Progress:        s.Progress,
		Error:           s.ErrorMessage,
		CreatedAt:       s.CreatedAt,
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
		LastUpdate:      s.LastUpdate,
	}
}
