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

// Package reconcile 周期性地将执行服务的会话状态映射回订单账本
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"upvote-platform/internal/execution"
	"upvote-platform/internal/order"
	pkgerrors "upvote-platform/pkg/errors"
	"upvote-platform/pkg/log"
	"upvote-platform/pkg/metrics"
	"upvote-platform/pkg/tracing"
)

// 单个订单的对账结果
const (
	OutcomeMirrored    = "mirrored"
	OutcomeInterrupted = "interrupted"
	OutcomeUnchanged   = "unchanged"
	OutcomeSkipped     = "skipped"
)

// StatusSource 查询执行服务会话；execution.Client 实现
type StatusSource interface {
	Status(ctx context.Context, orderID string) (*execution.SessionView, error)
}

// InFlightChecker 本地是否正在派发该订单；order.Pool 实现
type InFlightChecker interface {
	InFlight(id string) bool
}

// Reconciler 对账器：只读执行服务，只通过 Transition 写账本
type Reconciler struct {
	ledger   order.Ledger
	source   StatusSource
	inflight InFlightChecker
	interval time.Duration
	logger   *log.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewReconciler 创建对账器；inflight 可为 nil
func NewReconciler(ledger order.Ledger, source StatusSource, inflight InFlightChecker, interval time.Duration, logger *log.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Reconciler{
		ledger:   ledger,
		source:   source,
		inflight: inflight,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Report 一轮对账的统计
type Report struct {
	Mirrored    int
	Interrupted int
	Unchanged   int
	Skipped     int
}

func (r *Report) add(outcome string) {
	switch outcome {
	case OutcomeMirrored:
		r.Mirrored++
	case OutcomeInterrupted:
		r.Interrupted++
	case OutcomeUnchanged:
		r.Unchanged++
	default:
		r.Skipped++
	}
}

// RunOnce 对全部活跃订单执行一轮对账；单个订单失败不影响其余订单
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	active, err := r.ledger.ListActive(ctx)
	if err != nil {
		return report, err
	}
	for _, o := range active {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		outcome, err := r.ReconcileOne(ctx, o)
		if err != nil {
			r.logger.Warn("订单对账失败", "order_id", o.ID, "error", err)
		}
		report.add(outcome)
	}
	return report, nil
}

// acked 执行服务是否已确认接收过该订单
func acked(o *order.Order) bool {
	return o.Status == order.StatusProcessing || o.DispatchedAt != nil
}

// ReconcileOne 对账单个订单，返回结果类别；暂时不可达时保持原状态
func (r *Reconciler) ReconcileOne(ctx context.Context, o *order.Order) (outcome string, err error) {
	ctx, span := tracing.StartReconcileSpan(ctx, o.ID, string(o.Status))
	defer func() {
		metrics.ReconcileTotal.WithLabelValues(outcome).Inc()
		tracing.EndSpan(span, err)
	}()

	if !o.Status.Active() {
		return OutcomeSkipped, nil
	}
	if r.inflight != nil && r.inflight.InFlight(o.ID) {
		return OutcomeSkipped, nil
	}
	// 未被执行服务确认的 pending/in-progress 交给卡单与超时扫描
	if !acked(o) {
		return OutcomeSkipped, nil
	}

	view, err := r.source.Status(ctx, o.ID)
	if err != nil {
		if errors.Is(err, execution.ErrSessionNotFound) {
			return r.interrupted(ctx, o)
		}
		return OutcomeUnchanged, err
	}
	return r.mirror(ctx, o, view)
}

// interrupted 执行服务不认识一个已派发的订单：判定为执行服务重启导致的中断
func (r *Reconciler) interrupted(ctx context.Context, o *order.Order) (string, error) {
	ok, err := r.ledger.Transition(ctx, o.ID, order.StatusFailed, order.WithError(pkgerrors.ReasonRestartBackend))
	if err != nil {
		return OutcomeUnchanged, err
	}
	if !ok {
		return OutcomeUnchanged, nil
	}
	r.logger.Warn("订单在执行服务中丢失，判定失败", "order_id", o.ID)
	return OutcomeInterrupted, nil
}

func (r *Reconciler) mirror(ctx context.Context, o *order.Order, view *execution.SessionView) (string, error) {
	var (
		to order.Status
		u  order.Update
	)
	switch view.Status {
	case execution.SessionPending, execution.SessionRunning:
		to = order.StatusProcessing
		done, progress := view.Done, view.Progress
		u = order.Update{Done: &done, Progress: &progress}
		if o.Status == order.StatusProcessing && o.Done == done && o.Progress == progress {
			return OutcomeUnchanged, nil
		}
	case execution.SessionCompleted:
		to = order.StatusCompleted
	case execution.SessionFailed:
		to = order.StatusFailed
		msg := view.Error
		if msg == "" {
			msg = "execution failed"
		}
		u = order.WithError(msg)
	default:
		to = order.StatusFailed
		u = order.WithError(pkgerrors.ReasonUnknownStatus)
	}
	ok, err := r.ledger.Transition(ctx, o.ID, to, u)
	if err != nil {
		return OutcomeUnchanged, err
	}
	if !ok {
		return OutcomeUnchanged, nil
	}
	r.logger.Debug("订单状态已同步", "order_id", o.ID, "from", o.Status, "to", to)
	return OutcomeMirrored, nil
}

// Start 周期执行对账
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				report, err := r.RunOnce(ctx)
				if err != nil {
					r.logger.Error("对账失败", "error", err)
					continue
				}
				if report.Mirrored+report.Interrupted > 0 {
					r.logger.Info("对账完成", "mirrored", report.Mirrored, "interrupted", report.Interrupted, "unchanged", report.Unchanged)
				}
			}
		}
	}()
}

// Stop 停止对账循环
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}
