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

// Package tracing 订单链路 span 辅助；TracerProvider 由 hertz obs-opentelemetry provider 设置，未设置时为 noop
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "upvote-platform"

// StartDispatchSpan 开始一次订单派发 span
func StartDispatchSpan(ctx context.Context, orderID string, workerID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "order.dispatch",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("worker.id", workerID),
		),
	)
}

// StartReconcileSpan 开始单个订单对账 span
func StartReconcileSpan(ctx context.Context, orderID string, status string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "order.reconcile",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("order.status", status),
		),
	)
}

// StartWebhookSpan 开始支付回调处理 span
func StartWebhookSpan(ctx context.Context, providerRef string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "payment.webhook",
		trace.WithAttributes(attribute.String("payment.provider_ref", providerRef)),
	)
}

// EndSpan 结束 span，err 非 nil 时记录错误
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
