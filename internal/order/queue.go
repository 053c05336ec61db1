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
	"errors"
	"sync"

	"upvote-platform/pkg/metrics"
)

// ErrQueueFull 队列已满；订单仍为 pending，由 stuck-pending 扫描重新入队
var ErrQueueFull = errors.New("order queue full")

// Queue 有界 FIFO；同一 id 同时最多排队一次
type Queue struct {
	ch     chan string
	mu     sync.Mutex
	queued map[string]struct{}
}

// NewQueue 创建队列；size<=0 时默认 256
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{
		ch:     make(chan string, size),
		queued: make(map[string]struct{}),
	}
}

// Enqueue 非阻塞入队；已在队列中视为成功
func (q *Queue) Enqueue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queued[id]; ok {
		return nil
	}
	select {
	case q.ch <- id:
		q.queued[id] = struct{}{}
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue 阻塞直到取到 id 或 ctx/stop 结束；取出的 id 仍计为排队，直到调用 Ack
func (q *Queue) Dequeue(ctx context.Context, stop <-chan struct{}) (string, bool) {
	select {
	case id := <-q.ch:
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return id, true
	case <-ctx.Done():
		return "", false
	case <-stop:
		return "", false
	}
}

// Ack 解除 id 的排队标记
func (q *Queue) Ack(id string) {
	q.mu.Lock()
	delete(q.queued, id)
	q.mu.Unlock()
}

// Contains 是否排队中（含已取出未 Ack）
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.queued[id]
	return ok
}

// Len 当前缓冲中的数量
func (q *Queue) Len() int {
	return len(q.ch)
}
