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

package history

import (
	"context"
	"fmt"
	"time"

	"upvote-platform/pkg/errors"
	"upvote-platform/pkg/metrics"
)

// Recover 执行服务启动时调用：pending/running 会话改写为 failed（interrupted by restart），返回改写数量
func Recover(ctx context.Context, store Store) (int, error) {
	sessions, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	now := time.Now().UTC()
	n := 0
	for _, s := range sessions {
		if !s.Active() {
			continue
		}
		s.SetStatus(StatusFailed, errors.ReasonRestartExecutor, now)
		if err := store.Put(ctx, s); err != nil {
			return n, fmt.Errorf("mark %s failed: %w", s.OrderID, err)
		}
		n++
	}
	metrics.SweepTotal.WithLabelValues("session_recovery").Add(float64(n))
	return n, nil
}

// GCConfig 会话日志保留策略
type GCConfig struct {
	Retention time.Duration // 默认 30 天，按 created_at
	BatchSize int           // 默认 1000
}

// GC 分批删除超过保留期的会话，返回删除数量
func GC(ctx context.Context, store Store, config GCConfig) (int, error) {
	retention := config.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	cutoff := time.Now().UTC().Add(-retention)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		ids, err := store.ListCreatedBefore(ctx, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("list expired sessions: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		n, err := store.Delete(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("delete expired sessions: %w", err)
		}
		total += n
		if len(ids) < batchSize {
			break
		}
	}
	metrics.SweepTotal.WithLabelValues("history_gc").Add(float64(total))
	return total, nil
}

// NewStore 按类型创建会话日志：sqlite（默认）| redis | memory
func NewStore(ctx context.Context, typ, path string, redisCfg RedisConfig) (Store, error) {
	switch typ {
	case "", "sqlite":
		return NewSQLiteStore(path)
	case "redis":
		return NewRedisStore(ctx, redisCfg)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported history store type: %s", typ)
	}
}
