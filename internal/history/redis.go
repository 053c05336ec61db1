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
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig Redis 后端配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // 默认 "upvote:history"
}

// RedisStore 多个执行服务实例共享同一 Redis 时使用；会话以 JSON 存于 <prefix>:<id>，按 created_at 建有序索引
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 连接 Redis 并 Ping
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "upvote:history"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (r *RedisStore) key(id string) string { return r.prefix + ":" + id }

func (r *RedisStore) indexKey() string { return r.prefix + ":index" }

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.key(s.OrderID), data, 0)
		p.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(s.CreatedAt.UnixMilli()), Member: s.OrderID})
		return nil
	})
	return err
}

func (r *RedisStore) Get(ctx context.Context, orderID string) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisStore) List(ctx context.Context) ([]*Session, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var s Session
		if err := json.Unmarshal([]byte(str), &s); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, nil
}

func (r *RedisStore) ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	return r.client.ZRangeByScore(ctx, r.indexKey(), opt).Result()
}

func (r *RedisStore) Delete(ctx context.Context, orderIDs []string) (int, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	keys := make([]string, len(orderIDs))
	members := make([]interface{}, len(orderIDs))
	for i, id := range orderIDs {
		keys[i] = r.key(id)
		members[i] = id
	}
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, keys...)
		p.ZRem(ctx, r.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(del.Val()), nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
