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

package settings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"upvote-platform/pkg/log"
)

// HTTPProvider 从商务服务拉取 Limits，TTL 内复用缓存；拉取失败时返回旧缓存，无缓存时返回默认值。
// 拉取在锁外进行，同一时刻只有一个拉取；失败后 backoff 内不再请求
type HTTPProvider struct {
	client  *resty.Client
	url     string
	ttl     time.Duration
	backoff time.Duration
	logger  *log.Logger
	now     func() time.Time

	mu        sync.Mutex
	cached    Limits
	fetchedAt time.Time
	retryAt   time.Time
	fetching  bool
	have      bool
}

// NewHTTPProvider 创建 HTTPProvider；ttl<=0 时默认 5 分钟，失败退避取 min(ttl, 30s)
func NewHTTPProvider(url string, ttl time.Duration, logger *log.Logger) *HTTPProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &HTTPProvider{
		client:  resty.New().SetTimeout(10 * time.Second),
		url:     url,
		ttl:     ttl,
		backoff: min(ttl, 30*time.Second),
		logger:  logger,
		now:     time.Now,
	}
}

// Limits 实现 Provider
func (p *HTTPProvider) Limits(ctx context.Context) Limits {
	p.mu.Lock()
	now := p.now()
	if p.have && now.Sub(p.fetchedAt) < p.ttl {
		defer p.mu.Unlock()
		return p.cached
	}
	if p.fetching || now.Before(p.retryAt) {
		defer p.mu.Unlock()
		return p.currentLocked()
	}
	p.fetching = true
	p.mu.Unlock()

	l, err := p.fetch(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetching = false
	if err != nil {
		p.retryAt = p.now().Add(p.backoff)
		if p.have {
			p.logger.Warn("拉取 limits 失败，使用旧缓存", "error", err)
		} else {
			p.logger.Warn("拉取 limits 失败，使用默认值", "error", err)
		}
		return p.currentLocked()
	}
	p.cached = l
	p.fetchedAt = p.now()
	p.retryAt = time.Time{}
	p.have = true
	return l
}

func (p *HTTPProvider) currentLocked() Limits {
	if p.have {
		return p.cached
	}
	return DefaultLimits()
}

func (p *HTTPProvider) fetch(ctx context.Context) (Limits, error) {
	var out Limits
	resp, err := p.client.R().SetContext(ctx).SetResult(&out).Get(p.url)
	if err != nil {
		return Limits{}, err
	}
	if resp.IsError() {
		return Limits{}, fmt.Errorf("limits source returned %d", resp.StatusCode())
	}
	return out.normalize(), nil
}
