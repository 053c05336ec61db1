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

// Package settings 下单数量/速率边界：商务服务持有配置，执行服务经 HTTP 拉取并缓存
package settings

import (
	"context"

	"upvote-platform/pkg/config"
	"upvote-platform/pkg/errors"
)

// Limits 下单边界（含端点）
type Limits struct {
	MinQuantity int `json:"min_quantity"`
	MaxQuantity int `json:"max_quantity"`
	MinRate     int `json:"min_rate"`
	MaxRate     int `json:"max_rate"`
}

// DefaultLimits 配置源不可用且无缓存时使用
func DefaultLimits() Limits {
	return Limits{MinQuantity: 1, MaxQuantity: 1000, MinRate: 1, MaxRate: 60}
}

// FromConfig 由配置构造 Limits，非正值回落到默认
func FromConfig(c config.LimitsConfig) Limits {
	return Limits{
		MinQuantity: c.MinQuantity,
		MaxQuantity: c.MaxQuantity,
		MinRate:     c.MinRate,
		MaxRate:     c.MaxRate,
	}.normalize()
}

func (l Limits) normalize() Limits {
	d := DefaultLimits()
	if l.MinQuantity <= 0 {
		l.MinQuantity = d.MinQuantity
	}
	if l.MaxQuantity <= 0 {
		l.MaxQuantity = d.MaxQuantity
	}
	if l.MinRate <= 0 {
		l.MinRate = d.MinRate
	}
	if l.MaxRate <= 0 {
		l.MaxRate = d.MaxRate
	}
	return l
}

// Validate 校验数量与速率；越界返回 *errors.ValidationError
func (l Limits) Validate(quantity, rate int) error {
	if quantity < l.MinQuantity || quantity > l.MaxQuantity {
		return errors.Validation("quantity", "must be between %d and %d", l.MinQuantity, l.MaxQuantity)
	}
	if rate < l.MinRate || rate > l.MaxRate {
		return errors.Validation("rate", "must be between %d and %d per minute", l.MinRate, l.MaxRate)
	}
	return nil
}

// Provider 提供当前生效的 Limits；实现不得返回错误，失败时回落
type Provider interface {
	Limits(ctx context.Context) Limits
}

// Static 固定 Limits，商务服务直接使用配置
type Static Limits

// Limits 实现 Provider
func (s Static) Limits(ctx context.Context) Limits {
	return Limits(s)
}
