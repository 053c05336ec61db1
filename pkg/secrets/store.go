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

// Package secrets 解析支付密钥等敏感配置：env | memory | vault
package secrets

import (
	"context"
	"fmt"
	"strings"
)

// ErrSecretNotFound key 不存在
var ErrSecretNotFound = fmt.Errorf("secret not found")

// Store Secret 存储接口
type Store interface {
	// Get 读取凭据；不存在时返回 ErrSecretNotFound
	Get(ctx context.Context, key string) (string, error)
}

type Config struct {
	Provider  string            // env | memory | vault
	EnvPrefix string            // provider=env 时优先查找的变量前缀
	Values    map[string]string // provider=memory 时的凭据表
	Vault     VaultConfig       // provider=vault 时使用
}

func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "", "env":
		return NewEnvStore(config.EnvPrefix), nil
	case "memory":
		return NewStaticStore(config.Values), nil
	case "vault":
		return NewVaultStore(config.Vault)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", config.Provider)
	}
}

const refPrefix = "secret:"

// Resolve 解析配置值：secret:<key> 从 store 读取，其余原样返回
func Resolve(ctx context.Context, store Store, value string) (string, error) {
	if !strings.HasPrefix(value, refPrefix) {
		return value, nil
	}
	if store == nil {
		return "", fmt.Errorf("secret reference %q without secret store", value)
	}
	return store.Get(ctx, strings.TrimPrefix(value, refPrefix))
}
