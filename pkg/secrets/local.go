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

package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// envStore 从进程环境变量读取凭据。
// 引用名按 "payment/api_key" → "PAYMENT_API_KEY" 规整；配置了 prefix 时先查带前缀的变量
type envStore struct {
	prefix string
}

// NewEnvStore 创建环境变量 store；prefix 可为空，如 "UPVOTE_"
func NewEnvStore(prefix string) Store {
	return &envStore{prefix: strings.ToUpper(prefix)}
}

// EnvName 引用名对应的环境变量名
func EnvName(key string) string {
	return strings.ToUpper(strings.NewReplacer("/", "_", ".", "_", "-", "_").Replace(key))
}

func (e *envStore) Get(ctx context.Context, key string) (string, error) {
	name := EnvName(key)
	candidates := []string{name}
	if e.prefix != "" && !strings.HasPrefix(name, e.prefix) {
		candidates = []string{e.prefix + name, name}
	}
	for _, c := range candidates {
		if v, ok := os.LookupEnv(c); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: env %s", ErrSecretNotFound, strings.Join(candidates, " | "))
}

// staticStore 固定凭据表，来自 secrets.values 配置；本地开发与测试使用
type staticStore map[string]string

// NewStaticStore 复制 values 创建只读 store
func NewStaticStore(values map[string]string) Store {
	s := make(staticStore, len(values))
	for k, v := range values {
		s[k] = v
	}
	return s
}

func (s staticStore) Get(ctx context.Context, key string) (string, error) {
	v, ok := s[key]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return v, nil
}
