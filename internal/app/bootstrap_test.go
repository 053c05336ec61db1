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
package app

import (
	"context"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upvote-platform/pkg/config"
)

func TestNewBootstrap_ResolvesSecrets(t *testing.T) {
	t.Setenv("PAYMENT_KEY", "s3cret")
	b, err := NewBootstrap(&config.Config{Log: config.LogConfig{Level: "debug"}})
	require.NoError(t, err)

	v, err := b.Secret(context.Background(), "secret:PAYMENT_KEY")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	v, err = b.Secret(context.Background(), "plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)
}

func TestNewBootstrap_RejectsUnknownSecretProvider(t *testing.T) {
	_, err := NewBootstrap(&config.Config{Secrets: config.SecretsConfig{Provider: "kms"}})
	assert.Error(t, err)

	_, err = NewBootstrap(nil)
	assert.Error(t, err)
}

func TestBuildServer_WithoutTracing(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	b, err := NewBootstrap(&config.Config{})
	require.NoError(t, err)
	require.NoError(t, b.SetupHertzLogger())

	calls := 0
	h, shutdown := b.BuildServer("svc", func(opts ...hertzconfig.Option) *server.Hertz {
		calls++
		assert.Empty(t, opts)
		return server.Default(server.WithHostPorts(":0"))
	})
	assert.NotNil(t, h)
	assert.Nil(t, shutdown)
	assert.Equal(t, 1, calls)
}
