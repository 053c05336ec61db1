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
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"upvote-platform/pkg/config"
	"upvote-platform/pkg/log"
	"upvote-platform/pkg/secrets"
)

// ShutdownFunc 优雅关闭钩子
type ShutdownFunc func(ctx context.Context) error

// Bootstrap 统一初始化：供商务服务与执行服务复用
type Bootstrap struct {
	Config  *config.Config
	Logger  *log.Logger
	Secrets secrets.Store
}

// NewBootstrap 根据配置创建 Bootstrap（日志、secret store）
func NewBootstrap(cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	store, err := secrets.NewStore(secrets.Config{
		Provider:  cfg.Secrets.Provider,
		EnvPrefix: cfg.Secrets.EnvPrefix,
		Values:    cfg.Secrets.Values,
		Vault: secrets.VaultConfig{
			Address:    cfg.Secrets.Vault.Address,
			Token:      cfg.Secrets.Vault.Token,
			PathPrefix: cfg.Secrets.Vault.PathPrefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 secret store 失败: %w", err)
	}
	return &Bootstrap{Config: cfg, Logger: logger, Secrets: store}, nil
}

// Secret 解析 secret:<key> 形式的配置值
func (b *Bootstrap) Secret(ctx context.Context, value string) (string, error) {
	return secrets.Resolve(ctx, b.Secrets, value)
}

// SetupHertzLogger Hertz 框架日志输出到 slog，级别与输出目标与应用日志一致
func (b *Bootstrap) SetupHertzLogger() error {
	logCfg := &log.Config{Level: b.Config.Log.Level, Format: b.Config.Log.Format, File: b.Config.Log.File}
	output, err := logCfg.Output()
	if err != nil {
		return err
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(log.ParseLevel(b.Config.Log.Level))
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))
	return nil
}

// BuildServer 调用 build 创建 Hertz；启用链路追踪时注入 OpenTelemetry tracer，返回的 ShutdownFunc 关闭 provider
func (b *Bootstrap) BuildServer(defaultService string, build func(opts ...hertzconfig.Option) *server.Hertz) (*server.Hertz, ShutdownFunc) {
	tc := b.Config.Monitoring.Tracing
	if tc.ExportEndpoint == "" {
		tc.ExportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if !tc.Enable || tc.ExportEndpoint == "" {
		return build(), nil
	}
	serviceName := tc.ServiceName
	if serviceName == "" {
		serviceName = defaultService
	}
	opts := []provider.Option{
		provider.WithServiceName(serviceName),
		provider.WithExportEndpoint(tc.ExportEndpoint),
	}
	if tc.Insecure {
		opts = append(opts, provider.WithInsecure())
	}
	p := provider.NewOpenTelemetryProvider(opts...)
	tracerOpt, cfg := hertztracing.NewServerTracer()
	h := build(tracerOpt)
	h.Use(hertztracing.ServerMiddleware(cfg))
	b.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", tc.ExportEndpoint)
	return h, p.Shutdown
}
