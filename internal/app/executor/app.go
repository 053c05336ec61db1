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
// Package executor 执行服务装配：会话日志、bot 子进程、HTTP 接口与会话清理
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"

	"upvote-platform/internal/api/exechttp"
	"upvote-platform/internal/app"
	"upvote-platform/internal/execution"
	"upvote-platform/internal/executor"
	"upvote-platform/internal/history"
	"upvote-platform/internal/settings"
	"upvote-platform/pkg/config"
)

// App 执行服务
type App struct {
	bootstrap *app.Bootstrap
	store     history.Store
	svc       *executor.Service
	router    *exechttp.Router
	hertz     *server.Hertz
	otel      app.ShutdownFunc
	gcConfig  history.GCConfig
	gcEvery   time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewApp 打开会话日志并将上次中断的会话标记为失败
func NewApp(ctx context.Context, bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config
	logger := bootstrap.Logger

	password, err := bootstrap.Secret(ctx, cfg.History.Password)
	if err != nil {
		return nil, fmt.Errorf("解析 history 密码失败: %w", err)
	}
	store, err := history.NewStore(ctx, cfg.History.Type, cfg.History.Path, history.RedisConfig{
		Addr:     cfg.History.Addr,
		Password: password,
		DB:       cfg.History.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("打开会话日志失败: %w", err)
	}
	n, err := history.Recover(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("恢复会话失败: %w", err)
	}
	if n > 0 {
		logger.Info("上次运行中断的会话已标记失败", "count", n)
	}

	var limits settings.Provider = settings.Static(settings.FromConfig(cfg.Limits))
	if cfg.Settings.URL != "" {
		limits = settings.NewHTTPProvider(cfg.Settings.URL, config.ParseDuration(cfg.Settings.TTL, 5*time.Minute), logger)
	}
	runner := execution.NewSubprocessAdapter(execution.SubprocessConfig{
		Python:  cfg.Execution.Python,
		Script:  cfg.Execution.Script,
		WorkDir: cfg.Execution.WorkDir,
		Timeout: config.ParseDuration(cfg.Executor.Timeout, 2*time.Hour),
	}, logger)
	svc := executor.NewService(store, runner, limits, executor.Config{MaxConcurrent: cfg.Executor.MaxConcurrent}, logger)

	return &App{
		bootstrap: bootstrap,
		store:     store,
		svc:       svc,
		router:    exechttp.NewRouter(exechttp.NewHandler(svc, logger)),
		gcConfig:  history.GCConfig{Retention: config.ParseDuration(cfg.History.Retention, 30*24*time.Hour)},
		gcEvery:   config.ParseDuration(cfg.History.GCInterval, 24*time.Hour),
		stopCh:    make(chan struct{}),
	}, nil
}

// gcLoop 启动时清理一次，之后按 gcEvery 周期清理
func (a *App) gcLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.gcEvery)
	defer ticker.Stop()
	for {
		n, err := history.GC(context.Background(), a.store, a.gcConfig)
		if err != nil {
			a.bootstrap.Logger.Error("会话清理失败", "error", err)
		} else if n > 0 {
			a.bootstrap.Logger.Info("过期会话已清理", "count", n)
		}
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// Run 启动清理循环并阻塞运行 HTTP 服务
func (a *App) Run(addr string) error {
	if err := a.bootstrap.SetupHertzLogger(); err != nil {
		return fmt.Errorf("初始化 Hertz 日志失败: %w", err)
	}
	a.wg.Add(1)
	go a.gcLoop()

	a.hertz, a.otel = a.bootstrap.BuildServer("upvote-executor", func(opts ...hertzconfig.Option) *server.Hertz {
		return a.router.Build(addr, opts...)
	})
	a.bootstrap.Logger.Info("执行服务启动", "addr", addr, "max_concurrent", a.bootstrap.Config.Executor.MaxConcurrent)
	return a.hertz.Run()
}

// Shutdown 停止接收请求，终止运行中的子进程，关闭会话日志
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if a.otel != nil {
		_ = a.otel(ctx)
	}
	close(a.stopCh)
	a.wg.Wait()
	if err := a.svc.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
