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
// Package api 商务服务装配：账本、派发 worker 池、对账、支付与自动订单
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/jackc/pgx/v5/pgxpool"

	"upvote-platform/internal/api/http"
	"upvote-platform/internal/api/http/middleware"
	"upvote-platform/internal/app"
	"upvote-platform/internal/autoorder"
	"upvote-platform/internal/billing"
	"upvote-platform/internal/execution"
	"upvote-platform/internal/order"
	"upvote-platform/internal/reconcile"
	"upvote-platform/internal/settings"
	"upvote-platform/internal/storage/postgres"
	"upvote-platform/pkg/config"
	"upvote-platform/pkg/log"
)

// stores 账本与账户、支付、自动订单的存储；memory 或同一个 Postgres 库
type stores struct {
	pg        *pgxpool.Pool
	ledger    order.Ledger
	billing   billing.Store
	autoOrder autoorder.Store
}

func openStores(ctx context.Context, cfg config.LedgerConfig) (*stores, error) {
	switch cfg.Type {
	case "", "memory":
		return &stores{
			ledger:    order.NewLedgerMem(),
			billing:   billing.NewStoreMem(),
			autoOrder: autoorder.NewStoreMem(),
		}, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("ledger.dsn is required when ledger.type=postgres")
		}
		pool, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("连接 Postgres 失败: %w", err)
		}
		s := &stores{pg: pool}
		if s.ledger, err = order.NewLedgerPg(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		if s.billing, err = billing.NewStorePg(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		if s.autoOrder, err = autoorder.NewStorePg(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported ledger type: %s", cfg.Type)
	}
}

// dispatchSetup 按 execution.mode 组装派发器与 worker 池配置。
// remote 模式下 execution.timeout 约束单次 HTTP 派发；subprocess 模式下 bot 只受 executor.timeout 硬超时约束，池不再叠加 ctx 超时
func dispatchSetup(cfg *config.Config, logger *log.Logger) (order.Dispatcher, *execution.Client, order.PoolConfig, error) {
	poolCfg := order.PoolConfig{Workers: cfg.Dispatch.Workers}
	switch cfg.Execution.Mode {
	case "", "remote":
		execTimeout := config.ParseDuration(cfg.Execution.Timeout, 60*time.Second)
		client := execution.NewClient(cfg.Execution.BaseURL, execTimeout)
		poolCfg.DispatchTimeout = execTimeout
		return execution.NewRemoteAdapter(client), client, poolCfg, nil
	case "subprocess":
		return execution.NewSubprocessAdapter(execution.SubprocessConfig{
			Python:  cfg.Execution.Python,
			Script:  cfg.Execution.Script,
			WorkDir: cfg.Execution.WorkDir,
			Timeout: config.ParseDuration(cfg.Executor.Timeout, 2*time.Hour),
		}, logger), nil, poolCfg, nil
	default:
		return nil, nil, poolCfg, fmt.Errorf("unsupported execution mode: %s", cfg.Execution.Mode)
	}
}

// App 商务服务
type App struct {
	bootstrap  *app.Bootstrap
	stores     *stores
	queue      *order.Queue
	pool       *order.Pool
	sweeper    *order.Sweeper
	reconciler *reconcile.Reconciler
	billing    *billing.Service
	autoOrders *autoorder.Service
	router     *http.Router
	hertz      *server.Hertz
	otel       app.ShutdownFunc
	cancel     context.CancelFunc
}

// NewApp 装配商务服务（由 cmd/api 调用）
func NewApp(ctx context.Context, bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config
	logger := bootstrap.Logger

	st, err := openStores(ctx, cfg.Ledger)
	if err != nil {
		return nil, err
	}
	a := &App{bootstrap: bootstrap, stores: st}

	limits := settings.Static(settings.FromConfig(cfg.Limits))
	a.queue = order.NewQueue(cfg.Dispatch.QueueSize)
	orders := order.NewService(st.ledger, a.queue, limits, st.billing, cfg.Dispatch.UnitPrice, logger)

	dispatcher, client, poolCfg, err := dispatchSetup(cfg, logger)
	if err != nil {
		a.closeStores()
		return nil, err
	}
	if client != nil {
		orders.SetCanceller(client)
	}
	a.pool = order.NewPool(st.ledger, a.queue, dispatcher, poolCfg, logger)
	a.sweeper = order.NewSweeper(st.ledger, a.queue, a.pool, order.SweepConfig{
		StuckPending:      config.ParseDuration(cfg.Dispatch.StuckPending, 10*time.Minute),
		ProcessingCeiling: config.ParseDuration(cfg.Dispatch.ProcessingCeiling, time.Hour),
		Interval:          config.ParseDuration(cfg.Dispatch.SweepInterval, time.Minute),
	}, logger)

	handler := http.NewHandler(orders, limits, logger)
	handler.SetDispatch(a.queue, a.pool)

	// 子进程模式下没有可查询的执行服务
	if client != nil && config.Enabled(cfg.Reconcile.Enabled, true) {
		a.reconciler = reconcile.NewReconciler(st.ledger, client, a.pool,
			config.ParseDuration(cfg.Reconcile.Interval, time.Minute), logger)
		handler.SetReconciler(a.reconciler)
	}

	apiKey, err := bootstrap.Secret(ctx, cfg.Payment.APIKey)
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("解析支付密钥失败: %w", err)
	}
	verifier := billing.NewVerifier(apiKey)
	var invoicer billing.Invoicer
	if cfg.Payment.BaseURL != "" {
		invoicer = billing.NewProvider(cfg.Payment.BaseURL, cfg.Payment.MerchantID, verifier, 30*time.Second)
	} else {
		logger.Warn("未配置支付商地址，创建支付将失败")
	}
	a.billing = billing.NewService(st.billing, verifier, invoicer, billing.Config{
		Currency:       cfg.Payment.Currency,
		CallbackURL:    cfg.Payment.CallbackURL,
		PendingTimeout: config.ParseDuration(cfg.Payment.PendingTimeout, time.Hour),
		SweepInterval:  config.ParseDuration(cfg.Payment.SweepInterval, 5*time.Minute),
	}, logger)
	handler.SetBilling(a.billing)

	if config.Enabled(cfg.AutoOrder.Enabled, true) {
		a.autoOrders = autoorder.NewService(st.autoOrder, orders, limits,
			config.ParseDuration(cfg.AutoOrder.Interval, time.Minute), logger)
		handler.SetAutoOrders(a.autoOrders)
	}

	a.router = http.NewRouter(handler, middleware.NewMiddleware(cfg.API))
	if cfg.API.Middleware.Auth && cfg.API.Middleware.JWTKey != "" {
		jwtAuth, err := middleware.NewJWTAuth(
			[]byte(cfg.API.Middleware.JWTKey),
			config.ParseDuration(cfg.API.Middleware.JWTTimeout, time.Hour),
			config.ParseDuration(cfg.API.Middleware.JWTMaxRefresh, time.Hour),
		)
		if err != nil {
			logger.Warn("JWT 初始化失败，回退到 X-User-ID 身份", "error", err)
		} else {
			a.router.SetJWT(jwtAuth)
		}
	}
	return a, nil
}

func (a *App) closeStores() {
	if a.stores != nil && a.stores.pg != nil {
		a.stores.pg.Close()
	}
}

// Run 启动恢复与后台循环，然后阻塞运行 HTTP 服务
func (a *App) Run(addr string) error {
	logger := a.bootstrap.Logger
	if err := a.bootstrap.SetupHertzLogger(); err != nil {
		return fmt.Errorf("初始化 Hertz 日志失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if _, err := a.sweeper.Recover(ctx); err != nil {
		logger.Error("启动恢复失败", "error", err)
	}
	a.pool.Start(ctx)
	a.sweeper.Start(ctx)
	if a.reconciler != nil {
		a.reconciler.Start(ctx)
	}
	a.billing.Start(ctx)
	if a.autoOrders != nil {
		a.autoOrders.Start(ctx)
	}

	a.hertz, a.otel = a.bootstrap.BuildServer("upvote-api", func(opts ...hertzconfig.Option) *server.Hertz {
		return a.router.Build(addr, opts...)
	})
	logger.Info("商务服务启动", "addr", addr, "execution_mode", a.bootstrap.Config.Execution.Mode)
	return a.hertz.Run()
}

// Shutdown 先停 HTTP 入口，再停后台循环与 worker，最后关闭存储
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
	if a.autoOrders != nil {
		a.autoOrders.Stop()
	}
	a.billing.Stop()
	if a.reconciler != nil {
		a.reconciler.Stop()
	}
	a.sweeper.Stop()
	a.pool.Stop()
	if a.cancel != nil {
		a.cancel()
	}
	a.closeStores()
	return firstErr
}
