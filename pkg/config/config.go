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

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 商务服务（cmd/api）与执行服务（cmd/executor）共用的配置结构；各进程只读取自己关心的段
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Payment    PaymentConfig    `mapstructure:"payment"`
	AutoOrder  AutoOrderConfig  `mapstructure:"auto_order"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Settings   SettingsConfig   `mapstructure:"settings"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	History    HistoryConfig    `mapstructure:"history"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type MiddlewareConfig struct {
	Auth          bool   `mapstructure:"auth"`
	RateLimit     bool   `mapstructure:"rate_limit"`
	RateLimitRPS  int    `mapstructure:"rate_limit_rps"`
	JWTKey        string `mapstructure:"jwt_key"`
	JWTTimeout    string `mapstructure:"jwt_timeout"`     // 如 "1h"
	JWTMaxRefresh string `mapstructure:"jwt_max_refresh"` // 如 "1h"
}

// LedgerConfig 订单/账户/支付/自动订单共用的存储
type LedgerConfig struct {
	Type string `mapstructure:"type"` // memory | postgres
	DSN  string `mapstructure:"dsn"`  // Postgres 连接串，type=postgres 时必填
}

type DispatchConfig struct {
	Workers           int     `mapstructure:"workers"`            // <=0 使用默认 4
	QueueSize         int     `mapstructure:"queue_size"`         // <=0 使用默认 256
	StuckPending      string  `mapstructure:"stuck_pending"`      // pending 超过此时长重新入队，默认 10m
	ProcessingCeiling string  `mapstructure:"processing_ceiling"` // in-progress 超过此时长判失败，默认 1h
	SweepInterval     string  `mapstructure:"sweep_interval"`     // 扫描周期，默认 1m
	UnitPrice         float64 `mapstructure:"unit_price"`         // 每单位价格，默认 0.008
}

type ExecutionConfig struct {
	Mode    string `mapstructure:"mode"`     // remote | subprocess
	BaseURL string `mapstructure:"base_url"` // mode=remote 时执行服务地址
	Timeout string `mapstructure:"timeout"`  // 单次调用超时
	Python  string `mapstructure:"python"`
	Script  string `mapstructure:"script"`
	WorkDir string `mapstructure:"work_dir"`
}

type ReconcileConfig struct {
	Enabled  *bool  `mapstructure:"enabled"` // 未配置时默认 true
	Interval string `mapstructure:"interval"`
}

type PaymentConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	MerchantID     string `mapstructure:"merchant_id"`
	APIKey         string `mapstructure:"api_key"` // 明文、${ENV} 或 secret:<key>
	CallbackURL    string `mapstructure:"callback_url"`
	Currency       string `mapstructure:"currency"`
	PendingTimeout string `mapstructure:"pending_timeout"` // 默认 1h
	SweepInterval  string `mapstructure:"sweep_interval"`  // 默认 5m
}

type AutoOrderConfig struct {
	Enabled  *bool  `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"` // 默认 1m
}

// LimitsConfig 下单数量与速率边界
type LimitsConfig struct {
	MinQuantity int `mapstructure:"min_quantity"`
	MaxQuantity int `mapstructure:"max_quantity"`
	MinRate     int `mapstructure:"min_rate"`
	MaxRate     int `mapstructure:"max_rate"`
}

// SettingsConfig 执行服务从商务服务拉取 limits
type SettingsConfig struct {
	URL string `mapstructure:"url"`
	TTL string `mapstructure:"ttl"` // 默认 5m
}

type ExecutorConfig struct {
	Port          int    `mapstructure:"port"`
	MaxConcurrent int    `mapstructure:"max_concurrent"` // 同时运行的会话上限
	Timeout       string `mapstructure:"timeout"`        // 单个会话子进程超时
}

type HistoryConfig struct {
	Type       string `mapstructure:"type"` // sqlite | redis | memory
	Path       string `mapstructure:"path"`
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	Retention  string `mapstructure:"retention"`   // 默认 720h
	GCInterval string `mapstructure:"gc_interval"` // 默认 24h
}

type SecretsConfig struct {
	Provider  string            `mapstructure:"provider"`   // env | memory | vault
	EnvPrefix string            `mapstructure:"env_prefix"` // env 模式下优先查找的变量前缀
	Values    map[string]string `mapstructure:"values"`     // memory 模式的凭据表
	Vault     VaultConfig       `mapstructure:"vault"`
}

type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	PathPrefix string `mapstructure:"path_prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8000)
	v.SetDefault("ledger.type", "memory")
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("dispatch.stuck_pending", "10m")
	v.SetDefault("dispatch.processing_ceiling", "1h")
	v.SetDefault("dispatch.sweep_interval", "1m")
	v.SetDefault("dispatch.unit_price", 0.008)
	v.SetDefault("execution.mode", "remote")
	v.SetDefault("execution.base_url", "http://localhost:8001")
	v.SetDefault("execution.timeout", "60s")
	v.SetDefault("execution.python", "python3")
	v.SetDefault("reconcile.interval", "1m")
	v.SetDefault("payment.pending_timeout", "1h")
	v.SetDefault("payment.sweep_interval", "5m")
	v.SetDefault("payment.currency", "USD")
	v.SetDefault("auto_order.interval", "1m")
	v.SetDefault("limits.min_quantity", 1)
	v.SetDefault("limits.max_quantity", 1000)
	v.SetDefault("limits.min_rate", 1)
	v.SetDefault("limits.max_rate", 60)
	v.SetDefault("settings.ttl", "5m")
	v.SetDefault("executor.port", 8001)
	v.SetDefault("executor.max_concurrent", 8)
	v.SetDefault("executor.timeout", "2h")
	v.SetDefault("history.type", "sqlite")
	v.SetDefault("history.path", "data/order_history.db")
	v.SetDefault("history.retention", "720h")
	v.SetDefault("history.gc_interval", "24h")
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig 从文件加载配置；环境变量覆盖（"." 替换为 "_"），${VAR} 形式的值在解析后展开
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// replaceEnvVars 替换配置中 ${VAR} 形式的敏感字段
func replaceEnvVars(config *Config) {
	for _, p := range []*string{
		&config.Ledger.DSN,
		&config.API.Middleware.JWTKey,
		&config.Payment.APIKey,
		&config.Payment.MerchantID,
		&config.History.Password,
		&config.Secrets.Vault.Token,
	} {
		*p = expandEnv(*p)
	}
}

func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	envVar := strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return s
}

// configPath CONFIG_PATH 优先，否则使用默认路径
func configPath(def string) string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return def
}

// LoadAPIConfig 加载商务服务配置（configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig(configPath("configs/api.yaml"))
}

// LoadExecutorConfig 加载执行服务配置（configs/executor.yaml）
func LoadExecutorConfig() (*Config, error) {
	return LoadConfig(configPath("configs/executor.yaml"))
}

// ParseDuration 解析时长字符串，无效、空或非正时返回 defaultVal
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// Enabled 解析可选开关，未配置时返回 def
func Enabled(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
