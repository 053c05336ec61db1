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

package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"upvote-platform/internal/order"
	pkgerrors "upvote-platform/pkg/errors"
	"upvote-platform/pkg/log"
)

// maxOutputInError 解析失败时保留的 stdout/stderr 长度
const maxOutputInError = 500

// SubprocessConfig bot 子进程配置：<Python> <Script> --json-mode，请求经 stdin 传入
type SubprocessConfig struct {
	Python  string
	Script  string
	WorkDir string
	Timeout time.Duration // 硬超时，<=0 时默认 2h
	Env     []string
}

// Outcome 子进程给出的结论；Status 为 completed | failed | running
type Outcome struct {
	Status string
	Error  string
	Done   int
}

// verdict bot 在 stdout 输出的 JSON
type verdict struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Error   string `json:"error"`
	Done    int    `json:"upvotes_done"`
}

// SubprocessAdapter 在本机运行 bot；同时被执行服务与商务服务的 subprocess 模式使用
type SubprocessAdapter struct {
	config SubprocessConfig
	logger *log.Logger
}

// NewSubprocessAdapter 创建子进程适配器
func NewSubprocessAdapter(config SubprocessConfig, logger *log.Logger) *SubprocessAdapter {
	if config.Python == "" {
		config.Python = "python3"
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Hour
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &SubprocessAdapter{config: config, logger: logger}
}

// Run 运行一次 bot 并把输出归约为 Outcome；不会返回错误，所有异常都成为 failed
func (a *SubprocessAdapter) Run(ctx context.Context, req DispatchRequest) Outcome {
	payload, err := json.Marshal(req)
	if err != nil {
		return Outcome{Status: SessionFailed, Error: err.Error()}
	}
	// 上层 ctx 的截止时间更早时以它为准，超时信息报告实际生效的时长
	limit := a.config.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < limit {
			limit = left
		}
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.config.Python, a.config.Script, "--json-mode")
	cmd.Dir = a.config.WorkDir
	if len(a.config.Env) > 0 {
		cmd.Env = append(cmd.Environ(), a.config.Env...)
	}
	cmd.Stdin = bytes.NewReader(payload)
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		limit = limit.Round(time.Millisecond)
		a.logger.Warn("bot 执行超时", "order_id", req.OrderID, "timeout", limit)
		return Outcome{Status: SessionFailed, Error: fmt.Sprintf("execution timed out after %s", limit)}
	}
	var execErr *exec.Error
	if errors.As(runErr, &execErr) {
		return Outcome{Status: SessionFailed, Error: fmt.Sprintf("failed to start bot: %v", runErr)}
	}

	v, perr := parseVerdict(stdout.Bytes())
	if perr != nil {
		a.logger.Error("bot 输出解析失败", "order_id", req.OrderID, "exit_error", runErr, "error", perr)
		return Outcome{
			Status: SessionFailed,
			Error: fmt.Sprintf("failed to parse bot output: %v; stderr: %s; stdout: %s",
				perr, truncate(stderr.String()), truncate(stdout.String())),
		}
	}
	out := mapVerdict(v)
	a.logger.Info("bot 执行结束", "order_id", req.OrderID, "status", out.Status, "elapsed", time.Since(start))
	return out
}

// Dispatch 实现 order.Dispatcher
func (a *SubprocessAdapter) Dispatch(ctx context.Context, o *order.Order) order.Result {
	out := a.Run(ctx, DispatchRequest{
		OrderID:         o.ID,
		TargetReference: o.TargetReference,
		Quantity:        o.Quantity,
		Rate:            o.Rate,
	})
	return OutcomeResult(out)
}

// OutcomeResult 会话结论映射为订单结果：running → processing
func OutcomeResult(out Outcome) order.Result {
	switch out.Status {
	case SessionCompleted:
		return order.Result{Status: order.StatusCompleted}
	case SessionRunning:
		return order.Result{Status: order.StatusProcessing}
	default:
		return order.Result{Status: order.StatusFailed, Error: out.Error}
	}
}

func mapVerdict(v verdict) Outcome {
	switch {
	case v.Success && v.Status == SessionCompleted:
		return Outcome{Status: SessionCompleted, Done: v.Done}
	case v.Status == SessionFailed:
		msg := v.Error
		if msg == "" {
			msg = "bot reported failure"
		}
		return Outcome{Status: SessionFailed, Error: msg, Done: v.Done}
	case v.Status == SessionRunning:
		return Outcome{Status: SessionRunning, Done: v.Done}
	default:
		return Outcome{Status: SessionFailed, Error: "bot execution completed with " + pkgerrors.ReasonUnknownStatus}
	}
}

// parseVerdict 优先整体解析；bot 混入日志时取最后一行 JSON
func parseVerdict(out []byte) (verdict, error) {
	var v verdict
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return v, errors.New("empty output")
	}
	err := json.Unmarshal(trimmed, &v)
	if err == nil {
		return v, nil
	}
	lines := strings.Split(string(trimmed), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		if json.Unmarshal([]byte(line), &v) == nil {
			return v, nil
		}
	}
	return verdict{}, err
}

func truncate(s string) string {
	if len(s) <= maxOutputInError {
		return s
	}
	return s[:maxOutputInError] + "..."
}
