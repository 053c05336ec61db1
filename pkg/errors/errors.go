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

// Package errors 提供统一错误分类，不依赖 internal
package errors

import (
	"errors"
	"fmt"
)

// 哨兵错误；HTTP 层按此映射状态码
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArg        = errors.New("invalid argument")
	ErrConflict          = errors.New("conflict")
	ErrTransient         = errors.New("transient")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrWebhookAuth       = errors.New("invalid webhook signature")
)

// 终态失败原因，写入 error_message
const (
	ReasonRestartExecutor   = "interrupted by restart"
	ReasonRestartBackend    = "interrupted by backend restart"
	ReasonProcessingTimeout = "processing timeout"
	ReasonCancelledByUser   = "cancelled by user"
	ReasonPaymentTimeout    = "payment timeout"
	ReasonUnknownStatus     = "unknown status"
)

// ValidationError 入参校验失败；永远不会入队
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// Is 使 errors.Is(err, ErrInvalidArg) 成立
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidArg
}

// Validation 构造 ValidationError
func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// TransientError 网络/超时类错误，调用方不应据此改变状态
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// Transient 包装为 TransientError；err 为 nil 时返回 nil
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// AgentFailure 执行代理明确报告的失败，Message 原样保留
type AgentFailure struct {
	Message string
}

func (e *AgentFailure) Error() string { return e.Message }

// IsTransient 判断是否为瞬时错误
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// Is 透传标准库 errors.Is
func Is(err, target error) bool { return errors.Is(err, target) }

// As 透传标准库 errors.As
func As(err error, target interface{}) bool { return errors.As(err, target) }

// New 透传标准库 errors.New
func New(msg string) error { return errors.New(msg) }

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
