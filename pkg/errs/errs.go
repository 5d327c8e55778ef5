// Package errs 定义了应用统一的错误分类，供各层通过 errors.Is/As 判断处理策略。
package errs

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// AuthenticationError 表示当前请求没有有效的登录用户。
// 该类错误对本次操作是致命的，不会被重试。
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	if e.Reason == "" {
		return "authentication required"
	}
	return "authentication required: " + e.Reason
}

// NewAuthError 创建一个 AuthenticationError。
func NewAuthError(reason string) error {
	return &AuthenticationError{Reason: reason}
}

// NetworkError 表示连接或传输层故障，属于可重试类错误。
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NewNetworkError 包装一个底层传输错误。
func NewNetworkError(op string, err error) error {
	return &NetworkError{Op: op, Err: err}
}

// ProtocolError 表示远端任务进入了不可恢复的终止状态（failed / requires_action）。
// 该类错误不可重试，对用户呈现为“助手暂不可用”。
type ProtocolError struct {
	Status string
}

func (e *ProtocolError) Error() string {
	return "assistant run ended in status " + e.Status
}

// NewProtocolError 根据远端状态创建一个 ProtocolError。
func NewProtocolError(status string) error {
	return &ProtocolError{Status: status}
}

// ValidationError 表示调用方输入无效（空内容、缺少会话等），静默忽略而不上抛给用户。
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + e.Reason
}

// NewValidationError 创建一个 ValidationError。
func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsAuth 判断错误是否为认证类错误。
func IsAuth(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// IsValidation 判断错误是否为输入校验类错误。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsProtocol 判断错误是否为远端协议类错误。
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// Retryable 是默认的重试判定：连接类故障与响应体复用错误可重试，
// 认证、协议和校验类错误不重试。
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	// http.Client 复用已关闭响应体时的典型报错，等价于前端 fetch 的
	// "body stream already read"，重试一次通常即可恢复。
	if strings.Contains(msg, "read on closed response body") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unexpected EOF") {
		return true
	}
	return false
}
